package inventory

import (
	"strconv"
	"strings"
)

// CanonicalNewCondition is the stored spelling of "zero km" (brand new).
const CanonicalNewCondition = "אפס ק״מ"

// conditionVariants maps spellings the CRM emits to the canonical value. The
// gershayim is often typed as an ASCII quote, as two gereshes, or dropped.
var conditionVariants = map[string]string{
	"אפס ק״מ":  CanonicalNewCondition,
	"אפס ק\"מ": CanonicalNewCondition,
	"אפס ק׳׳מ": CanonicalNewCondition,
	"אפס ק''מ": CanonicalNewCondition,
	"אפס קמ":   CanonicalNewCondition,
}

// NormalizeCondition maps known variants to their canonical string. Any other
// value is returned verbatim.
func NormalizeCondition(condition string) string {
	if canonical, ok := conditionVariants[strings.TrimSpace(condition)]; ok {
		return canonical
	}
	return condition
}

// handOrdinals are the feminine Hebrew ordinals used for ownership count
// ("first hand", "second hand", ...).
var handOrdinals = map[string]int{
	"ראשונה": 1,
	"שנייה":  2,
	"שניה":   2,
	"שלישית": 3,
	"רביעית": 4,
	"חמישית": 5,
	"שישית":  6,
	"ששית":   6,
	"שביעית": 7,
	"שמינית": 8,
	"תשיעית": 9,
	"עשירית": 10,
}

// HandFromText converts an ownership count given as text. Ordinal words are
// looked up first, then the text is parsed as a plain integer.
func HandFromText(text string) (int, bool) {
	trimmed := strings.TrimSpace(text)
	if n, ok := handOrdinals[trimmed]; ok {
		return n, true
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
