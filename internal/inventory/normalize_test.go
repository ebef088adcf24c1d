package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "canonical", in: "אפס ק״מ", want: CanonicalNewCondition},
		{name: "missing gershayim", in: "אפס קמ", want: CanonicalNewCondition},
		{name: "ascii quote", in: "אפס ק\"מ", want: CanonicalNewCondition},
		{name: "surrounding spaces", in: "  אפס קמ ", want: CanonicalNewCondition},
		{name: "other value verbatim", in: "משומש", want: "משומש"},
		{name: "other value keeps spaces", in: " יד שנייה ", want: " יד שנייה "},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeCondition(tc.in))
		})
	}
}

func TestHandFromText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{in: "ראשונה", want: 1, wantOK: true},
		{in: "שנייה", want: 2, wantOK: true},
		{in: "שניה", want: 2, wantOK: true},
		{in: "שלישית", want: 3, wantOK: true},
		{in: "עשירית", want: 10, wantOK: true},
		{in: " רביעית ", want: 4, wantOK: true},
		{in: "7", want: 7, wantOK: true},
		{in: "12", want: 12, wantOK: true},
		{in: "הרבה", wantOK: false},
		{in: "", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := HandFromText(tc.in)
		require.Equal(t, tc.wantOK, ok, "input %q", tc.in)
		if tc.wantOK {
			require.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}

func TestImageRequestIsInline(t *testing.T) {
	t.Parallel()

	require.True(t, ImageRequest{URL: "data:image/png;base64,AAAA"}.IsInline())
	require.True(t, ImageRequest{URL: " DATA:image/jpeg;base64,AAAA"}.IsInline())
	require.False(t, ImageRequest{URL: "https://cdn.example.com/a.jpg"}.IsInline())
}
