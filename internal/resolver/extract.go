package resolver

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

// PageGetter fetches an HTML document.
type PageGetter interface {
	GetPage(ctx context.Context, url string) ([]byte, error)
}

// downloadURLPattern matches `downloadUrl = "..."` as well as the JSON form
// `"downloadUrl":"..."` that some tenants render instead.
var downloadURLPattern = regexp.MustCompile(`downloadUrl"?\s*[=:]\s*"((?:[^"\\]|\\.)*)"`)

var jsUnescaper = strings.NewReplacer("\\u0026", "&", `\/`, "/", "\\u003d", "=", "\\u002f", "/")

// Extractor pulls the direct download URL out of a file-sharing
// landing page.
type Extractor struct {
	pages PageGetter
}

// NewExtractor builds an Extractor on top of pages.
func NewExtractor(pages PageGetter) *Extractor {
	return &Extractor{pages: pages}
}

// Extract fetches pageURL and returns the embedded download URL.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	body, err := e.pages.GetPage(ctx, pageURL)
	if err != nil {
		return "", &inventory.ExtractionError{URL: pageURL, Reason: "fetch landing page", Err: err}
	}
	found, ok := findDownloadURL(body)
	if !ok {
		return "", &inventory.ExtractionError{URL: pageURL, Reason: "downloadUrl not found in page"}
	}
	u, err := url.Parse(found)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &inventory.ExtractionError{URL: pageURL, Reason: "downloadUrl is not an absolute http url", Err: err}
	}
	return found, nil
}

// findDownloadURL looks inside <script> elements first and falls back to the
// whole document for pages that inline the assignment elsewhere.
func findDownloadURL(body []byte) (string, bool) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		var found string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m, ok := matchDownloadURL(s.Text()); ok {
				found = m
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return matchDownloadURL(string(body))
}

func matchDownloadURL(text string) (string, bool) {
	m := downloadURLPattern.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return jsUnescaper.Replace(m[1]), true
}
