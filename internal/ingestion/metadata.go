package ingestion

import (
	"net/url"
	"strings"
)

// knownLanguages maps URL path segments and subdomain labels that mark a page
// language to the canonical language code stored on chunks.
var knownLanguages = map[string]string{
	"ar":    "ar",
	"ar-ps": "ar",
	"ar-sa": "ar",
	"ara":   "ar",
	"en":    "en",
	"en-us": "en",
	"en-gb": "en",
	"eng":   "en",
	"fr":    "fr",
	"fr-fr": "fr",
}

// CanonicalLanguage normalises a language code to the form stored on chunks.
// Regional variants listed in knownLanguages map to their base code, as do
// unlisted "xx-YY" and "xx_YY" tags. Anything else is returned lowercased.
func CanonicalLanguage(code string) string {
	code = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	if canonical, ok := knownLanguages[code]; ok {
		return canonical
	}
	if base, _, found := strings.Cut(code, "-"); found {
		if canonical, ok := knownLanguages[base]; ok {
			return canonical
		}
	}
	return code
}

// InferLanguage inspects a source document URL and returns the language code
// the page is published in, or "" when the URL carries no language marker.
// It is the fallback for source records scraped without a "lang" field.
//
// Supported URL patterns, checked in order:
//
//	https://example.org/ar/about           path segment
//	https://example.org/page?lang=en       lang / hl query parameter
//	https://ar.example.org/about           leading subdomain label
func InferLanguage(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	for _, seg := range trimSegments(strings.ToLower(parsed.Path)) {
		if code, ok := knownLanguages[seg]; ok {
			return code
		}
	}

	q := parsed.Query()
	for _, key := range []string{"lang", "hl"} {
		if code, ok := knownLanguages[strings.ToLower(q.Get(key))]; ok {
			return code
		}
	}

	host := strings.ToLower(parsed.Hostname())
	if label, _, found := strings.Cut(host, "."); found {
		if code, ok := knownLanguages[label]; ok {
			return code
		}
	}

	return ""
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
