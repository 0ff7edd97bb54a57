package scraper

import (
	"net/url"
	"path"
	"strings"

	"github.com/sells-group/pricewatch/internal/model"
)

// ExcludeMatcher filters scraped listings against competitor-configured
// glob patterns. A pattern matches when it globs the listing's URL path,
// title, or external ID. Patterns without glob metacharacters are treated
// as substring matches.
type ExcludeMatcher struct {
	patterns []string
}

// NewExcludeMatcher lowercases and keeps the given patterns. An empty list
// excludes nothing.
func NewExcludeMatcher(patterns []string) *ExcludeMatcher {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &ExcludeMatcher{patterns: lowered}
}

// Excluded reports whether the listing matches any pattern.
func (m *ExcludeMatcher) Excluded(l model.RawListing) bool {
	if len(m.patterns) == 0 {
		return false
	}
	candidates := []string{
		strings.ToLower(l.Title),
		strings.ToLower(l.ExternalID),
		strings.ToLower(urlPath(l.URL)),
	}
	for _, pattern := range m.patterns {
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if matchGlob(pattern, c) {
				return true
			}
		}
	}
	return false
}

// Filter returns listings not matched by any pattern, preserving order, and
// the count of excluded listings.
func (m *ExcludeMatcher) Filter(listings []model.RawListing) ([]model.RawListing, int) {
	if len(m.patterns) == 0 {
		return listings, 0
	}
	kept := listings[:0]
	excluded := 0
	for _, l := range listings {
		if m.Excluded(l) {
			excluded++
			continue
		}
		kept = append(kept, l)
	}
	return kept, excluded
}

// matchGlob tries a stdlib glob match first; patterns ending in "/*" also
// match deeper paths, and patterns without metacharacters match substrings.
func matchGlob(pattern, s string) bool {
	if ok, _ := path.Match(pattern, s); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if s == prefix || strings.HasPrefix(s, prefix+"/") {
			return true
		}
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.Contains(s, pattern)
	}
	// "*gift-card*" style patterns: path.Match treats "/" specially, so fall
	// back to a contains check on the inner literal.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		inner := strings.Trim(pattern, "*")
		if inner != "" && !strings.ContainsAny(inner, "*?[") {
			return strings.Contains(s, inner)
		}
	}
	return false
}

func urlPath(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
