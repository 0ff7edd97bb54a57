package similarity

import "strings"

// stopWords are excluded from key-term extraction. Tuned for coffee-gear
// product titles.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "new": true, "set": true, "kit": true,
	"pack": true, "per": true, "plus": true, "pro": true,
}

var punctReplacer = strings.NewReplacer(
	",", " ", ".", " ", ";", " ", ":", " ", "!", " ", "?", " ",
	"(", " ", ")", " ", "[", " ", "]", " ", "/", " ", "\\", " ",
	"\"", " ", "'", " ", "&", " ", "-", " ", "_", " ", "+", " ",
)

// keyTerms extracts the lower-cased, punctuation-stripped term set of a
// title, dropping stop words and terms shorter than 3 characters.
func keyTerms(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(punctReplacer.Replace(strings.ToLower(s))) {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		terms[w] = true
	}
	return terms
}

// keyTermOverlap is the Jaccard-style overlap of the two titles' key terms:
// shared terms divided by the size of the smaller set.
func keyTermOverlap(a, b string) float64 {
	ta, tb := keyTerms(a), keyTerms(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	small, large := ta, tb
	if len(tb) < len(ta) {
		small, large = tb, ta
	}
	shared := 0
	for t := range small {
		if large[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// categoryBuckets groups product types into coarse families so that, e.g.,
// "espresso machine" and "semi-automatic espresso machine" score as related.
// Order matters: the first bucket whose keyword matches wins, which keeps
// scoring deterministic for types that mention several families.
var categoryBuckets = []struct {
	name     string
	keywords []string
}{
	{"espresso", []string{"espresso", "portafilter", "group head"}},
	{"grinder", []string{"grinder", "burr", "mill"}},
	{"brewer", []string{"brewer", "drip", "pour over", "pourover", "french press", "aeropress", "percolator"}},
	{"kettle", []string{"kettle"}},
	{"scale", []string{"scale"}},
	{"coffee", []string{"coffee bean", "whole bean", "roasted", "blend"}},
	{"accessory", []string{"tamper", "pitcher", "filter", "cleaning", "descaler", "cup", "mug", "carafe", "accessory"}},
}

// categoryOf returns the coarse bucket for a product type, or "" when no
// bucket keyword matches.
func categoryOf(productType string) string {
	for _, bucket := range categoryBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(productType, kw) {
				return bucket.name
			}
		}
	}
	return ""
}
