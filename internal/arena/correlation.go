package arena

import (
	"sort"
	"strings"
)

// Families maps a family name to the keywords that put a market in it.
// Matching runs on the market question, case-insensitive substring, so
// "Will Bitcoin close above $100k?" and "BTC above 100000 by June?" land in
// the same family and share one exposure bucket.
type Families struct {
	keywords map[string][]string
}

// DefaultFamilies covers the clusters that historically move together.
func DefaultFamilies() map[string][]string {
	return map[string][]string{
		"btc":   {"bitcoin", "btc"},
		"eth":   {"ethereum", "eth"},
		"trump": {"trump", "truth social"},
	}
}

// NewFamilies builds a matcher from the config correlation table, falling
// back to the defaults when the table is empty. Keywords are lowercased
// once here.
func NewFamilies(custom map[string][]string) *Families {
	src := custom
	if len(src) == 0 {
		src = DefaultFamilies()
	}
	kw := make(map[string][]string, len(src))
	for fam, words := range src {
		lowered := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				lowered = append(lowered, w)
			}
		}
		if len(lowered) > 0 {
			kw[strings.ToLower(fam)] = lowered
		}
	}
	return &Families{keywords: kw}
}

// Match returns the families whose keywords appear in the question, sorted
// for determinism. A question matching no family returns nil.
func (f *Families) Match(question string) []string {
	q := strings.ToLower(question)
	var hits []string
	for fam, words := range f.keywords {
		for _, w := range words {
			if strings.Contains(q, w) {
				hits = append(hits, fam)
				break
			}
		}
	}
	sort.Strings(hits)
	return hits
}
