package urlutil

import (
	"fmt"
	"regexp"
)

// DefaultProductPatterns match the product detail pages of the common
// marketplaces and shop engines.
var DefaultProductPatterns = []string{
	`/(dp|gp/product)/[A-Z0-9]{10}`,
	`/(products?|item|itm|goods|offer)/[^/?#]+`,
	`(?i)[?&](id|item_?id|product_?id|sku)=[^&]+`,
	`(?i)/detail(\.html?|/)`,
	`-p-\d+\.html?$`,
}

// Matcher decides whether an address is a collectible product page.
type Matcher struct {
	patterns []*regexp.Regexp
}

// NewMatcher compiles the given patterns; an empty list falls back to DefaultProductPatterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultProductPatterns
	}
	m := &Matcher{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile target pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether address matches any pattern.
func (m *Matcher) Match(address string) bool {
	for _, re := range m.patterns {
		if re.MatchString(address) {
			return true
		}
	}
	return false
}
