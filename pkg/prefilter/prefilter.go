// Package prefilter decides which unanchored patterns can possibly match an
// input, using one Aho-Corasick pass over their keywords.
package prefilter

import (
	"sort"

	"github.com/cloudflare/ahocorasick"
)

// Gate is a pattern with the keywords of which at least one must occur in
// any input it matches. A gate without keywords always passes.
type Gate struct {
	ID       int
	Keywords [][]byte
}

// Prefilter uses Aho-Corasick for efficient keyword matching.
type Prefilter struct {
	matcher     *ahocorasick.Matcher
	keywords    []string         // keyword at each index
	keywordGate map[string][]int // keyword -> gate IDs needing it
	ungated     []int            // gates without keywords (always checked)
}

// New creates a prefilter from gates.
func New(gates []Gate) *Prefilter {
	pf := &Prefilter{
		keywordGate: make(map[string][]int),
	}

	for _, g := range gates {
		if len(g.Keywords) == 0 {
			pf.ungated = append(pf.ungated, g.ID)
			continue
		}
		for _, kw := range g.Keywords {
			keyword := string(kw)
			if _, ok := pf.keywordGate[keyword]; !ok {
				pf.keywords = append(pf.keywords, keyword)
			}
			pf.keywordGate[keyword] = append(pf.keywordGate[keyword], g.ID)
		}
	}

	if len(pf.keywords) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.keywords)
	}

	return pf
}

// Filter returns, in ascending order, the IDs of gates that might match
// content: gates without keywords and gates with a keyword present.
// Filter is safe for concurrent use.
func (pf *Prefilter) Filter(content []byte) []int {
	result := make([]int, 0, len(pf.ungated))
	result = append(result, pf.ungated...)

	if pf.matcher == nil || len(content) == 0 {
		sort.Ints(result)
		return result
	}

	seen := make(map[int]bool, len(result))
	for _, id := range result {
		seen[id] = true
	}
	for _, hit := range pf.matcher.MatchThreadSafe(content) {
		for _, id := range pf.keywordGate[pf.keywords[hit]] {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}

	sort.Ints(result)
	return result
}

// Len returns the number of distinct keywords.
func (pf *Prefilter) Len() int {
	return len(pf.keywords)
}
