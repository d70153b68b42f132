package rule

import "github.com/praetorian-inc/trawl/pkg/types"

var kindCost = map[types.PatternKind]int{
	types.PatternText:  1,
	types.PatternHex:   2,
	types.PatternRegex: 4,
}

// unanchoredPenalty is added for patterns verified at every input position.
const unanchoredPenalty = 8

// PatternWeight returns the matching cost of a single pattern.
func PatternWeight(p *types.Pattern) int {
	w := kindCost[p.Kind] * len(p.Modifiers.Variants())
	if p.Modifiers.Nocase || p.Flags.CaseInsensitive {
		w *= 2
	}
	if len(p.Atoms) == 0 {
		w += unanchoredPenalty
	}
	return w
}

// RuleWeight returns the cost of a rule: its patterns plus one per
// condition node.
func RuleWeight(r *types.Rule) int {
	w := r.Condition.Size()
	for _, p := range r.Patterns {
		w += PatternWeight(p)
	}
	return w
}

// Weight sums RuleWeight over rules. Every rule weighs at least one, so the
// total grows with each added rule.
func Weight(rules []*types.Rule) int {
	total := 0
	for _, r := range rules {
		total += RuleWeight(r)
	}
	return total
}
