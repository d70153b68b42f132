package rule

import (
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// ValidateRule checks a compiled rule for internal consistency: pattern
// indices, condition references and StructuralID.
func ValidateRule(r *types.Rule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("rule %s has no condition", r.ID())
	}

	for i, p := range r.Patterns {
		if p.Index != i {
			return fmt.Errorf("rule %s: pattern %s has index %d, expected %d", r.ID(), p.ID, p.Index, i)
		}
		if err := checkPattern(p); err != nil {
			return fmt.Errorf("rule %s: pattern %s: %w", r.ID(), p.ID, err)
		}
	}

	var refErr error
	r.Condition.Walk(func(n *types.Node) {
		if refErr != nil {
			return
		}
		switch n.Op {
		case types.OpFound, types.OpCount, types.OpOffset, types.OpLength, types.OpAt, types.OpIn:
			if n.Pattern != types.CurrentPattern && (n.Pattern < 0 || n.Pattern >= len(r.Patterns)) {
				refErr = fmt.Errorf("rule %s references pattern #%d of %d", r.ID(), n.Pattern, len(r.Patterns))
			}
		case types.OpOf, types.OpForOf:
			for _, i := range n.Set {
				if i < 0 || i >= len(r.Patterns) {
					refErr = fmt.Errorf("rule %s references pattern #%d of %d", r.ID(), i, len(r.Patterns))
				}
			}
		}
	})
	if refErr != nil {
		return refErr
	}

	expectedID := r.ComputeStructuralID()
	if r.StructuralID != "" && r.StructuralID != expectedID {
		return fmt.Errorf("rule %s has inconsistent StructuralID: got %s, expected %s",
			r.ID(), r.StructuralID, expectedID)
	}

	return nil
}

// ValidateRules validates every rule and checks that qualified IDs are
// unique.
func ValidateRules(rules []*types.Rule) error {
	seen := make(map[string]bool)
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
		if seen[r.ID()] {
			return fmt.Errorf("duplicate rule ID: %s", r.ID())
		}
		seen[r.ID()] = true
	}
	return nil
}
