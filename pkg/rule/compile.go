// Package rule compiles rule text into rules: lexing, parsing, pattern
// compilation with anchor atoms, semantic checks and weight.
package rule

import (
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/matcher"
	"github.com/praetorian-inc/trawl/pkg/namespace"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Compile parses src and checks the result against the namespace it is
// about to join. Nothing is installed; the caller appends the rules.
func Compile(src []byte, source string, ns *namespace.Namespace) ([]*types.Rule, error) {
	rules, err := Parse(src, source)
	if err != nil {
		return nil, err
	}

	if err := Admit(rules, ns); err != nil {
		return nil, err
	}
	return rules, nil
}

// Admit checks parsed rules against the namespace they are about to join
// and assigns it to them. Names must be new to ns and unique among rules.
func Admit(rules []*types.Rule, ns *namespace.Namespace) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if _, exists := ns.Lookup(r.Name); exists || seen[r.Name] {
			return &types.CompileError{
				Source:  r.Source,
				Line:    r.Line,
				Message: fmt.Sprintf("duplicated identifier %q, already defined in namespace %q", r.Name, ns.Name),
			}
		}
		seen[r.Name] = true
		r.Namespace = ns.Name
	}
	return nil
}

// checkPattern rejects patterns the matcher cannot execute.
func checkPattern(p *types.Pattern) error {
	if p.Kind != types.PatternRegex {
		return nil
	}
	_, err := matcher.CompileRegex(p, false)
	return err
}
