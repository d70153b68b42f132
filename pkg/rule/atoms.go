package rule

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// MaxAtomLen bounds the length of an anchor atom.
const MaxAtomLen = 16

// minKeywordLen is the shortest literal worth gating an unanchored pattern on.
const minKeywordLen = 2

// computeAtoms fills in the anchor atoms of every encoding variant of p, or
// the keywords gating p when no anchor exists.
func computeAtoms(p *types.Pattern) {
	p.Atoms, p.Keywords = nil, nil

	switch p.Kind {
	case types.PatternText:
		for _, enc := range p.Modifiers.Variants() {
			lit := p.Text
			if enc == types.EncodingWide {
				lit = types.Widen(lit)
			}
			p.Atoms = append(p.Atoms, types.Atom{
				Bytes:    bytes.Clone(lit[:min(len(lit), MaxAtomLen)]),
				Nocase:   p.Modifiers.Nocase,
				Encoding: enc,
			})
		}

	case types.PatternHex:
		if run, off := hexFixedRun(p.Hex); len(run) > 0 {
			p.Atoms = []types.Atom{{Bytes: run, Offset: off}}
			return
		}
		if run := hexLongestRun(p.Hex); len(run) >= minKeywordLen {
			p.Keywords = [][]byte{run}
		}

	case types.PatternRegex:
		nocase := p.Modifiers.Nocase || p.Flags.CaseInsensitive
		if prefix := regexPrefix(p.Regex, nocase); len(prefix) > 0 {
			p.Atoms = []types.Atom{{Bytes: prefix, Nocase: nocase}}
			return
		}
		if !nocase {
			p.Keywords = regexKeywords(p.Regex)
		}
	}
}

// hexFixedRun returns the longest exact byte run among the tokens that sit
// at a fixed distance from the pattern start, with that distance.
func hexFixedRun(tokens []types.HexToken) ([]byte, int) {
	var best, run []byte
	bestOff, runOff, off := 0, 0, 0

	flush := func() {
		if len(run) > len(best) {
			best, bestOff = run, runOff
		}
		run = nil
	}

loop:
	for _, t := range tokens {
		switch t.Kind {
		case types.HexByte:
			if !t.Exact() {
				flush()
				off++
				continue
			}
			if run == nil {
				runOff = off
			}
			run = append(run, t.Value)
			if len(run) == MaxAtomLen {
				flush()
			}
			off++
		case types.HexJump:
			flush()
			if t.Min != t.Max {
				break loop
			}
			off += t.Min
		case types.HexAlt:
			flush()
			n := types.FixedLength([]types.HexToken{t})
			if n < 0 {
				break loop
			}
			off += n
		}
	}
	flush()
	return best, bestOff
}

// hexLongestRun returns the longest exact top-level byte run anywhere in
// the pattern.
func hexLongestRun(tokens []types.HexToken) []byte {
	var best, run []byte
	for _, t := range tokens {
		if t.Exact() {
			run = append(run, t.Value)
			if len(run) > len(best) {
				best = run
			}
			if len(run) == MaxAtomLen {
				run = nil
			}
			continue
		}
		run = nil
	}
	return bytes.Clone(best)
}

const regexMeta = `.[]()*+?{}|^$`

// regexLiteral decodes the literal byte at expr[i]. ok is false when the
// element there is not a single literal byte.
func regexLiteral(expr string, i int) (b byte, n int, ok bool) {
	c := expr[i]
	if c != '\\' {
		if strings.IndexByte(regexMeta, c) >= 0 {
			return 0, 0, false
		}
		return c, 1, true
	}
	if i+1 >= len(expr) {
		return 0, 0, false
	}
	switch e := expr[i+1]; {
	case e == 'x':
		if i+4 > len(expr) {
			return 0, 0, false
		}
		v, err := strconv.ParseUint(expr[i+2:i+4], 16, 8)
		if err != nil {
			return 0, 0, false
		}
		return byte(v), 4, true
	case e == 'n':
		return '\n', 2, true
	case e == 't':
		return '\t', 2, true
	case e == 'r':
		return '\r', 2, true
	case strings.IndexByte(regexMeta+`\/-`, e) >= 0:
		return e, 2, true
	}
	return 0, 0, false
}

// regexPrefix returns the literal bytes every match of expr begins with.
// Expressions with a top-level alternation have no common prefix here.
// With nocase the prefix stops at the first non-ASCII byte, since atoms
// are only case folded over ASCII.
func regexPrefix(expr string, nocase bool) []byte {
	if len(topLevelBranches(expr)) > 1 {
		return nil
	}

	var out []byte
	for i := 0; i < len(expr) && len(out) < MaxAtomLen; {
		b, n, ok := regexLiteral(expr, i)
		if !ok || (nocase && b >= 0x80) {
			break
		}
		i += n
		if i < len(expr) {
			switch expr[i] {
			case '*', '?':
				return out
			case '{':
				if i+1 < len(expr) && expr[i+1] >= '1' && expr[i+1] <= '9' {
					return append(out, b)
				}
				return out
			case '+':
				return append(out, b)
			}
		}
		out = append(out, b)
	}
	return out
}

// regexKeywords returns literals of which at least one must occur in any
// input the expression matches, or nil when none can be derived.
func regexKeywords(expr string) [][]byte {
	branches := topLevelBranches(expr)
	var keywords [][]byte
	for _, br := range branches {
		br = strings.TrimPrefix(br, "^")
		kw := regexPrefix(br, false)
		if len(kw) < minKeywordLen {
			return nil
		}
		keywords = append(keywords, kw)
	}
	return keywords
}

// topLevelBranches splits expr on '|' outside groups and classes.
func topLevelBranches(expr string) []string {
	var branches []string
	depth, start := 0, 0
	inClass := false
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '|' && depth == 0:
			branches = append(branches, expr[start:i])
			start = i + 1
		}
	}
	return append(branches, expr[start:])
}
