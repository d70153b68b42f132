// Package matcher finds pattern occurrences in byte input. Every pattern
// variant contributes an anchor atom to one multi-pattern automaton; atom
// hits are verified at the implied start. Patterns without an atom are
// gated by their keywords and verified at every position.
package matcher

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/praetorian-inc/trawl/pkg/prefilter"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Matcher scans input for the patterns of a rule set. It never mutates the
// rules and is safe for concurrent use once built.
type Matcher struct {
	cfg     Config
	rules   []*types.Rule
	entries []entry
	atoms   []atomRef
	scanner atomScanner // nil when no pattern has an atom
	gate    *prefilter.Prefilter
}

// entry is one pattern of one rule.
type entry struct {
	rule    int
	pattern *types.Pattern
	re      *compiledRegex
}

// atomRef ties an automaton atom back to the variant it anchors.
type atomRef struct {
	entry    int
	encoding types.Encoding
	literal  []byte // whole variant literal, text patterns only
	offset   int
	length   int
}

// Result holds the occurrences found by one scan, indexed by rule and then
// by pattern position within the rule. Occurrences are ordered by offset.
type Result struct {
	Matches [][][]types.PatternMatch
}

// New builds a matcher for rules. Rule order defines Result indexing.
func New(rules []*types.Rule, cfg Config) (*Matcher, error) {
	cfg = cfg.withDefaults()
	m := &Matcher{cfg: cfg, rules: rules}

	var atoms []types.Atom
	var gates []prefilter.Gate
	for ri, r := range rules {
		for _, p := range r.Patterns {
			e := entry{rule: ri, pattern: p}
			if p.Kind == types.PatternRegex {
				re, err := compileRegexPair(p, cfg.RegexTimeout)
				if err != nil {
					return nil, fmt.Errorf("rule %s: pattern %s: %w", r.ID(), p.ID, err)
				}
				e.re = re
			}

			id := len(m.entries)
			m.entries = append(m.entries, e)

			if len(p.Atoms) == 0 {
				gates = append(gates, prefilter.Gate{ID: id, Keywords: p.Keywords})
				continue
			}
			for _, a := range p.Atoms {
				ref := atomRef{entry: id, encoding: a.Encoding, offset: a.Offset, length: len(a.Bytes)}
				if p.Kind == types.PatternText {
					ref.literal = p.Text
					if a.Encoding == types.EncodingWide {
						ref.literal = types.Widen(p.Text)
					}
				}
				m.atoms = append(m.atoms, ref)
				atoms = append(atoms, a)
			}
		}
	}

	if len(atoms) > 0 {
		scanner, err := newScanner(atoms, cfg)
		if err != nil {
			return nil, err
		}
		m.scanner = scanner
	}
	m.gate = prefilter.New(gates)

	cfg.Logger.Debug().
		Int("rules", len(rules)).
		Int("patterns", len(m.entries)).
		Int("atoms", len(atoms)).
		Int("unanchored", len(gates)).
		Msg("matcher built")

	return m, nil
}

func newScanner(atoms []types.Atom, cfg Config) (atomScanner, error) {
	switch cfg.Engine {
	case EnginePortable:
		return newACScanner(atoms), nil
	case EngineHyperscan:
		return newHyperscanScanner(atoms)
	}

	if hyperscanAvailable() {
		s, err := newHyperscanScanner(atoms)
		if err == nil {
			return s, nil
		}
		cfg.Logger.Warn().Err(err).Msg("hyperscan unavailable, using portable engine")
	}
	return newACScanner(atoms), nil
}

// Rules returns the rules the matcher was built for.
func (m *Matcher) Rules() []*types.Rule {
	return m.rules
}

// Close releases engine resources (e.g., Hyperscan scratch space).
func (m *Matcher) Close() error {
	if m.scanner != nil {
		return m.scanner.Close()
	}
	return nil
}

// Scan finds every occurrence of every pattern in data. All len(data)
// bytes are scanned; NUL bytes carry no special meaning.
func (m *Matcher) Scan(data []byte) (*Result, error) {
	s := &scan{
		m:       m,
		data:    data,
		found:   make([][]types.PatternMatch, len(m.entries)),
		dropped: make([]int, len(m.entries)),
		failed:  make(map[int]bool),
	}

	if m.scanner != nil && len(data) > 0 {
		if err := m.scanner.Scan(data, s.onAtom); err != nil {
			return nil, types.NewScanError(types.ScanFailure, err, "atom scan failed: %v", err)
		}
	}
	for _, id := range m.gate.Filter(data) {
		s.scanUnanchored(id)
	}

	return s.result(), nil
}

// scan is the per-call state of Matcher.Scan.
type scan struct {
	m       *Matcher
	data    []byte
	runes   []rune
	found   [][]types.PatternMatch
	dropped []int
	failed  map[int]bool // regex patterns abandoned for this input
}

func (s *scan) runeView() []rune {
	if s.runes == nil {
		s.runes = runeView(s.data)
	}
	return s.runes
}

func (s *scan) onAtom(atom, end int) {
	ref := s.m.atoms[atom]
	start := end - ref.length - ref.offset
	if start < 0 {
		return
	}

	e := &s.m.entries[ref.entry]
	p := e.pattern
	switch p.Kind {
	case types.PatternText:
		if !matchLiteral(ref.literal, s.data, start, p.Modifiers.Nocase) {
			return
		}
		n := len(ref.literal)
		if p.Modifiers.Fullword && !isFullword(s.data, start, start+n, ref.encoding) {
			return
		}
		s.record(ref.entry, start, n)

	case types.PatternHex:
		if stop := matchHex(p.Hex, s.data, start); stop >= 0 {
			s.record(ref.entry, start, stop-start)
		}

	case types.PatternRegex:
		if s.failed[ref.entry] {
			return
		}
		n, err := e.re.matchAt(s.runeView(), start)
		if err != nil {
			s.regexFailed(ref.entry, err)
			return
		}
		if n <= 0 {
			return
		}
		if p.Modifiers.Fullword && !isFullword(s.data, start, start+n, types.EncodingASCII) {
			return
		}
		s.record(ref.entry, start, n)
	}
}

func (s *scan) scanUnanchored(id int) {
	e := &s.m.entries[id]
	p := e.pattern

	switch p.Kind {
	case types.PatternHex:
		for start := range s.data {
			if stop := matchHex(p.Hex, s.data, start); stop >= 0 {
				if !s.record(id, start, stop-start) {
					return
				}
			}
		}

	case types.PatternRegex:
		err := e.re.each(s.runeView(), func(start, n int) bool {
			if p.Modifiers.Fullword && !isFullword(s.data, start, start+n, types.EncodingASCII) {
				return true
			}
			return s.record(id, start, n)
		})
		if err != nil {
			s.regexFailed(id, err)
		}
	}
}

// record stores an occurrence. It returns false once the pattern reached
// its cap.
func (s *scan) record(id, start, length int) bool {
	if len(s.found[id]) >= s.m.cfg.MaxMatchesPerPattern {
		s.dropped[id]++
		return false
	}

	match := types.PatternMatch{
		Offset: int64(start),
		Length: length,
		Data:   bytes.Clone(s.data[start : start+min(length, MaxMatchData)]),
	}
	if s.m.cfg.ContextLines > 0 {
		before, after := ExtractContext(s.data, start, start+length, s.m.cfg.ContextLines)
		match.Snippet = &types.Snippet{Before: before, Matching: match.Data, After: after}
	}
	s.found[id] = append(s.found[id], match)
	return true
}

func (s *scan) regexFailed(id int, err error) {
	e := s.m.entries[id]
	s.failed[id] = true
	s.m.cfg.Logger.Warn().
		Err(err).
		Str("rule", s.m.rules[e.rule].ID()).
		Str("pattern", e.pattern.ID).
		Msg("regex evaluation failed, skipping pattern for this input")
}

func (s *scan) result() *Result {
	res := &Result{Matches: make([][][]types.PatternMatch, len(s.m.rules))}
	for ri, r := range s.m.rules {
		res.Matches[ri] = make([][]types.PatternMatch, len(r.Patterns))
	}

	for id, e := range s.m.entries {
		found := s.found[id]
		sort.Slice(found, func(i, j int) bool {
			if found[i].Offset != found[j].Offset {
				return found[i].Offset < found[j].Offset
			}
			return found[i].Length < found[j].Length
		})
		res.Matches[e.rule][e.pattern.Index] = found

		if s.dropped[id] > 0 {
			s.m.cfg.Logger.Warn().
				Str("rule", s.m.rules[e.rule].ID()).
				Str("pattern", e.pattern.ID).
				Int("limit", s.m.cfg.MaxMatchesPerPattern).
				Int("dropped", s.dropped[id]).
				Msg("too many matches, extra occurrences dropped")
		}
	}
	return res
}
