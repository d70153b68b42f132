package matcher

import (
	ac "github.com/petar-dambovaliev/aho-corasick"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// atomScanner reports every occurrence of every atom in a single pass.
// onHit receives the atom index and the offset just past the occurrence.
// Implementations are safe for concurrent use.
type atomScanner interface {
	Scan(data []byte, onHit func(atom, end int)) error
	Close() error
}

// automaton is an overlapping Aho-Corasick automaton over a subset of the
// atoms.
type automaton struct {
	ac    ac.AhoCorasick
	atoms []int // automaton pattern index to atom index
}

func newAutomaton(words [][]byte, atoms []int, fold bool) *automaton {
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: fold,
		MatchKind:            ac.StandardMatch,
	})
	return &automaton{ac: builder.BuildByte(words), atoms: atoms}
}

func (a *automaton) scan(data []byte, onHit func(atom, end int)) {
	iter := a.ac.IterOverlappingByte(data)
	for m := iter.Next(); m != nil; m = iter.Next() {
		onHit(a.atoms[m.Pattern()], m.End())
	}
}

// acScanner runs an exact and an ASCII case-folded automaton over the
// input. Either may be nil when no atom needs it.
type acScanner struct {
	exact  *automaton
	folded *automaton
}

func newACScanner(atoms []types.Atom) *acScanner {
	var (
		exactWords, foldedWords [][]byte
		exactIDs, foldedIDs     []int
	)
	for i, atom := range atoms {
		if atom.Nocase {
			foldedWords = append(foldedWords, atom.Bytes)
			foldedIDs = append(foldedIDs, i)
			continue
		}
		exactWords = append(exactWords, atom.Bytes)
		exactIDs = append(exactIDs, i)
	}

	s := &acScanner{}
	if len(exactWords) > 0 {
		s.exact = newAutomaton(exactWords, exactIDs, false)
	}
	if len(foldedWords) > 0 {
		s.folded = newAutomaton(foldedWords, foldedIDs, true)
	}
	return s
}

func (s *acScanner) Scan(data []byte, onHit func(atom, end int)) error {
	if len(data) == 0 {
		return nil
	}
	if s.exact != nil {
		s.exact.scan(data, onHit)
	}
	if s.folded != nil {
		s.folded.scan(data, onHit)
	}
	return nil
}

func (s *acScanner) Close() error {
	return nil
}
