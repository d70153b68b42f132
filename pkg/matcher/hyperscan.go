//go:build cgo && hyperscan

package matcher

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flier/gohs/hyperscan"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// hyperscanScanner finds atoms with a Hyperscan block database. Atoms are
// literals, so match ends are all that is needed and SomLeftMost stays off.
type hyperscanScanner struct {
	db      hyperscan.BlockDatabase
	scratch *hyperscan.Scratch // prototype cloned for each concurrent scan
	pool    sync.Pool
}

// hexLiteral escapes every byte so Hyperscan treats the atom literally.
func hexLiteral(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "\\x%02x", c)
	}
	return sb.String()
}

func newHyperscanScanner(atoms []types.Atom) (atomScanner, error) {
	patterns := make([]*hyperscan.Pattern, len(atoms))
	for i, atom := range atoms {
		var flags hyperscan.CompileFlag
		if atom.Nocase {
			flags |= hyperscan.Caseless
		}
		p := hyperscan.NewPattern(hexLiteral(atom.Bytes), flags)
		p.Id = i
		patterns[i] = p
	}

	db, err := hyperscan.NewBlockDatabase(patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile Hyperscan database: %w", err)
	}

	scratch, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to allocate Hyperscan scratch: %w", err)
	}

	return &hyperscanScanner{db: db, scratch: scratch}, nil
}

func (s *hyperscanScanner) Scan(data []byte, onHit func(atom, end int)) error {
	if len(data) == 0 {
		return nil
	}

	scratch, ok := s.pool.Get().(*hyperscan.Scratch)
	if !ok {
		var err error
		if scratch, err = s.scratch.Clone(); err != nil {
			return fmt.Errorf("failed to clone Hyperscan scratch: %w", err)
		}
	}
	defer s.pool.Put(scratch)

	handler := func(id uint, from, to uint64, flags uint, context interface{}) error {
		onHit(int(id), int(to))
		return nil
	}
	if err := s.db.Scan(data, scratch, handler, nil); err != nil {
		return fmt.Errorf("Hyperscan scan failed: %w", err)
	}
	return nil
}

// Close releases resources. Pooled scratch clones are left to the garbage
// collector.
func (s *hyperscanScanner) Close() error {
	if s.scratch != nil {
		if err := s.scratch.Free(); err != nil {
			return fmt.Errorf("failed to free scratch: %w", err)
		}
		s.scratch = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		s.db = nil
	}
	return nil
}

func hyperscanAvailable() bool {
	return true
}
