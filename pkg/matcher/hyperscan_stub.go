//go:build !cgo || !hyperscan

package matcher

import (
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// newHyperscanScanner stub for builds without Hyperscan (non-CGO or missing hyperscan tag).
func newHyperscanScanner(atoms []types.Atom) (atomScanner, error) {
	return nil, fmt.Errorf("Hyperscan requires CGO (build with CGO_ENABLED=1 and -tags=hyperscan)")
}

func hyperscanAvailable() bool {
	return false
}
