package enum

import (
	"context"
	"sync"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// CombinedEnumerator runs several enumerators in turn, e.g. one per path
// given on the command line, and yields each blob ID at most once.
type CombinedEnumerator struct {
	enumerators []Enumerator

	OnDuplicate func(blobID types.BlobID, prov types.Provenance) error
}

// NewCombinedEnumerator wraps enumerators, run in order.
func NewCombinedEnumerator(enumerators ...Enumerator) *CombinedEnumerator {
	return &CombinedEnumerator{enumerators: enumerators}
}

// Enumerate passes each blob to callback the first time its ID is seen.
// Later sightings are reported to OnDuplicate, if set, so callers can
// still record provenance.
func (c *CombinedEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	var mu sync.Mutex
	seen := make(map[types.BlobID]bool)

	for _, e := range c.enumerators {
		err := e.Enumerate(ctx, func(content []byte, blobID types.BlobID, prov types.Provenance) error {
			mu.Lock()
			if seen[blobID] {
				mu.Unlock()
				if c.OnDuplicate != nil {
					return c.OnDuplicate(blobID, prov)
				}
				return nil
			}
			seen[blobID] = true
			mu.Unlock()

			return callback(content, blobID, prov)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
