package trawl

import (
	"errors"
	"sync"

	"github.com/praetorian-inc/trawl/pkg/logging"
	"github.com/praetorian-inc/trawl/pkg/matcher"
)

var (
	// ErrNotInitialized is returned by NewRules before Initialize, and by
	// Finalize when there is nothing to finalize.
	ErrNotInitialized = errors.New("trawl: library not initialized")

	// ErrDestroyed is returned by every method of a destroyed Rules.
	ErrDestroyed = errors.New("trawl: rules destroyed")
)

var lifecycle struct {
	mu    sync.Mutex
	count int
}

// Initialize prepares the library for use. Calls are reference counted:
// every Initialize must be paired with a Finalize, and only the first call
// does any work.
func Initialize() error {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	lifecycle.count++
	if lifecycle.count == 1 {
		logging.Logger.Debug().
			Bool("hyperscan", matcher.HyperscanAvailable()).
			Msg("trawl initialized")
	}
	return nil
}

// Finalize releases one Initialize reference. Rules created earlier keep
// working until destroyed; new ones cannot be created once the count
// drops to zero.
func Finalize() error {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.count == 0 {
		return ErrNotInitialized
	}
	lifecycle.count--
	if lifecycle.count == 0 {
		logging.Logger.Debug().Msg("trawl finalized")
	}
	return nil
}

// Initialized reports whether at least one Initialize is outstanding.
func Initialized() bool {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.count > 0
}
