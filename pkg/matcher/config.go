package matcher

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxMatchesPerPattern caps the occurrences recorded per pattern
// and scan.
const DefaultMaxMatchesPerPattern = 1_000_000

// MaxMatchData bounds the matched bytes copied into a PatternMatch.
const MaxMatchData = 512

// Engine selects the atom scanning backend.
type Engine int

const (
	EngineAuto      Engine = iota // Hyperscan when compiled in, otherwise portable
	EnginePortable                // pure Go Aho-Corasick
	EngineHyperscan               // Hyperscan, requires cgo and -tags=hyperscan
)

// String returns the engine name used on the command line.
func (e Engine) String() string {
	switch e {
	case EnginePortable:
		return "portable"
	case EngineHyperscan:
		return "hyperscan"
	default:
		return "auto"
	}
}

// ParseEngine parses an engine name.
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "", "auto":
		return EngineAuto, nil
	case "portable":
		return EnginePortable, nil
	case "hyperscan":
		return EngineHyperscan, nil
	}
	return EngineAuto, fmt.Errorf("unknown engine %q (want auto, portable or hyperscan)", s)
}

// HyperscanAvailable reports whether the Hyperscan engine is compiled in.
func HyperscanAvailable() bool {
	return hyperscanAvailable()
}

// Config for matcher initialization.
type Config struct {
	// MaxMatchesPerPattern caps recorded occurrences per pattern
	// (0 = DefaultMaxMatchesPerPattern).
	MaxMatchesPerPattern int

	// RegexTimeout bounds each regex evaluation (0 = DefaultRegexTimeout).
	RegexTimeout time.Duration

	// ContextLines of surrounding input attached to each match as a snippet
	// (0 = no snippet).
	ContextLines int

	Engine Engine
	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxMatchesPerPattern <= 0 {
		c.MaxMatchesPerPattern = DefaultMaxMatchesPerPattern
	}
	if c.RegexTimeout <= 0 {
		c.RegexTimeout = DefaultRegexTimeout
	}
	return c
}
