package trawl

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/praetorian-inc/trawl/pkg/logging"
	"github.com/praetorian-inc/trawl/pkg/matcher"
	"github.com/praetorian-inc/trawl/pkg/rule"
)

// DefaultMaxScanSize is the largest input ScanBuffer and ScanFile accept.
const DefaultMaxScanSize int64 = 512 << 20

type rulesConfig struct {
	maxScanSize          int64
	maxMatchesPerPattern int
	regexTimeout         time.Duration
	contextLines         int
	engine               matcher.Engine
	filter               rule.FilterConfig
	logger               zerolog.Logger
}

func defaultConfig() rulesConfig {
	return rulesConfig{
		maxScanSize:          DefaultMaxScanSize,
		maxMatchesPerPattern: matcher.DefaultMaxMatchesPerPattern,
		regexTimeout:         matcher.DefaultRegexTimeout,
		logger:               logging.Component("trawl"),
	}
}

// Option configures a Rules context.
type Option func(*rulesConfig)

// WithMaxScanSize rejects inputs larger than n bytes with InputTooLarge.
// Zero or negative means no limit.
func WithMaxScanSize(n int64) Option {
	return func(c *rulesConfig) {
		c.maxScanSize = n
	}
}

// WithMaxMatchesPerPattern caps the occurrences recorded for one pattern
// in one scan. Default is 1,000,000.
func WithMaxMatchesPerPattern(n int) Option {
	return func(c *rulesConfig) {
		c.maxMatchesPerPattern = n
	}
}

// WithRegexTimeout bounds a single regex evaluation.
func WithRegexTimeout(d time.Duration) Option {
	return func(c *rulesConfig) {
		c.regexTimeout = d
	}
}

// WithContextLines attaches n lines of surrounding input to every match.
func WithContextLines(n int) Option {
	return func(c *rulesConfig) {
		c.contextLines = n
	}
}

// WithEngine selects the atom scanning engine.
func WithEngine(e matcher.Engine) Option {
	return func(c *rulesConfig) {
		c.engine = e
	}
}

// WithRuleFilter limits scanning to rules whose qualified ID passes the
// filter. Compilation and Weight still see every rule.
func WithRuleFilter(f rule.FilterConfig) Option {
	return func(c *rulesConfig) {
		c.filter = f
	}
}

// WithLogger replaces the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *rulesConfig) {
		c.logger = l
	}
}
