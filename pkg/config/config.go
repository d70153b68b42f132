// Package config loads trawl settings from a YAML file.
//
//	rules:
//	  - path: rules/droppers.yar
//	    namespace: droppers
//	  - path: rules/webshells
//	builtin: true
//	limits:
//	  max_scan_size: 64MB
//	  max_matches_per_pattern: 10000
//	  regex_timeout: 2s
//	context_lines: 2
//	engine: portable
//	filter:
//	  include: ["^droppers:"]
//	log:
//	  level: debug
//	  output: json
//	store: results.db
//	archive: samples
//
// Relative rule, store and archive paths resolve against the file's directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/matcher"
	"github.com/praetorian-inc/trawl/pkg/rule"
	"github.com/praetorian-inc/trawl/pkg/store"
)

// Config is the root YAML structure.
type Config struct {
	Rules        []RuleSource `yaml:"rules"`
	Builtin      bool         `yaml:"builtin"`
	Limits       Limits       `yaml:"limits"`
	ContextLines int          `yaml:"context_lines"`
	Engine       string       `yaml:"engine"` // auto, portable, hyperscan
	Filter       Filter       `yaml:"filter"`
	Log          Log          `yaml:"log"`
	Store        string       `yaml:"store,omitempty"`
	Archive      string       `yaml:"archive,omitempty"` // matched blob copies
}

// RuleSource is a rule file or directory compiled into a namespace.
// An empty namespace means the context's current one.
type RuleSource struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Limits bound scanning work.
type Limits struct {
	MaxScanSize          ByteSize      `yaml:"max_scan_size"`
	MaxMatchesPerPattern int           `yaml:"max_matches_per_pattern"`
	RegexTimeout         time.Duration `yaml:"regex_timeout"`
}

// Filter holds include and exclude regexes over qualified rule IDs.
type Filter struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // console, json
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Limits: Limits{
			MaxScanSize:          ByteSize(trawl.DefaultMaxScanSize),
			MaxMatchesPerPattern: matcher.DefaultMaxMatchesPerPattern,
			RegexTimeout:         matcher.DefaultRegexTimeout,
		},
		Engine: "auto",
		Log:    Log{Level: "warn", Output: "console"},
	}
}

// Load reads and validates the file at path. Unset fields keep their
// Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and resolves relative paths
// against baseDir.
func Parse(data []byte, baseDir string) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, src := range cfg.Rules {
		cfg.Rules[i].Path = resolve(baseDir, src.Path)
	}
	if cfg.Store != store.MemoryPath && !store.IsPostgresURL(cfg.Store) {
		cfg.Store = resolve(baseDir, cfg.Store)
	}
	cfg.Archive = resolve(baseDir, cfg.Archive)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate checks values that decoding alone does not.
func (c Config) Validate() error {
	for i, src := range c.Rules {
		if src.Path == "" {
			return fmt.Errorf("rules[%d]: path is required", i)
		}
	}
	if c.Limits.MaxMatchesPerPattern < 0 {
		return fmt.Errorf("limits.max_matches_per_pattern must not be negative")
	}
	if c.Limits.RegexTimeout < 0 {
		return fmt.Errorf("limits.regex_timeout must not be negative")
	}
	if c.ContextLines < 0 {
		return fmt.Errorf("context_lines must not be negative")
	}
	if _, err := matcher.ParseEngine(c.Engine); err != nil {
		return err
	}
	if err := c.RuleFilter().Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	switch c.Log.Output {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log output %q (valid: console, json)", c.Log.Output)
	}
	return nil
}

// RuleFilter returns the filter section as a rule.FilterConfig.
func (c Config) RuleFilter() rule.FilterConfig {
	return rule.FilterConfig{Include: c.Filter.Include, Exclude: c.Filter.Exclude}
}

// Options converts the scan settings into Rules options.
func (c Config) Options() ([]trawl.Option, error) {
	engine, err := matcher.ParseEngine(c.Engine)
	if err != nil {
		return nil, err
	}
	return []trawl.Option{
		trawl.WithMaxScanSize(int64(c.Limits.MaxScanSize)),
		trawl.WithMaxMatchesPerPattern(c.Limits.MaxMatchesPerPattern),
		trawl.WithRegexTimeout(c.Limits.RegexTimeout),
		trawl.WithContextLines(c.ContextLines),
		trawl.WithEngine(engine),
		trawl.WithRuleFilter(c.RuleFilter()),
	}, nil
}

// ByteSize is a byte count written as an integer or with a KB, MB or GB
// suffix.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = n
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return int64(b), nil
}

// ParseByteSize parses "4096", "4KB", "64MB" or "1GB".
func ParseByteSize(s string) (ByteSize, error) {
	raw := s
	s = strings.TrimSpace(s)
	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
	} {
		if strings.HasSuffix(strings.ToUpper(s), unit.suffix) {
			mult = unit.mult
			s = strings.TrimSpace(s[:len(s)-len(unit.suffix)])
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return ByteSize(n * mult), nil
}
