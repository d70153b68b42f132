package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// FilterConfig specifies include and exclude patterns for rule filtering.
// Patterns are matched against the qualified rule ID ("namespace:name").
type FilterConfig struct {
	Include []string // Regex patterns - only matching rules included
	Exclude []string // Regex patterns - matching rules excluded
}

// Empty reports whether the filter keeps every rule.
func (c FilterConfig) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0
}

// Validate reports the first pattern that is not a valid regex.
func (c FilterConfig) Validate() error {
	if _, err := compileAll(c.Include); err != nil {
		return err
	}
	_, err := compileAll(c.Exclude)
	return err
}

// ParsePatterns splits a comma-separated string into individual patterns.
// Patterns are trimmed of whitespace.
func ParsePatterns(patterns string) []string {
	if patterns == "" {
		return []string{}
	}

	parts := strings.Split(patterns, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Filter applies include and exclude patterns to rules.
// Include is applied first, then exclude.
// Empty include means "include all".
// Returns error if any pattern is invalid regex.
func Filter(rules []*types.Rule, config FilterConfig) ([]*types.Rule, error) {
	if len(rules) == 0 {
		return rules, nil
	}

	includeRegexes, err := compileAll(config.Include)
	if err != nil {
		return nil, err
	}
	excludeRegexes, err := compileAll(config.Exclude)
	if err != nil {
		return nil, err
	}

	filtered := make([]*types.Rule, 0, len(rules))
	for _, r := range rules {
		id := r.ID()
		if len(includeRegexes) > 0 && !matchesAny(id, includeRegexes) {
			continue
		}
		if matchesAny(id, excludeRegexes) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(ruleID string, regexes []*regexp.Regexp) bool {
	for _, re := range regexes {
		if re.MatchString(ruleID) {
			return true
		}
	}
	return false
}
