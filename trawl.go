// Package trawl compiles YARA-style rules into namespaced rule sets and
// scans files and memory buffers with them.
//
// # Basic Usage
//
//	if err := trawl.Initialize(); err != nil {
//	    log.Fatal(err)
//	}
//	defer trawl.Finalize()
//
//	rules, err := trawl.NewRules()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rules.Destroy()
//
//	err = rules.CompileString(`rule A { strings: $s = "malware" condition: $s }`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reports, err := rules.ScanString("xxmalwarexx")
//	for _, r := range reports {
//	    fmt.Printf("%s matched at %d\n", r.Rule, r.Patterns[0].Matches[0].Offset)
//	}
//
// # Namespaces
//
// Rules are compiled into the current namespace ("default" initially) or
// into the namespace named by the optional argument of CompileString and
// CompileFile. A scan always runs every rule of every namespace.
package trawl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/praetorian-inc/trawl/pkg/eval"
	"github.com/praetorian-inc/trawl/pkg/matcher"
	"github.com/praetorian-inc/trawl/pkg/namespace"
	"github.com/praetorian-inc/trawl/pkg/rule"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Re-export commonly used types so callers can import just this package.
type (
	// Rule is a compiled rule.
	Rule = types.Rule

	// MatchReport describes one satisfied rule.
	MatchReport = types.MatchReport

	// PatternMatch is a single pattern occurrence.
	PatternMatch = types.PatternMatch

	// CompileError reports malformed rule source.
	CompileError = types.CompileError

	// ScanError reports a failed scan.
	ScanError = types.ScanError
)

// Rules is a compilation and scanning context. Compiles are serialized;
// scans run concurrently with each other.
type Rules struct {
	mu        sync.RWMutex
	cfg       rulesConfig
	table     *namespace.Table
	matcher   *matcher.Matcher
	loader    *rule.Loader
	destroyed bool
}

// NewRules creates an empty context whose current namespace is "default".
// Initialize must have been called.
func NewRules(opts ...Option) (*Rules, error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.filter.Validate(); err != nil {
		return nil, fmt.Errorf("rule filter: %w", err)
	}

	r := &Rules{
		cfg:    cfg,
		table:  namespace.NewTable(),
		loader: rule.NewLoader(),
	}
	if err := r.rebuild(); err != nil {
		return nil, err
	}
	return r, nil
}

// CompileString compiles rule text. The optional namespace is made current
// for the duration of the call only. On error nothing is installed and no
// namespace is created.
func (r *Rules) CompileString(text string, ns ...string) error {
	return r.compile([]byte(text), "", ns)
}

// CompileFile compiles the rule file at path. It behaves exactly like
// CompileString on the file contents, except that errors name the file.
func (r *Rules) CompileFile(path string, ns ...string) error {
	src, err := r.loader.LoadFile(path)
	if err != nil {
		return err
	}
	return r.compile(src.Text, src.Name, ns)
}

// LoadBuiltin installs the embedded rule files into the "builtin"
// namespace. Either every builtin rule is installed or none is.
func (r *Rules) LoadBuiltin() error {
	builtin, err := r.loader.LoadBuiltinRules()
	if err != nil {
		return fmt.Errorf("loading builtin rules: %w", err)
	}
	return r.install(rule.BuiltinNamespace, "builtin", func(cur *namespace.Namespace) ([]*types.Rule, error) {
		if err := rule.Admit(builtin, cur); err != nil {
			return nil, err
		}
		return builtin, nil
	})
}

func (r *Rules) compile(src []byte, source string, ns []string) error {
	if len(ns) > 1 {
		return fmt.Errorf("at most one namespace may be given, got %d", len(ns))
	}
	name := ""
	if len(ns) == 1 {
		name = ns[0]
	}
	return r.install(name, source, func(cur *namespace.Namespace) ([]*types.Rule, error) {
		return rule.Compile(src, source, cur)
	})
}

// install runs build with name as the current namespace and appends the
// rules it returns. On any failure the table is rolled back.
func (r *Rules) install(name, source string, build func(cur *namespace.Namespace) ([]*types.Rule, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDestroyed
	}

	snap := r.table.Snapshot()
	var added int
	err := r.table.Scoped(name, func(cur *namespace.Namespace) error {
		compiled, err := build(cur)
		if err != nil {
			return err
		}
		if err := rule.ValidateRules(compiled); err != nil {
			return err
		}
		r.table.Append(cur, compiled...)
		added = len(compiled)
		return nil
	})
	if err == nil {
		err = r.rebuild()
	}
	if err != nil {
		r.table.Restore(snap)
		return err
	}

	r.cfg.logger.Debug().
		Str("source", source).
		Str("namespace", name).
		Int("rules", added).
		Int("total", r.table.Len()).
		Msg("compiled rules")
	return nil
}

// rebuild replaces the matcher with one covering every installed rule.
// The old matcher is kept if building fails.
func (r *Rules) rebuild() error {
	rules := r.table.Rules()
	if !r.cfg.filter.Empty() {
		filtered, err := rule.Filter(rules, r.cfg.filter)
		if err != nil {
			return err
		}
		rules = filtered
	}

	m, err := matcher.New(rules, matcher.Config{
		MaxMatchesPerPattern: r.cfg.maxMatchesPerPattern,
		RegexTimeout:         r.cfg.regexTimeout,
		ContextLines:         r.cfg.contextLines,
		Engine:               r.cfg.engine,
		Logger:               r.cfg.logger,
	})
	if err != nil {
		return fmt.Errorf("building matcher: %w", err)
	}

	if r.matcher != nil {
		if err := r.matcher.Close(); err != nil {
			r.cfg.logger.Warn().Err(err).Msg("closing previous matcher")
		}
	}
	r.matcher = m
	return nil
}

// Weight returns the matching cost of every installed rule.
func (r *Rules) Weight() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return 0, ErrDestroyed
	}
	return rule.Weight(r.table.Rules()), nil
}

// CurrentNamespace returns the name of the current namespace.
func (r *Rules) CurrentNamespace() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return "", ErrDestroyed
	}
	return r.table.Current().Name, nil
}

// Namespaces returns every namespace name in creation order.
func (r *Rules) Namespaces() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}
	return r.table.List(), nil
}

// SetNamespace makes name current, creating it if needed.
func (r *Rules) SetNamespace(name string) error {
	if name == "" {
		return errors.New("namespace name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDestroyed
	}
	r.table.SetCurrent(name)
	return nil
}

// Rules returns every installed rule, namespaces in creation order and
// rules in compile order.
func (r *Rules) Rules() ([]*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}
	return r.table.Rules(), nil
}

// Active returns the rules scans run: the installed rules the rule
// filter keeps, in the same order as Rules.
func (r *Rules) Active() ([]*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}
	return r.matcher.Rules(), nil
}

// ScanString scans the bytes of s.
func (r *Rules) ScanString(s string) ([]*MatchReport, error) {
	return r.ScanBuffer([]byte(s))
}

// ScanBuffer scans data and returns one report per satisfied public rule,
// in compile order. NUL bytes are ordinary data.
func (r *Rules) ScanBuffer(data []byte) ([]*MatchReport, error) {
	if r.cfg.maxScanSize > 0 && int64(len(data)) > r.cfg.maxScanSize {
		return nil, types.NewScanError(types.ScanInputTooLarge, nil,
			"input of %d bytes exceeds the %d byte limit", len(data), r.cfg.maxScanSize)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}
	return r.scan(data)
}

// ScanFile reads the file at path and scans its contents.
func (r *Rules) ScanFile(path string) ([]*MatchReport, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, types.NewScanError(types.ScanFileNotFound, err, "could not open file %q", path)
	case err != nil:
		return nil, types.NewScanError(types.ScanFileUnreadable, err, "could not stat file %q: %v", path, err)
	case info.IsDir():
		return nil, types.NewScanError(types.ScanFileUnreadable, nil, "%q is a directory", path)
	case r.cfg.maxScanSize > 0 && info.Size() > r.cfg.maxScanSize:
		return nil, types.NewScanError(types.ScanInputTooLarge, nil,
			"file %q of %d bytes exceeds the %d byte limit", path, info.Size(), r.cfg.maxScanSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewScanError(types.ScanFileUnreadable, err, "could not read file %q: %v", path, err)
	}
	return r.ScanBuffer(data)
}

func (r *Rules) scan(data []byte) ([]*MatchReport, error) {
	res, err := r.matcher.Scan(data)
	if err != nil {
		return nil, err
	}

	blobID := types.ComputeBlobID(data)
	var reports []*MatchReport
	for ri, ru := range r.matcher.Rules() {
		env := &eval.Env{Matches: res.Matches[ri], Data: data}
		if !eval.Satisfied(ru.Condition, env) || ru.Private {
			continue
		}
		reports = append(reports, buildReport(ru, res.Matches[ri], blobID))
	}

	r.cfg.logger.Debug().
		Int("bytes", len(data)).
		Int("matched", len(reports)).
		Msg("scan complete")
	return reports, nil
}

// buildReport collects the matched public patterns of a satisfied rule.
func buildReport(ru *Rule, matches [][]PatternMatch, blobID types.BlobID) *MatchReport {
	rep := &MatchReport{
		BlobID:    blobID,
		Rule:      ru.Name,
		Namespace: ru.Namespace,
		Tags:      ru.Tags,
		Meta:      ru.Meta,
	}
	for i, p := range ru.Patterns {
		if p.Modifiers.Private || len(matches[i]) == 0 {
			continue
		}
		rep.Patterns = append(rep.Patterns, types.PatternMatches{ID: p.ID, Matches: matches[i]})
	}
	rep.StructuralID = rep.ComputeStructuralID(ru.StructuralID)
	return rep
}

// Destroy releases the context. Every later call returns ErrDestroyed;
// destroying twice is a no-op.
func (r *Rules) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	r.destroyed = true

	var err error
	if r.matcher != nil {
		err = r.matcher.Close()
	}
	r.matcher = nil
	r.table = nil
	return err
}

// Close is Destroy, for use as an io.Closer.
func (r *Rules) Close() error {
	return r.Destroy()
}
