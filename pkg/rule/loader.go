package rule

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// BuiltinNamespace is the namespace built-in rules are loaded into.
const BuiltinNamespace = "builtin"

// Source is rule text together with the name errors report it under.
type Source struct {
	Name string
	Text []byte
}

// Loader reads rule sources from disk or from an embedded filesystem.
type Loader struct {
	fs fs.FS // embedded filesystem for built-in rules
}

// NewLoader creates a loader with built-in rules from embedded filesystem.
func NewLoader() *Loader {
	return &Loader{
		fs: builtinRulesFS,
	}
}

// NewLoaderWithFS creates a loader with a custom filesystem. Built-in rules
// are read from its "rules" directory.
func NewLoaderWithFS(fsys fs.FS) *Loader {
	return &Loader{
		fs: fsys,
	}
}

// LoadFile reads a rule file. A file that cannot be read is reported as a
// CompileError on line 0 wrapping the underlying error.
func (l *Loader) LoadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, &types.CompileError{
			Source:  path,
			Message: fmt.Sprintf("could not open file: %v", err),
			Err:     err,
		}
	}
	return Source{Name: path, Text: data}, nil
}

// BuiltinSources returns the embedded rule files in lexical order.
func (l *Loader) BuiltinSources() ([]Source, error) {
	var sources []Source

	err := fs.WalkDir(l.fs, "rules", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsRuleFile(p) {
			return nil
		}

		data, err := fs.ReadFile(l.fs, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		sources = append(sources, Source{Name: "builtin/" + path.Base(p), Text: data})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sources, nil
}

// LoadBuiltinRules parses all built-in rules into BuiltinNamespace.
func (l *Loader) LoadBuiltinRules() ([]*types.Rule, error) {
	sources, err := l.BuiltinSources()
	if err != nil {
		return nil, err
	}

	var rules []*types.Rule
	for _, src := range sources {
		parsed, err := Parse(src.Text, src.Name)
		if err != nil {
			return nil, err
		}
		for _, r := range parsed {
			r.Namespace = BuiltinNamespace
		}
		rules = append(rules, parsed...)
	}
	return rules, nil
}

// IsRuleFile reports whether a path has a rule file extension.
func IsRuleFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yar", ".yara":
		return true
	}
	return false
}

// CollectRuleFiles expands directories in paths into the rule files they
// contain. Plain file arguments are kept whatever their extension.
func CollectRuleFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			// Missing files surface later as a CompileError from LoadFile.
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsRuleFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return files, nil
}
