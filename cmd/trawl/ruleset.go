package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/rule"
)

var errNoRules = errors.New("no rules given: use --rules, --builtin or a config file")

// ruleFlags select the rules a command compiles.
type ruleFlags struct {
	paths   []string
	builtin bool
	include string
	exclude string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.paths, "rules", "r", nil, "Rule file or directory, optionally as namespace=path (repeatable)")
	cmd.Flags().BoolVar(&f.builtin, "builtin", false, "Load the built-in rules into the \"builtin\" namespace")
	cmd.Flags().StringVar(&f.include, "rules-include", "", "Keep only rules whose namespace:name matches a regex (comma-separated)")
	cmd.Flags().StringVar(&f.exclude, "rules-exclude", "", "Drop rules whose namespace:name matches a regex (comma-separated)")
}

// empty reports whether neither the flags nor the config file name rules.
func (f *ruleFlags) empty() bool {
	return len(f.paths) == 0 && !f.builtin && len(settings.Rules) == 0 && !settings.Builtin
}

// loadRules builds a rule context from the config file and the flags.
// Config sources compile first, then --rules, then the built-in set.
func loadRules(f ruleFlags, extra ...trawl.Option) (*trawl.Rules, error) {
	opts, err := settings.Options()
	if err != nil {
		return nil, err
	}
	if f.include != "" || f.exclude != "" {
		opts = append(opts, trawl.WithRuleFilter(rule.FilterConfig{
			Include: rule.ParsePatterns(f.include),
			Exclude: rule.ParsePatterns(f.exclude),
		}))
	}
	opts = append(opts, extra...)

	rules, err := trawl.NewRules(opts...)
	if err != nil {
		return nil, err
	}

	compile := func() error {
		for _, src := range settings.Rules {
			if err := compilePath(rules, src.Path, src.Namespace); err != nil {
				return err
			}
		}
		for _, arg := range f.paths {
			ns, path := splitRuleArg(arg)
			if err := compilePath(rules, path, ns); err != nil {
				return err
			}
		}
		if f.builtin || settings.Builtin {
			return rules.LoadBuiltin()
		}
		return nil
	}
	if err := compile(); err != nil {
		_ = rules.Destroy()
		return nil, err
	}
	return rules, nil
}

// compilePath compiles a rule file, or every rule file under a directory,
// into namespace ns (the current namespace when empty).
func compilePath(rules *trawl.Rules, path, ns string) error {
	files, err := rule.CollectRuleFiles([]string{path})
	if err != nil {
		return err
	}
	var nsArg []string
	if ns != "" {
		nsArg = []string{ns}
	}
	for _, file := range files {
		if err := rules.CompileFile(file, nsArg...); err != nil {
			return err
		}
	}
	return nil
}

// splitRuleArg splits "namespace=path". Arguments whose text before '='
// looks like a path are taken whole.
func splitRuleArg(arg string) (ns, path string) {
	before, after, ok := strings.Cut(arg, "=")
	if !ok || before == "" || strings.ContainsAny(before, `/\.`) {
		return "", arg
	}
	return before, after
}

func formatErr(format string) error {
	return fmt.Errorf("unknown output format: %s", format)
}
