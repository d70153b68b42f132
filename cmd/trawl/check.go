package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/rule"
)

var checkCmd = &cobra.Command{
	Use:   "check <rule file or directory>...",
	Short: "Compile rule files and report errors",
	Long: `Compile each rule file on its own and report its rule count and matching
weight, or the first syntax error with its line. Exits non-zero when any
file fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	files, err := rule.CollectRuleFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no rule files found")
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, file := range files {
		rules, weight, err := checkFile(file)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n", err)
			continue
		}
		fmt.Fprintf(out, "ok   %s: %d rule(s), weight %d\n", file, rules, weight)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d rule file(s) failed to compile", failed, len(files))
	}
	return nil
}

// checkFile compiles one file into a fresh context.
func checkFile(path string) (count, weight int, err error) {
	rules, err := trawl.NewRules()
	if err != nil {
		return 0, 0, err
	}
	defer rules.Destroy()

	if err := rules.CompileFile(path); err != nil {
		return 0, 0, err
	}
	all, err := rules.Rules()
	if err != nil {
		return 0, 0, err
	}
	weight, err = rules.Weight()
	return len(all), weight, err
}
