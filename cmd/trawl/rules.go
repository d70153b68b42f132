package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl/pkg/types"
)

var (
	rulesListRules ruleFlags
	outputFormat   string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rules",
	Long:  "Commands for listing and inspecting compiled rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List compiled rules",
	Long:  "Compile the selected rules (the built-in set when none are given) and list them",
	RunE:  runRulesList,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesListRules.register(rulesListCmd)
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
}

// ruleInfo is the listing view of a compiled rule.
type ruleInfo struct {
	ID        string        `json:"id"`
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	Tags      []string      `json:"tags"`
	Meta      []types.Meta  `json:"meta,omitempty"`
	Patterns  []patternInfo `json:"patterns"`
	Condition string        `json:"condition"`
	Private   bool          `json:"private,omitempty"`
	Source    string        `json:"source"`
	Line      int           `json:"line"`
}

type patternInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

func newRuleInfo(r *types.Rule) ruleInfo {
	info := ruleInfo{
		ID:        r.ID(),
		Namespace: r.Namespace,
		Name:      r.Name,
		Tags:      r.Tags,
		Meta:      r.Meta,
		Patterns:  []patternInfo{},
		Condition: r.Condition.String(),
		Private:   r.Private,
		Source:    r.Source,
		Line:      r.Line,
	}
	for _, p := range r.Patterns {
		info.Patterns = append(info.Patterns, patternInfo{ID: p.ID, Kind: p.Kind.String(), Source: p.Source})
	}
	return info
}

func runRulesList(cmd *cobra.Command, args []string) error {
	flags := rulesListRules
	if flags.empty() {
		flags.builtin = true
	}

	rules, err := loadRules(flags)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	defer rules.Destroy()

	all, err := rules.Active()
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		infos := make([]ruleInfo, 0, len(all))
		for _, r := range all {
			infos = append(infos, newRuleInfo(r))
		}
		return writeJSON(cmd.OutOrStdout(), infos)
	case "table":
		return outputRulesTable(cmd, all)
	default:
		return formatErr(outputFormat)
	}
}

func outputRulesTable(cmd *cobra.Command, rules []*types.Rule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tTags\tPatterns\tSource\n")
	fmt.Fprintf(w, "--\t----\t--------\t------\n")

	for _, r := range rules {
		id := r.ID()
		if r.Private {
			id += " (private)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s:%d\n", id, strings.Join(r.Tags, ","), len(r.Patterns), r.Source, r.Line)
	}
	return nil
}
