package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/datastore"
	"github.com/praetorian-inc/trawl/pkg/enum"
	"github.com/praetorian-inc/trawl/pkg/sarif"
	"github.com/praetorian-inc/trawl/pkg/scanner"
	"github.com/praetorian-inc/trawl/pkg/store"
	"github.com/praetorian-inc/trawl/pkg/types"
)

var (
	scanRules          ruleFlags
	scanStorePath      string
	scanArchivePath    string
	scanOutputFormat   string
	scanColor          string
	scanGit            bool
	scanAllHistory     bool
	scanRef            string
	scanMaxFileSize    int64
	scanIncludeHidden  bool
	scanFollowSymlinks bool
	scanNoIgnore       bool
	scanTextOnly       bool
	scanContextLines   int
	scanIncremental    bool
	scanWorkers        int
	scanExtract        string
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a target with rules",
	Long: `Scan a file, a directory tree or a git repository. A target of "-" scans
standard input.

Every rule of every namespace runs against every blob. Each satisfied rule
is printed (or emitted as JSON or SARIF) and recorded in the result store.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanRules.register(scanCmd)
	scanCmd.Flags().StringVar(&scanStorePath, "store", "", `Result store: SQLite file, postgres:// URL, or ":memory:" to keep nothing (default from config, else ":memory:")`)
	scanCmd.Flags().StringVar(&scanArchivePath, "archive", "", "Directory to keep a copy of every matched blob (default from config)")
	scanCmd.Flags().StringVar(&scanOutputFormat, "format", "human", "Output format: human, json, sarif")
	scanCmd.Flags().StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
	scanCmd.Flags().BoolVar(&scanGit, "git", false, "Treat target as a git repository and scan a revision")
	scanCmd.Flags().BoolVar(&scanAllHistory, "all-history", false, "With --git, scan every blob reachable from any ref")
	scanCmd.Flags().StringVar(&scanRef, "ref", "HEAD", "With --git, the revision to scan")
	scanCmd.Flags().Int64Var(&scanMaxFileSize, "max-file-size", 0, "Skip files larger than this many bytes (0 = the scan size limit)")
	scanCmd.Flags().BoolVar(&scanIncludeHidden, "include-hidden", false, "Include hidden files and directories")
	scanCmd.Flags().BoolVar(&scanFollowSymlinks, "follow-symlinks", false, "Follow symbolic links to files")
	scanCmd.Flags().BoolVar(&scanNoIgnore, "no-ignore", false, "Do not honour .gitignore")
	scanCmd.Flags().BoolVar(&scanTextOnly, "text-only", false, "Skip blobs that look binary")
	scanCmd.Flags().IntVar(&scanContextLines, "context", -1, "Lines of context around matches (default from config)")
	scanCmd.Flags().BoolVar(&scanIncremental, "incremental", false, "Skip blobs already in the store")
	scanCmd.Flags().StringVar(&scanExtract, "extract", "", "Also scan members of these containers: comma separated zip, jar, apk, docx, docm, xlsx, xlsm, pptx, 7z, pdf, or all")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 0, "Parallel file readers (0 = number of CPUs)")
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]
	switch scanOutputFormat {
	case "human", "json", "sarif":
	default:
		return formatErr(scanOutputFormat)
	}
	useColor, err := colorEnabled(scanColor)
	if err != nil {
		return err
	}
	if err := enum.ParseExtract(scanExtract); err != nil {
		return err
	}
	if scanRules.empty() {
		return errNoRules
	}
	if target != "-" {
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("target does not exist: %s", target)
		}
	}

	var extra []trawl.Option
	if scanContextLines >= 0 {
		extra = append(extra, trawl.WithContextLines(scanContextLines))
	}
	rules, err := loadRules(scanRules, extra...)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	defer rules.Destroy()

	storePath := scanStorePath
	if storePath == "" {
		storePath = settings.Store
	}
	if storePath == "" {
		storePath = store.MemoryPath
	}
	s, err := store.New(store.Config{Path: storePath})
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer s.Close()

	archive, err := openArchive(scanArchivePath)
	if err != nil {
		return err
	}

	core, err := scanner.NewCore(rules, scanner.Config{Store: s, Incremental: scanIncremental})
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mu      sync.Mutex
		entries []entry
		results []*scanner.ScanResult
	)
	collect := func(res *scanner.ScanResult, content []byte) error {
		if len(res.Reports) == 0 {
			return nil
		}
		if archive != nil {
			if _, err := archive.Put(content); err != nil {
				return fmt.Errorf("archiving %s: %w", res.Source, err)
			}
		}
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		for _, rep := range res.Reports {
			entries = append(entries, entry{paths: []string{res.Source}, report: rep, content: content})
		}
		return nil
	}

	var stats scanner.Stats
	if target == "-" {
		stats, err = scanStdin(cmd.InOrStdin(), core, collect)
	} else {
		stats, err = core.ScanEnumerator(ctx, createEnumerator(target), collect)
	}
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].paths[0] < entries[j].paths[0] })

	// Keep stdout pure JSON for machine formats.
	summaryOut := cmd.OutOrStdout()
	if scanOutputFormat != "human" {
		summaryOut = cmd.ErrOrStderr()
	}

	switch scanOutputFormat {
	case "json":
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	case "sarif":
		if err := writeSARIF(cmd.OutOrStdout(), rules, entries); err != nil {
			return err
		}
	default:
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No matches.\n\n")
		}
		writeHuman(cmd.OutOrStdout(), newStyles(useColor), entries)
	}

	fmt.Fprintf(summaryOut, "Scan complete: %d blobs, %d matched, %d reports", stats.Blobs, stats.Matched, stats.Reports)
	if stats.Skipped > 0 || stats.Errors > 0 {
		fmt.Fprintf(summaryOut, " (%d skipped, %d failed)", stats.Skipped, stats.Errors)
	}
	fmt.Fprintln(summaryOut)
	if storePath != store.MemoryPath {
		fmt.Fprintf(summaryOut, "Results stored in: %s\n", storePath)
	}
	if archive != nil {
		fmt.Fprintf(summaryOut, "Matched blobs archived in: %s\n", archive.Root)
	}
	return nil
}

// openArchive opens the blob archive named by path or the config file. It
// returns nil when neither names one.
func openArchive(path string) (*datastore.Archive, error) {
	if path == "" {
		path = settings.Archive
	}
	if path == "" {
		return nil, nil
	}
	a, err := datastore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return a, nil
}

// commandContext returns the command's context, which is unset when a run
// function is called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func createEnumerator(target string) enum.Enumerator {
	maxSize := scanMaxFileSize
	if maxSize <= 0 {
		maxSize = int64(settings.Limits.MaxScanSize)
	}
	config := enum.Config{
		Root:           target,
		IncludeHidden:  scanIncludeHidden,
		MaxFileSize:    maxSize,
		FollowSymlinks: scanFollowSymlinks,
		NoIgnore:       scanNoIgnore,
		TextOnly:       scanTextOnly,
		Workers:        scanWorkers,

		ExtractArchives: scanExtract,
		ExtractLimits:   enum.ExtractLimits{MaxMemberSize: maxSize},
	}

	if scanGit {
		g := enum.NewGitEnumerator(config)
		g.CommitRef = scanRef
		g.AllHistory = scanAllHistory
		return g
	}
	return enum.NewFilesystemEnumerator(config)
}

func scanStdin(in io.Reader, core *scanner.Core, onResult scanner.ResultFunc) (scanner.Stats, error) {
	content, err := io.ReadAll(in)
	if err != nil {
		return scanner.Stats{}, fmt.Errorf("reading stdin: %w", err)
	}
	res, err := core.Scan(content, types.BufferProvenance{Source: "<stdin>"})
	if err != nil {
		return scanner.Stats{}, err
	}

	stats := scanner.Stats{Blobs: 1}
	switch {
	case res.Skipped:
		stats.Skipped = 1
	case len(res.Reports) > 0:
		stats.Matched = 1
		stats.Reports = len(res.Reports)
	}
	return stats, onResult(res, content)
}

// writeSARIF emits every compiled rule and one result per entry.
func writeSARIF(out io.Writer, rules *trawl.Rules, entries []entry) error {
	report := sarif.NewReport()

	all, err := rules.Active()
	if err != nil {
		return err
	}
	for _, r := range all {
		if !r.Private {
			report.AddRule(r)
		}
	}

	for _, e := range entries {
		path := e.report.BlobID.Hex()
		if len(e.paths) > 0 {
			path = e.paths[0]
		}
		report.AddReport(e.report, path, e.content)
	}

	data, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing SARIF: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing SARIF output: %w", err)
	}
	return nil
}
