package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl/pkg/logging"
	"github.com/praetorian-inc/trawl/pkg/sarif"
	"github.com/praetorian-inc/trawl/pkg/store"
	"github.com/praetorian-inc/trawl/pkg/types"
)

var (
	reportStorePath   string
	reportArchivePath string
	reportFormat      string
	reportColor       string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a report from a result store",
	Long:  "Read the match reports recorded by earlier scans and print them with where each blob was seen",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportStorePath, "store", "", "Result store: SQLite file or postgres:// URL (default from config)")
	reportCmd.Flags().StringVar(&reportArchivePath, "archive", "", "Blob archive written by scan --archive, for lines and snippets (default from config)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "human", "Output format: human, json, sarif")
	reportCmd.Flags().StringVar(&reportColor, "color", "auto", "Color output: auto, always, never")
}

// provenanceView is the JSON form of a provenance record.
type provenanceView struct {
	Kind     string     `json:"kind"`
	Path     string     `json:"path"`
	RepoPath string     `json:"repo_path,omitempty"`
	Archive  string     `json:"archive,omitempty"`
	Commit   string     `json:"commit,omitempty"`
	Author   string     `json:"author,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
}

func newProvenanceView(p types.Provenance) provenanceView {
	v := provenanceView{Kind: p.Kind(), Path: p.Path()}
	switch p := p.(type) {
	case types.GitProvenance:
		v.RepoPath = p.RepoPath
		if p.Commit != nil {
			v.Commit = p.Commit.CommitID
			v.Author = p.Commit.AuthorName
			if !p.Commit.AuthorTime.IsZero() {
				v.Date = &p.Commit.AuthorTime
			}
		}
	case types.ArchiveProvenance:
		v.Archive = p.ArchivePath
		v.Path = p.MemberPath
	}
	return v
}

// provenanceLabel is the one-line human form of a provenance record.
func provenanceLabel(p types.Provenance) string {
	if g, ok := p.(types.GitProvenance); ok && g.Commit != nil {
		return fmt.Sprintf("%s (commit %.12s)", g.BlobPath, g.Commit.CommitID)
	}
	return p.Path()
}

// reportView is a stored report with every place its blob was seen.
type reportView struct {
	*types.MatchReport
	Provenance []provenanceView `json:"provenance"`
}

func runReport(cmd *cobra.Command, args []string) error {
	storePath := reportStorePath
	if storePath == "" {
		storePath = settings.Store
	}
	switch {
	case storePath == "":
		return fmt.Errorf("no store given: use --store or set store in the config file")
	case storePath == store.MemoryPath:
		return fmt.Errorf("cannot report from in-memory store")
	}
	if !store.IsPostgresURL(storePath) {
		if _, err := os.Stat(storePath); err != nil {
			return fmt.Errorf("store not found: %s", storePath)
		}
	}

	s, err := store.New(store.Config{Path: storePath})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	reports, err := s.GetAllReports()
	if err != nil {
		return fmt.Errorf("retrieving reports: %w", err)
	}

	provenance := make(map[types.BlobID][]types.Provenance)
	for _, r := range reports {
		if _, ok := provenance[r.BlobID]; ok {
			continue
		}
		provs, err := s.GetProvenance(r.BlobID)
		if err != nil {
			return fmt.Errorf("retrieving provenance: %w", err)
		}
		provenance[r.BlobID] = provs
	}

	archive, err := openArchive(reportArchivePath)
	if err != nil {
		return err
	}
	logger := logging.Component("report")
	content := func(id types.BlobID) []byte {
		if archive == nil || !archive.Has(id) {
			return nil
		}
		data, err := archive.Get(id)
		if err != nil {
			logger.Warn().Err(err).Str("blob", id.Hex()).Msg("skipping archived content")
			return nil
		}
		return data
	}

	out := cmd.OutOrStdout()
	switch reportFormat {
	case "json":
		views := make([]reportView, 0, len(reports))
		for _, r := range reports {
			v := reportView{MatchReport: r, Provenance: []provenanceView{}}
			for _, p := range provenance[r.BlobID] {
				v.Provenance = append(v.Provenance, newProvenanceView(p))
			}
			views = append(views, v)
		}
		return writeJSON(out, views)

	case "sarif":
		report := sarif.NewReport()
		for _, r := range reports {
			path := r.BlobID.Hex()
			if provs := provenance[r.BlobID]; len(provs) > 0 {
				path = provs[0].Path()
			}
			report.AddReport(r, path, content(r.BlobID))
		}
		data, err := report.ToJSON()
		if err != nil {
			return fmt.Errorf("serializing SARIF: %w", err)
		}
		_, err = out.Write(append(data, '\n'))
		return err

	case "human":
		useColor, err := colorEnabled(reportColor)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Fprintf(out, "No matches recorded in %s.\n", storePath)
			return nil
		}
		entries := make([]entry, 0, len(reports))
		for _, r := range reports {
			e := entry{report: r, content: content(r.BlobID)}
			for _, p := range provenance[r.BlobID] {
				e.paths = append(e.paths, provenanceLabel(p))
			}
			entries = append(entries, e)
		}
		writeHuman(out, newStyles(useColor), entries)
		return nil

	default:
		return formatErr(reportFormat)
	}
}
