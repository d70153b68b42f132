// Package store persists scanned blobs, their provenance and the match
// reports produced for them.
package store

import (
	"context"
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// MemoryPath selects the in-memory store.
const MemoryPath = ":memory:"

// Store provides persistence for scan results.
type Store interface {
	// AddBlob stores a blob record.
	AddBlob(id types.BlobID, size int64) error

	// AddProvenance associates provenance with a blob.
	AddProvenance(blobID types.BlobID, prov types.Provenance) error

	// AddReport stores a match report, deduplicated by structural ID.
	// The report's blob must have been added first.
	AddReport(r *types.MatchReport) error

	// GetReports retrieves the reports for a blob in insertion order.
	GetReports(blobID types.BlobID) ([]*types.MatchReport, error)

	// GetAllReports retrieves every report in insertion order.
	GetAllReports() ([]*types.MatchReport, error)

	// GetProvenance retrieves every provenance record of a blob.
	GetProvenance(blobID types.BlobID) ([]types.Provenance, error)

	// ReportExists checks if a report with this structural ID exists.
	ReportExists(structuralID string) (bool, error)

	// BlobExists checks if a blob has already been scanned.
	BlobExists(id types.BlobID) (bool, error)

	// Close closes the underlying database.
	Close() error
}

// Config for store initialization.
type Config struct {
	// Path is the database file path or a postgres:// URL. MemoryPath
	// keeps everything in process memory.
	Path string
}

// New creates a Store: MemoryStore for MemoryPath, PostgresStore for a
// postgres:// URL, SQLite otherwise.
func New(cfg Config) (Store, error) {
	switch {
	case cfg.Path == "":
		return nil, fmt.Errorf("path is required")
	case cfg.Path == MemoryPath:
		return NewMemory(), nil
	case IsPostgresURL(cfg.Path):
		return NewPostgres(context.Background(), cfg.Path)
	}
	return NewSQLite(cfg.Path)
}

// provenanceFields flattens provenance into the columns both stores key
// provenance records by. Absent fields are empty.
func provenanceFields(prov types.Provenance) (path, repoPath, commit string, err error) {
	switch p := prov.(type) {
	case types.FileProvenance:
		path = p.FilePath
	case types.GitProvenance:
		repoPath = p.RepoPath
		path = p.BlobPath
		if p.Commit != nil {
			commit = p.Commit.CommitID
		}
	case types.BufferProvenance:
		path = p.Source
	case types.ArchiveProvenance:
		repoPath = p.ArchivePath
		path = p.MemberPath
	default:
		return "", "", "", fmt.Errorf("unknown provenance type: %T", prov)
	}
	return path, repoPath, commit, nil
}

// provenanceFrom rebuilds provenance from stored columns.
func provenanceFrom(kind, path, repoPath, commit string) (types.Provenance, error) {
	switch kind {
	case "file":
		return types.FileProvenance{FilePath: path}, nil
	case "git":
		p := types.GitProvenance{RepoPath: repoPath, BlobPath: path}
		if commit != "" {
			p.Commit = &types.CommitMetadata{CommitID: commit}
		}
		return p, nil
	case "buffer":
		return types.BufferProvenance{Source: path}, nil
	case "archive":
		return types.ArchiveProvenance{ArchivePath: repoPath, MemberPath: path}, nil
	}
	return nil, fmt.Errorf("unknown provenance kind %q", kind)
}

func validateReport(r *types.MatchReport) error {
	if r == nil {
		return fmt.Errorf("nil report")
	}
	if r.StructuralID == "" {
		return fmt.Errorf("report for rule %s has no structural ID", r.RuleID())
	}
	if r.BlobID.IsZero() {
		return fmt.Errorf("report for rule %s has no blob ID", r.RuleID())
	}
	return nil
}
