package store

import (
	"database/sql"
	"fmt"
)

// MergeConfig configures the merge operation.
type MergeConfig struct {
	// SourcePaths are the database files to merge from.
	SourcePaths []string
	// DestPath is the destination database file.
	DestPath string
}

// MergeStats tracks merge operation statistics.
type MergeStats struct {
	BlobsMerged      int
	ReportsMerged    int
	ProvenanceMerged int
	SourcesProcessed int
}

// Merge combines multiple result databases into one. Blobs and provenance
// are deduplicated by key, reports by structural ID.
func Merge(cfg MergeConfig) (*MergeStats, error) {
	if len(cfg.SourcePaths) == 0 {
		return nil, fmt.Errorf("no source databases specified")
	}
	if cfg.DestPath == "" {
		return nil, fmt.Errorf("destination path is required")
	}
	for _, path := range append([]string{cfg.DestPath}, cfg.SourcePaths...) {
		if IsPostgresURL(path) || path == MemoryPath {
			return nil, fmt.Errorf("merge works on SQLite files only: %s", path)
		}
	}

	destDB, err := openDB(cfg.DestPath)
	if err != nil {
		return nil, fmt.Errorf("opening destination database: %w", err)
	}
	defer destDB.Close()

	stats := &MergeStats{}
	for _, sourcePath := range cfg.SourcePaths {
		sourceStats, err := mergeFrom(destDB, sourcePath)
		if err != nil {
			return stats, fmt.Errorf("merging from %s: %w", sourcePath, err)
		}
		stats.BlobsMerged += sourceStats.BlobsMerged
		stats.ReportsMerged += sourceStats.ReportsMerged
		stats.ProvenanceMerged += sourceStats.ProvenanceMerged
		stats.SourcesProcessed++
	}

	return stats, nil
}

// mergeFrom copies data from a source database to the destination.
func mergeFrom(destDB *sql.DB, sourcePath string) (*MergeStats, error) {
	sourceDB, err := openDB(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening source database: %w", err)
	}
	defer sourceDB.Close()

	// Source rows are read up front; the report loader issues queries of
	// its own on the source's single connection.
	reports, err := (&SQLiteStore{db: sourceDB}).GetAllReports()
	if err != nil {
		return nil, fmt.Errorf("reading reports: %w", err)
	}

	stats := &MergeStats{}

	tx, err := destDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	blobCount, err := copyRows(tx, sourceDB,
		"SELECT id, size FROM blobs",
		"INSERT OR IGNORE INTO blobs (id, size) VALUES (?, ?)")
	if err != nil {
		return nil, fmt.Errorf("merging blobs: %w", err)
	}
	stats.BlobsMerged = blobCount

	for _, r := range reports {
		inserted, err := insertReport(tx, r)
		if err != nil {
			return nil, fmt.Errorf("merging reports: %w", err)
		}
		if inserted {
			stats.ReportsMerged++
		}
	}

	provCount, err := copyRows(tx, sourceDB,
		"SELECT blob_id, type, path, repo_path, commit_hash FROM provenance",
		"INSERT OR IGNORE INTO provenance (blob_id, type, path, repo_path, commit_hash) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("merging provenance: %w", err)
	}
	stats.ProvenanceMerged = provCount

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return stats, nil
}

// copyRows inserts every row of query on src into dest with insert, which
// takes the same columns. It returns the number of rows that were new.
func copyRows(dest *sql.Tx, src *sql.DB, query, insert string) (int, error) {
	rows, err := src.Query(query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	stmt, err := dest.Prepare(insert)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	added := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return added, err
		}
		res, err := stmt.Exec(values...)
		if err != nil {
			return added, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, rows.Err()
}
