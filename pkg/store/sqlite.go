package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/types"
	_ "modernc.org/sqlite"
)

// driverName is the database/sql name of the pure Go SQLite driver.
const driverName = "sqlite"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-based store.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: ":memory:" databases are per connection and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}

// AddBlob stores a blob record.
func (s *SQLiteStore) AddBlob(id types.BlobID, size int64) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO blobs (id, size) VALUES (?, ?)", id.Hex(), size)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

// AddProvenance associates provenance with a blob.
func (s *SQLiteStore) AddProvenance(blobID types.BlobID, prov types.Provenance) error {
	path, repoPath, commit, err := provenanceFields(prov)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO provenance (blob_id, type, path, repo_path, commit_hash)
		VALUES (?, ?, ?, ?, ?)
	`, blobID.Hex(), prov.Kind(), path, repoPath, commit)
	if err != nil {
		return fmt.Errorf("inserting provenance: %w", err)
	}
	return nil
}

// AddReport stores a match report with its pattern matches.
func (s *SQLiteStore) AddReport(r *types.MatchReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := insertReport(tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}
	return nil
}

// insertReport writes r unless a report with its structural ID exists and
// reports whether it did.
func insertReport(tx *sql.Tx, r *types.MatchReport) (bool, error) {
	if err := validateReport(r); err != nil {
		return false, err
	}

	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return false, fmt.Errorf("marshaling tags: %w", err)
	}
	metaJSON, err := json.Marshal(r.Meta)
	if err != nil {
		return false, fmt.Errorf("marshaling meta: %w", err)
	}

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO reports (structural_id, blob_id, namespace, rule, tags_json, meta_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.StructuralID, r.BlobID.Hex(), r.Namespace, r.Rule, string(tagsJSON), string(metaJSON))
	if err != nil {
		return false, fmt.Errorf("inserting report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	reportID, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("reading report id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO pattern_matches
		(report_id, pattern_index, pattern_id, offset_start, length, data, has_snippet, snippet_before, snippet_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return false, fmt.Errorf("preparing match insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range r.Patterns {
		for _, m := range p.Matches {
			var before, after []byte
			if m.Snippet != nil {
				before, after = m.Snippet.Before, m.Snippet.After
			}
			_, err := stmt.Exec(reportID, i, p.ID, m.Offset, m.Length, m.Data, m.Snippet != nil, before, after)
			if err != nil {
				return false, fmt.Errorf("inserting match: %w", err)
			}
		}
	}
	return true, nil
}

// GetReports retrieves the reports for a blob.
func (s *SQLiteStore) GetReports(blobID types.BlobID) ([]*types.MatchReport, error) {
	return s.loadReports("WHERE blob_id = ?", blobID.Hex())
}

// GetAllReports retrieves every report.
func (s *SQLiteStore) GetAllReports() ([]*types.MatchReport, error) {
	return s.loadReports("")
}

func (s *SQLiteStore) loadReports(where string, args ...any) ([]*types.MatchReport, error) {
	rows, err := s.db.Query(`
		SELECT id, structural_id, blob_id, namespace, rule, tags_json, meta_json
		FROM reports
		`+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}

	var ids []int64
	reports := []*types.MatchReport{}
	for rows.Next() {
		var (
			id                 int64
			r                  types.MatchReport
			blobHex            string
			tagsJSON, metaJSON string
		)
		if err := rows.Scan(&id, &r.StructuralID, &blobHex, &r.Namespace, &r.Rule, &tagsJSON, &metaJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning report: %w", err)
		}

		r.BlobID, err = types.ParseBlobID(blobHex)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing blob ID: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
		if r.Meta, err = decodeMeta(metaJSON); err != nil {
			rows.Close()
			return nil, err
		}

		ids = append(ids, id)
		reports = append(reports, &r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}

	// Matches are read after the report cursor is closed; the pool holds a
	// single connection.
	for i, id := range ids {
		if err := s.loadMatches(id, reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *SQLiteStore) loadMatches(reportID int64, r *types.MatchReport) error {
	rows, err := s.db.Query(`
		SELECT pattern_index, pattern_id, offset_start, length, data, has_snippet, snippet_before, snippet_after
		FROM pattern_matches
		WHERE report_id = ?
		ORDER BY id
	`, reportID)
	if err != nil {
		return fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			index         int
			patternID     string
			m             types.PatternMatch
			hasSnippet    bool
			before, after []byte
		)
		if err := rows.Scan(&index, &patternID, &m.Offset, &m.Length, &m.Data, &hasSnippet, &before, &after); err != nil {
			return fmt.Errorf("scanning match: %w", err)
		}
		if hasSnippet {
			m.Snippet = &types.Snippet{Before: before, Matching: m.Data, After: after}
		}

		for len(r.Patterns) <= index {
			r.Patterns = append(r.Patterns, types.PatternMatches{})
		}
		r.Patterns[index].ID = patternID
		r.Patterns[index].Matches = append(r.Patterns[index].Matches, m)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating matches: %w", err)
	}
	return nil
}

// GetProvenance retrieves every provenance record of a blob.
func (s *SQLiteStore) GetProvenance(blobID types.BlobID) ([]types.Provenance, error) {
	rows, err := s.db.Query(`
		SELECT type, path, repo_path, commit_hash
		FROM provenance
		WHERE blob_id = ?
		ORDER BY id
	`, blobID.Hex())
	if err != nil {
		return nil, fmt.Errorf("querying provenance: %w", err)
	}
	defer rows.Close()

	provs := []types.Provenance{}
	for rows.Next() {
		var kind, path, repoPath, commit string
		if err := rows.Scan(&kind, &path, &repoPath, &commit); err != nil {
			return nil, fmt.Errorf("scanning provenance: %w", err)
		}
		prov, err := provenanceFrom(kind, path, repoPath, commit)
		if err != nil {
			return nil, err
		}
		provs = append(provs, prov)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provenance: %w", err)
	}
	return provs, nil
}

// ReportExists checks if a report with this structural ID exists.
func (s *SQLiteStore) ReportExists(structuralID string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reports WHERE structural_id = ?", structuralID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking report existence: %w", err)
	}
	return count > 0, nil
}

// BlobExists checks if a blob has already been scanned.
func (s *SQLiteStore) BlobExists(id types.BlobID) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM blobs WHERE id = ?", id.Hex()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking blob existence: %w", err)
	}
	return count > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// decodeMeta restores meta values, keeping integers as int64 rather than
// the float64 encoding/json would produce.
func decodeMeta(metaJSON string) ([]types.Meta, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(metaJSON)))
	dec.UseNumber()

	var meta []types.Meta
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("unmarshaling meta: %w", err)
	}
	for i, m := range meta {
		n, ok := m.Value.(json.Number)
		if !ok {
			continue
		}
		v, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("meta %s: %w", m.Key, err)
		}
		meta[i].Value = v
	}
	return meta, nil
}
