package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// IsPostgresURL reports whether path names a PostgreSQL database rather
// than a file.
func IsPostgresURL(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}

// postgresSchema mirrors the SQLite schema with PostgreSQL types.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		size BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id BIGSERIAL PRIMARY KEY,
		structural_id TEXT NOT NULL UNIQUE,
		blob_id TEXT NOT NULL REFERENCES blobs(id),
		namespace TEXT NOT NULL,
		rule TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		meta_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_blob_id ON reports(blob_id)`,
	`CREATE TABLE IF NOT EXISTS pattern_matches (
		id BIGSERIAL PRIMARY KEY,
		report_id BIGINT NOT NULL REFERENCES reports(id),
		pattern_index INTEGER NOT NULL,
		pattern_id TEXT NOT NULL,
		offset_start BIGINT NOT NULL,
		length INTEGER NOT NULL,
		data BYTEA,
		has_snippet BOOLEAN NOT NULL DEFAULT FALSE,
		snippet_before BYTEA,
		snippet_after BYTEA
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pattern_matches_report_id ON pattern_matches(report_id)`,
	`CREATE TABLE IF NOT EXISTS provenance (
		id BIGSERIAL PRIMARY KEY,
		blob_id TEXT NOT NULL REFERENCES blobs(id),
		type TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		repo_path TEXT NOT NULL DEFAULT '',
		commit_hash TEXT NOT NULL DEFAULT '',
		UNIQUE (blob_id, type, path, repo_path, commit_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provenance_blob_id ON provenance(blob_id)`,
}

// PostgresStore implements Store on a PostgreSQL database shared by
// several scanners. A single connection is used; calls are serialized.
type PostgresStore struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// NewPostgres connects to the database at url and creates the schema.
func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &PostgresStore{conn: conn}
	if err := s.createSchema(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	var version int
	err := s.conn.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = s.conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", SchemaVersion)
		return err
	case err != nil:
		return err
	case version != SchemaVersion:
		return fmt.Errorf("unsupported schema version %d (want %d)", version, SchemaVersion)
	}
	return nil
}

// AddBlob stores a blob record.
func (s *PostgresStore) AddBlob(id types.BlobID, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(context.Background(),
		"INSERT INTO blobs (id, size) VALUES ($1, $2) ON CONFLICT DO NOTHING", id.Hex(), size)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

// AddProvenance associates provenance with a blob.
func (s *PostgresStore) AddProvenance(blobID types.BlobID, prov types.Provenance) error {
	path, repoPath, commit, err := provenanceFields(prov)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.Exec(context.Background(), `
		INSERT INTO provenance (blob_id, type, path, repo_path, commit_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, blobID.Hex(), prov.Kind(), path, repoPath, commit)
	if err != nil {
		return fmt.Errorf("inserting provenance: %w", err)
	}
	return nil
}

// AddReport stores a match report with its pattern matches.
func (s *PostgresStore) AddReport(r *types.MatchReport) error {
	if err := validateReport(r); err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	metaJSON, err := json.Marshal(r.Meta)
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var reportID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO reports (structural_id, blob_id, namespace, rule, tags_json, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (structural_id) DO NOTHING
		RETURNING id
	`, r.StructuralID, r.BlobID.Hex(), r.Namespace, r.Rule, string(tagsJSON), string(metaJSON)).Scan(&reportID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	batch := &pgx.Batch{}
	for i, p := range r.Patterns {
		for _, m := range p.Matches {
			var before, after []byte
			if m.Snippet != nil {
				before, after = m.Snippet.Before, m.Snippet.After
			}
			batch.Queue(`
				INSERT INTO pattern_matches
				(report_id, pattern_index, pattern_id, offset_start, length, data, has_snippet, snippet_before, snippet_after)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, reportID, i, p.ID, m.Offset, m.Length, m.Data, m.Snippet != nil, before, after)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting matches: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}
	return nil
}

// GetReports retrieves the reports for a blob.
func (s *PostgresStore) GetReports(blobID types.BlobID) ([]*types.MatchReport, error) {
	return s.loadReports("WHERE blob_id = $1", blobID.Hex())
}

// GetAllReports retrieves every report.
func (s *PostgresStore) GetAllReports() ([]*types.MatchReport, error) {
	return s.loadReports("")
}

func (s *PostgresStore) loadReports(where string, args ...any) ([]*types.MatchReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	rows, err := s.conn.Query(ctx, `
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
		if r.BlobID, err = types.ParseBlobID(blobHex); err != nil {
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}

	// The connection runs one query at a time.
	for i, id := range ids {
		if err := s.loadMatches(ctx, id, reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *PostgresStore) loadMatches(ctx context.Context, reportID int64, r *types.MatchReport) error {
	rows, err := s.conn.Query(ctx, `
		SELECT pattern_index, pattern_id, offset_start, length, data, has_snippet, snippet_before, snippet_after
		FROM pattern_matches
		WHERE report_id = $1
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
func (s *PostgresStore) GetProvenance(blobID types.BlobID) ([]types.Provenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(context.Background(), `
		SELECT type, path, repo_path, commit_hash
		FROM provenance
		WHERE blob_id = $1
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
func (s *PostgresStore) ReportExists(structuralID string) (bool, error) {
	return s.exists("SELECT EXISTS (SELECT 1 FROM reports WHERE structural_id = $1)", structuralID)
}

// BlobExists checks if a blob has already been scanned.
func (s *PostgresStore) BlobExists(id types.BlobID) (bool, error) {
	return s.exists("SELECT EXISTS (SELECT 1 FROM blobs WHERE id = $1)", id.Hex())
}

func (s *PostgresStore) exists(query string, arg any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	if err := s.conn.QueryRow(context.Background(), query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return found, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close(context.Background())
}
