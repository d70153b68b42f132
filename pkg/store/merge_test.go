package store

import (
	"path/filepath"
	"testing"

	"github.com/praetorian-inc/trawl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed writes reports with their blobs and a file provenance into a new
// database at path.
func seed(t *testing.T, path string, reports ...*types.MatchReport) {
	t.Helper()
	s, err := NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	for _, r := range reports {
		require.NoError(t, s.AddBlob(r.BlobID, 11))
		require.NoError(t, s.AddProvenance(r.BlobID, types.FileProvenance{FilePath: "/samples/" + r.Rule}))
		require.NoError(t, s.AddReport(r))
	}
}

func TestMerge_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MergeConfig
		wantErr string
	}{
		{
			name:    "no sources",
			cfg:     MergeConfig{DestPath: "dest.db"},
			wantErr: "no source databases",
		},
		{
			name:    "no destination",
			cfg:     MergeConfig{SourcePaths: []string{"source.db"}},
			wantErr: "destination path is required",
		},
		{
			name:    "postgres destination",
			cfg:     MergeConfig{SourcePaths: []string{"a.db"}, DestPath: "postgres://db/trawl"},
			wantErr: "SQLite files only",
		},
		{
			name:    "memory source",
			cfg:     MergeConfig{SourcePaths: []string{MemoryPath}, DestPath: "dest.db"},
			wantErr: "SQLite files only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMerge_MultipleSources(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.db")
	second := filepath.Join(dir, "second.db")
	dest := filepath.Join(dir, "dest.db")

	shared := sampleReport([]byte("xxmalwarexx"), "Shared")
	seed(t, first, shared, sampleReport([]byte("one"), "OnlyFirst"))
	seed(t, second, shared, sampleReport([]byte("two"), "OnlySecond"))

	stats, err := Merge(MergeConfig{SourcePaths: []string{first, second}, DestPath: dest})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.SourcesProcessed)
	assert.Equal(t, 3, stats.BlobsMerged)
	assert.Equal(t, 3, stats.ReportsMerged)
	assert.Equal(t, 3, stats.ProvenanceMerged)

	s, err := NewSQLite(dest)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.GetAllReports()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Shared", all[0].Rule)
	assert.Equal(t, 3, all[0].MatchCount())
	assert.Equal(t, shared.Meta, all[0].Meta)

	provs, err := s.GetProvenance(shared.BlobID)
	require.NoError(t, err)
	assert.Len(t, provs, 1)
}

func TestMerge_Idempotent(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.db")
	dest := filepath.Join(dir, "dest.db")
	seed(t, source, sampleReport([]byte("content"), "A"))

	_, err := Merge(MergeConfig{SourcePaths: []string{source}, DestPath: dest})
	require.NoError(t, err)

	stats, err := Merge(MergeConfig{SourcePaths: []string{source}, DestPath: dest})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BlobsMerged)
	assert.Equal(t, 0, stats.ReportsMerged)
	assert.Equal(t, 0, stats.ProvenanceMerged)
	assert.Equal(t, 1, stats.SourcesProcessed)
}
