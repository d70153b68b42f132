package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envPostgresURL names a database the tests may create schemas in.
const envPostgresURL = "TRAWL_TEST_POSTGRES_URL"

// newTestPostgres returns a store in a fresh schema, or nil when no test
// database is configured.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	base := os.Getenv(envPostgresURL)
	if base == "" {
		return nil
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, base)
	require.NoError(t, err)
	schema := fmt.Sprintf("trawl_test_%d", time.Now().UnixNano())
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		admin.Close(ctx)
	})

	u, err := url.Parse(base)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	s, err := NewPostgres(ctx, u.String())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsPostgresURL(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "postgres://localhost/trawl", want: true},
		{path: "postgresql://user@db:5432/trawl?sslmode=disable", want: true},
		{path: "results.db", want: false},
		{path: MemoryPath, want: false},
		{path: "/var/lib/postgres/results.db", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPostgresURL(tt.path), tt.path)
	}
}

func TestNewPostgres_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, "postgres://trawl@127.0.0.1:1/trawl?connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to postgres")
}

func TestPostgresStore_Reopen(t *testing.T) {
	s := newTestPostgres(t)
	if s == nil {
		t.Skipf("%s not set", envPostgresURL)
	}

	content := []byte("MZ payload")
	r := sampleReport(content, "Dropper")
	require.NoError(t, s.AddBlob(r.BlobID, int64(len(content))))
	require.NoError(t, s.AddReport(r))

	// Creating the schema again is a no-op.
	require.NoError(t, s.createSchema(context.Background()))
	ok, err := s.ReportExists(r.StructuralID)
	require.NoError(t, err)
	assert.True(t, ok)
}
