package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/enum"
	"github.com/praetorian-inc/trawl/pkg/store"
	"github.com/praetorian-inc/trawl/pkg/types"
)

const testRules = `
rule Webshell : php {
	meta:
		severity = "high"
	strings:
		$eval = "eval("
	condition:
		$eval
}

rule PEHeader {
	strings:
		$mz = { 4D 5A }
	condition:
		$mz at 0
}
`

func TestMain(m *testing.M) {
	if err := trawl.Initialize(); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = trawl.Finalize()
	os.Exit(code)
}

func newCore(t *testing.T, cfg Config, opts ...trawl.Option) *Core {
	t.Helper()
	rules, err := trawl.NewRules(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rules.Destroy() })
	require.NoError(t, rules.CompileString(testRules))

	c, err := NewCore(rules, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewCore_RequiresRules(t *testing.T) {
	_, err := NewCore(nil, Config{})
	require.Error(t, err)
}

func TestCore_Scan(t *testing.T) {
	c := newCore(t, Config{})
	content := []byte("<?php eval($_GET['x']); ?>")
	prov := types.FileProvenance{FilePath: "shell.php"}

	res, err := c.Scan(content, prov)
	require.NoError(t, err)

	assert.Equal(t, "shell.php", res.Source)
	assert.Equal(t, types.ComputeBlobID(content), res.BlobID)
	assert.False(t, res.Skipped)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "default:Webshell", res.Reports[0].RuleID())

	exists, err := c.Store().BlobExists(res.BlobID)
	require.NoError(t, err)
	assert.True(t, exists)

	stored, err := c.Store().GetReports(res.BlobID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Reports[0].StructuralID, stored[0].StructuralID)

	provs, err := c.Store().GetProvenance(res.BlobID)
	require.NoError(t, err)
	assert.Equal(t, []types.Provenance{prov}, provs)
}

func TestCore_ScanNoMatchStillRecordsBlob(t *testing.T) {
	c := newCore(t, Config{})
	res, err := c.Scan([]byte("nothing to see"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Reports)
	assert.Empty(t, res.Source)

	exists, err := c.Store().BlobExists(res.BlobID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCore_Incremental(t *testing.T) {
	c := newCore(t, Config{Incremental: true})
	content := []byte("MZ\x90\x00")

	first, err := c.Scan(content, types.FileProvenance{FilePath: "a.exe"})
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	require.Len(t, first.Reports, 1)

	second, err := c.Scan(content, types.FileProvenance{FilePath: "copy/a.exe"})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Empty(t, second.Reports)

	provs, err := c.Store().GetProvenance(first.BlobID)
	require.NoError(t, err)
	assert.Len(t, provs, 2, "skipped blobs still record where they were seen")

	reports, err := c.Store().GetAllReports()
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestCore_ScanTooLarge(t *testing.T) {
	c := newCore(t, Config{}, trawl.WithMaxScanSize(4))
	_, err := c.Scan([]byte("0123456789"), nil)
	assert.ErrorIs(t, err, types.ErrInputTooLarge)
}

func TestCore_ExternalStore(t *testing.T) {
	s, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "results.db")})
	require.NoError(t, err)
	defer s.Close()

	c := newCore(t, Config{Store: s})
	_, err = c.Scan([]byte("eval(1)"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// The Core does not close a store it was given.
	reports, err := s.GetAllReports()
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestCore_ScanBatch(t *testing.T) {
	c := newCore(t, Config{Workers: 2}, trawl.WithMaxScanSize(64))

	items := []ContentItem{
		{Source: "one", Content: []byte("clean")},
		{Source: "two", Content: []byte("x = eval(y)"), Metadata: map[string]string{"origin": "upload"}},
		{Source: "three", Content: make([]byte, 100)},
		{Source: "four", Content: []byte("MZ eval(")},
	}

	batch, err := c.ScanBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, batch.Results, 4)

	for i, r := range batch.Results {
		assert.Equal(t, items[i].Source, r.Source)
	}
	assert.Empty(t, batch.Results[0].Reports)
	assert.Len(t, batch.Results[1].Reports, 1)
	assert.Equal(t, "upload", batch.Results[1].Metadata["origin"])
	assert.Contains(t, batch.Results[2].Error, "exceeds")
	assert.Len(t, batch.Results[3].Reports, 2)
	assert.Equal(t, 3, batch.Total)
}

func TestCore_ScanBatchCancelled(t *testing.T) {
	c := newCore(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ScanBatch(ctx, []ContentItem{{Source: "a", Content: []byte("eval(")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCore_ScanEnumerator(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"index.php":  "<?php eval($x);",
		"readme.txt": "hello",
		"tool.exe":   "MZ\x00\x00",
		"dup.exe":    "MZ\x00\x00",
		"huge.bin":   "0123456789abcdef0123456789abcdef",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	c := newCore(t, Config{Incremental: true}, trawl.WithMaxScanSize(16))
	e := enum.NewFilesystemEnumerator(enum.Config{Root: dir, Workers: 1})

	var seen []string
	stats, err := c.ScanEnumerator(context.Background(), e, func(r *ScanResult, content []byte) error {
		assert.Equal(t, types.ComputeBlobID(content), r.BlobID)
		seen = append(seen, filepath.Base(r.Source))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Blobs)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 2, stats.Reports)
	assert.Len(t, seen, 4, "failed scans are not passed on")
}

func TestCore_ScanEnumeratorStops(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("eval("), 0o644))

	c := newCore(t, Config{})
	stop := errors.New("stop")
	_, err := c.ScanEnumerator(context.Background(), enum.NewFilesystemEnumerator(enum.Config{Root: dir}), func(*ScanResult, []byte) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestCore_ScanFile(t *testing.T) {
	c := newCore(t, Config{})
	path := filepath.Join(t.TempDir(), "shell.php")
	require.NoError(t, os.WriteFile(path, []byte("eval(base64_decode($p))"), 0o644))

	res, err := c.ScanFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, res.Source)
	assert.Len(t, res.Reports, 1)

	_, err = c.ScanFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, types.ErrFileNotFound)
}
