package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/types"
)

func TestOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "samples")

	a, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, root, a.Root)

	ignore, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(ignore))

	// Reopening keeps an edited .gitignore.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("custom\n"), 0o644))
	_, err = Open(root)
	require.NoError(t, err)
	ignore, err = os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(ignore))

	_, err = Open("")
	assert.Error(t, err)
}

func TestArchive_PutGet(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("<?php eval($_POST['x']); ?>\n")
	id, err := a.Put(content)
	require.NoError(t, err)
	assert.Equal(t, types.ComputeBlobID(content), id)

	hex := id.Hex()
	assert.FileExists(t, filepath.Join(a.Root, hex[:2], hex[2:]))
	assert.True(t, a.Has(id))

	got, err := a.Get(id)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	again, err := a.Put(content)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	entries, err := os.ReadDir(filepath.Join(a.Root, hex[:2]))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestArchive_EmptyBlob(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := a.Put(nil)
	require.NoError(t, err)
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", id.Hex())

	got, err := a.Get(id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArchive_Missing(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)

	id := types.ComputeBlobID([]byte("never stored"))
	assert.False(t, a.Has(id))

	_, err = a.Get(id)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestArchive_Corrupt(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := a.Put([]byte("original"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.path(id), []byte("tampered"), 0o644))

	_, err = a.Get(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestArchive_ConcurrentPut(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Put([]byte(fmt.Sprintf("blob %d", i%4)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := range 4 {
		content := []byte(fmt.Sprintf("blob %d", i))
		got, err := a.Get(types.ComputeBlobID(content))
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}
