// Package datastore keeps a content-addressed copy of matched blobs next to
// a result store, so later reports can show lines and snippets.
package datastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// ErrBlobNotFound is returned by Get for blobs the archive does not hold.
var ErrBlobNotFound = errors.New("blob not found")

// Archive stores blob content under Root, laid out like git loose objects:
// Root/ab/cdef... for blob ab cdef...
type Archive struct {
	Root string
}

// Open creates the archive directory if needed. The directory gets a
// .gitignore so an archive inside a repository is never committed.
func Open(root string) (*Archive, error) {
	if root == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	ignore := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte("*\n"), 0o644); err != nil {
			return nil, fmt.Errorf("writing .gitignore: %w", err)
		}
	}
	return &Archive{Root: root}, nil
}

// Put stores content and returns its blob ID. Storing the same content
// twice is a no-op. Put is safe for concurrent use.
func (a *Archive) Put(content []byte) (types.BlobID, error) {
	id := types.ComputeBlobID(content)
	path := a.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.BlobID{}, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return types.BlobID{}, fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return types.BlobID{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return types.BlobID{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return types.BlobID{}, fmt.Errorf("renaming blob: %w", err)
	}
	return id, nil
}

// Get returns the archived content of id. The content is verified against
// its ID.
func (a *Archive) Get(id types.BlobID) ([]byte, error) {
	content, err := os.ReadFile(a.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id.Hex())
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if types.ComputeBlobID(content) != id {
		return nil, fmt.Errorf("archived blob %s is corrupt", id.Hex())
	}
	return content, nil
}

// Has reports whether id is archived.
func (a *Archive) Has(id types.BlobID) bool {
	_, err := os.Stat(a.path(id))
	return err == nil
}

func (a *Archive) path(id types.BlobID) string {
	hex := id.Hex()
	return filepath.Join(a.Root, hex[:2], hex[2:])
}
