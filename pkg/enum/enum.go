// Package enum discovers the blobs a scan covers: files under a directory
// tree or the contents of a git repository.
package enum

import (
	"bytes"
	"context"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// Callback receives one blob with its ID and where it came from.
// Returning an error stops enumeration.
type Callback func(content []byte, blobID types.BlobID, prov types.Provenance) error

// Enumerator discovers content to scan from a source.
type Enumerator interface {
	// Enumerate yields blobs from the source. Callbacks may run
	// concurrently.
	Enumerate(ctx context.Context, callback Callback) error
}

// Config for enumeration.
type Config struct {
	// Root is the starting path: a directory, a single file or a git
	// repository.
	Root string

	// IncludeHidden includes hidden files/directories (starting with .).
	IncludeHidden bool

	// MaxFileSize is the maximum file size to process (0 = no limit).
	MaxFileSize int64

	// FollowSymlinks follows symbolic links to files.
	FollowSymlinks bool

	// NoIgnore disables .gitignore handling.
	NoIgnore bool

	// TextOnly skips blobs that look binary. Signature scans usually want
	// binaries, so this is off by default.
	TextOnly bool

	// Workers bounds parallel file reads (0 = runtime.NumCPU()).
	Workers int

	// ExtractArchives selects container types whose members are scanned
	// as well as the container itself: comma separated extensions
	// ("zip,7z,pdf") or "all". Empty disables extraction. Filesystem
	// enumeration only.
	ExtractArchives string

	// ExtractLimits bounds the members read from one container.
	ExtractLimits ExtractLimits
}

// isBinary detects if content is binary by checking first 8KB for null bytes.
func isBinary(content []byte) bool {
	checkSize := min(len(content), 8192)
	return bytes.IndexByte(content[:checkSize], 0) != -1
}
