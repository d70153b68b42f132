package types

import "time"

// Provenance tracks where a scanned blob came from.
type Provenance interface {
	Kind() string
	// Path returns displayable path (if applicable)
	Path() string
}

// FileProvenance for filesystem files.
type FileProvenance struct {
	FilePath string
}

// Kind returns "file".
func (f FileProvenance) Kind() string {
	return "file"
}

// Path returns the file path.
func (f FileProvenance) Path() string {
	return f.FilePath
}

// GitProvenance for blobs read from a git revision.
type GitProvenance struct {
	RepoPath string
	Commit   *CommitMetadata // nil if not tracking commit info
	BlobPath string          // path within repo at commit
}

// Kind returns "git".
func (g GitProvenance) Kind() string {
	return "git"
}

// Path returns the blob path within the repository.
func (g GitProvenance) Path() string {
	return g.BlobPath
}

// CommitMetadata holds git commit information.
type CommitMetadata struct {
	CommitID       string
	AuthorName     string
	AuthorEmail    string
	AuthorTime     time.Time
	CommitterName  string
	CommitterEmail string
	CommitterTime  time.Time
	Message        string
}

// BufferProvenance for in-memory buffers handed over by a caller, such as
// requests on the streaming server.
type BufferProvenance struct {
	Source string
}

// Kind returns "buffer".
func (b BufferProvenance) Kind() string {
	return "buffer"
}

// Path returns the caller supplied source label.
func (b BufferProvenance) Path() string {
	return b.Source
}

// ArchiveProvenance for members extracted from an archive or document.
type ArchiveProvenance struct {
	ArchivePath string
	MemberPath  string // path within the archive
}

// Kind returns "archive".
func (a ArchiveProvenance) Kind() string {
	return "archive"
}

// Path returns the archive path and member joined by "!".
func (a ArchiveProvenance) Path() string {
	return a.ArchivePath + "!" + a.MemberPath
}
