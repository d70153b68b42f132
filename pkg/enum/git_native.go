package enum

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// blobEntry holds a deduplicated blob hash and its first-seen path.
type blobEntry struct {
	hash [20]byte
	path string
}

// gitBinaryAvailable returns true if the git binary is on PATH.
func gitBinaryAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// enumerateAllHistoryNative enumerates history with the git binary.
// Phase 1: git rev-list --all --objects collects unique object hashes with paths.
// Phase 2: git cat-file --batch streams content, filters and invokes callback.
func (e *GitEnumerator) enumerateAllHistoryNative(ctx context.Context, callback Callback) error {
	blobs, err := e.collectBlobEntries(ctx)
	if err != nil {
		return err
	}

	return e.streamBlobContents(ctx, blobs, callback)
}

// collectBlobEntries runs git rev-list --all --objects and returns deduplicated blob entries.
func (e *GitEnumerator) collectBlobEntries(ctx context.Context) ([]blobEntry, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-list", "--all", "--objects")
	cmd.Dir = e.config.Root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("git rev-list: pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("git rev-list: start: %w", err)
	}

	seen := make(map[[20]byte]bool)
	var blobs []blobEntry

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()

		// Lines with a space at position 40 have a path: "<40-hex> <path>".
		// Commits and root trees have none.
		spaceIdx := strings.IndexByte(line, ' ')
		if spaceIdx != 40 {
			continue
		}

		hexStr := line[:40]
		path := line[41:]

		var hash [20]byte
		decoded, err := hex.DecodeString(hexStr)
		if err != nil {
			continue
		}
		copy(hash[:], decoded)

		if seen[hash] {
			continue
		}
		seen[hash] = true

		blobs = append(blobs, blobEntry{hash: hash, path: path})
	}

	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("git rev-list: scan: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("git rev-list: %w", err)
	}

	return blobs, nil
}

// catFile is a running "git cat-file --batch" process.
type catFile struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// abort stops the process and returns err, or the context error when the
// failure was caused by cancellation.
func (c *catFile) abort(what string, err error) error {
	c.stdin.Close()
	_ = c.cmd.Wait()
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	if what == "" {
		return err
	}
	return fmt.Errorf("git cat-file: %s: %w", what, err)
}

// next requests one object. It returns the object type and its content,
// or nil content when the object is missing or was skipped because
// keep returned false for its type and size.
func (c *catFile) next(hash [20]byte, keep func(objType string, size int64) bool) (string, []byte, error) {
	if _, err := fmt.Fprintf(c.stdin, "%s\n", hex.EncodeToString(hash[:])); err != nil {
		return "", nil, c.abort("write", err)
	}

	// Header: "<hash> <type> <size>" or "<hash> missing"
	header, err := c.reader.ReadString('\n')
	if err != nil {
		return "", nil, c.abort("read header", err)
	}
	parts := strings.SplitN(strings.TrimSuffix(header, "\n"), " ", 3)
	if len(parts) < 3 || parts[1] == "missing" {
		return "", nil, nil
	}

	objType := parts[1]
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", nil, c.abort(fmt.Sprintf("parse size %q", parts[2]), err)
	}

	// Content is followed by a newline.
	if !keep(objType, size) {
		if _, err := io.CopyN(io.Discard, c.reader, size+1); err != nil {
			return "", nil, c.abort("discard", err)
		}
		return objType, nil, nil
	}

	content := make([]byte, size)
	if _, err := io.ReadFull(c.reader, content); err != nil {
		return "", nil, c.abort("read content", err)
	}
	if _, err := c.reader.ReadByte(); err != nil {
		return "", nil, c.abort("read trailing newline", err)
	}
	return objType, content, nil
}

// streamBlobContents feeds hashes to git cat-file --batch and invokes
// callback per blob. Writes and reads are interleaved so neither pipe
// fills up.
func (e *GitEnumerator) streamBlobContents(ctx context.Context, blobs []blobEntry, callback Callback) error {
	if len(blobs) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "cat-file", "--batch")
	cmd.Dir = e.config.Root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("git cat-file: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git cat-file: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("git cat-file: start: %w", err)
	}

	cf := &catFile{ctx: ctx, cmd: cmd, stdin: stdin, reader: bufio.NewReaderSize(stdout, 256*1024)}
	keep := func(objType string, size int64) bool {
		return objType == "blob" && (e.config.MaxFileSize <= 0 || size <= e.config.MaxFileSize)
	}

	for i, blob := range blobs {
		if i%1000 == 0 && ctx.Err() != nil {
			return cf.abort("", ctx.Err())
		}

		objType, content, err := cf.next(blob.hash, keep)
		if err != nil {
			return err
		}
		if objType != "blob" || content == nil {
			continue
		}
		if e.config.TextOnly && isBinary(content) {
			continue
		}

		// The git object hash is the blob ID.
		var blobID types.BlobID
		copy(blobID[:], blob.hash[:])

		prov := types.GitProvenance{RepoPath: e.config.Root, BlobPath: blob.path}
		if err := callback(content, blobID, prov); err != nil {
			return cf.abort("", err)
		}
	}

	stdin.Close()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("git cat-file: %w", err)
	}
	return nil
}
