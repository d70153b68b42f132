package enum

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// GitEnumerator enumerates blobs from a git repository.
type GitEnumerator struct {
	config Config
	// CommitRef is the revision whose tree is enumerated (defaults to HEAD).
	CommitRef string
	// AllHistory enumerates every blob reachable from any ref instead of
	// a single tree.
	AllHistory bool
}

// NewGitEnumerator creates a new git enumerator.
func NewGitEnumerator(config Config) *GitEnumerator {
	return &GitEnumerator{
		config:    config,
		CommitRef: "HEAD",
	}
}

// Enumerate yields each unique blob once. Full history uses the git
// binary when it is on PATH and go-git otherwise.
func (e *GitEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	if e.AllHistory {
		if gitBinaryAvailable() {
			return e.enumerateAllHistoryNative(ctx, callback)
		}
		return e.enumerateAllHistory(ctx, callback)
	}
	return e.enumerateRevision(ctx, callback)
}

func (e *GitEnumerator) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(e.config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	return repo, nil
}

// enumerateRevision walks the tree of a single commit.
func (e *GitEnumerator) enumerateRevision(ctx context.Context, callback Callback) error {
	repo, err := e.open()
	if err != nil {
		return err
	}

	ref := e.CommitRef
	if ref == "" {
		ref = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("failed to resolve ref %s: %w", ref, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return fmt.Errorf("failed to get commit: %w", err)
	}

	seen := make(map[plumbing.Hash]bool)
	return e.walkCommit(ctx, commit, seen, callback)
}

// enumerateAllHistory walks every commit reachable from any ref with
// go-git, yielding blobs in the first commit they are seen in.
func (e *GitEnumerator) enumerateAllHistory(ctx context.Context, callback Callback) error {
	repo, err := e.open()
	if err != nil {
		return err
	}

	iter, err := repo.Log(&git.LogOptions{All: true})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	seen := make(map[plumbing.Hash]bool)
	err = iter.ForEach(func(c *object.Commit) error {
		return e.walkCommit(ctx, c, seen, callback)
	})
	if errors.Is(err, storer.ErrStop) {
		return nil
	}
	return err
}

func (e *GitEnumerator) walkCommit(ctx context.Context, commit *object.Commit, seen map[plumbing.Hash]bool, callback Callback) error {
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("failed to get tree: %w", err)
	}

	meta := &types.CommitMetadata{
		CommitID:       commit.Hash.String(),
		AuthorName:     commit.Author.Name,
		AuthorEmail:    commit.Author.Email,
		AuthorTime:     commit.Author.When,
		CommitterName:  commit.Committer.Name,
		CommitterEmail: commit.Committer.Email,
		CommitterTime:  commit.Committer.When,
		Message:        commit.Message,
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if seen[f.Hash] {
			return nil
		}
		seen[f.Hash] = true

		if e.config.MaxFileSize > 0 && f.Size > e.config.MaxFileSize {
			return nil
		}

		content, err := blobContents(f)
		if err != nil {
			return fmt.Errorf("failed to get contents of %s: %w", f.Name, err)
		}

		if e.config.TextOnly && isBinary(content) {
			return nil
		}

		// The git object hash is the blob ID: both are
		// SHA-1("blob {len}\0{content}").
		var blobID types.BlobID
		copy(blobID[:], f.Hash[:])

		return callback(content, blobID, types.GitProvenance{
			RepoPath: e.config.Root,
			Commit:   meta,
			BlobPath: f.Name,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to walk tree: %w", err)
	}
	return nil
}

func blobContents(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := make([]byte, f.Size)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, err
	}
	return content, nil
}
