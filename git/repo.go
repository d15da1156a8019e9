// Package git reads the staged state of a repository and records commits.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ByteMirror/clawdcommit/log"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// MaxDiffBytes caps the staged diff read from git.
const MaxDiffBytes = 10 << 20

// MaxContentBytes caps the staged content returned for a single file.
const MaxContentBytes = 512 << 10

// ErrNotRepository is returned by Open outside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Repo is an opened repository work tree.
type Repo struct {
	root string
	repo *gogit.Repository

	// go-git repositories are not safe for concurrent use.
	mu sync.Mutex
}

// Open finds the repository containing dir, walking up to its root.
func Open(dir string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", ErrNotRepository, abs, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no work tree (%v)", ErrNotRepository, abs, err)
	}
	return &Repo{root: wt.Filesystem.Root(), repo: repo}, nil
}

// Root returns the top-level directory of the work tree.
func (r *Repo) Root() string {
	return r.root
}

// StagedDiff returns the output of `git diff --staged`.
func (r *Repo) StagedDiff(ctx context.Context) (string, error) {
	out, err := r.runGit(ctx, nil, "--no-pager", "diff", "--staged")
	if err != nil {
		return "", err
	}
	if len(out) > MaxDiffBytes {
		return "", fmt.Errorf("staged diff is %d bytes, larger than the %d byte limit", len(out), MaxDiffBytes)
	}
	return out, nil
}

// RecentCommitLog returns the last count commits reachable from HEAD, newest
// first, one "<short-hash> <subject>" per line.
func (r *Repo) RecentCommitLog(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return "", fmt.Errorf("failed to read commit log: %w", err)
	}
	defer iter.Close()

	lines := make([]string, 0, count)
	err = iter.ForEach(func(c *object.Commit) error {
		lines = append(lines, fmt.Sprintf("%s %s", c.Hash.String()[:7], subject(c.Message)))
		if len(lines) == count {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk commit log: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// StagedFileContent returns the content of path as recorded in the index.
// The second result is false when the file is not staged, cannot be read,
// looks binary, exceeds MaxContentBytes, or ctx is done.
func (r *Repo) StagedFileContent(ctx context.Context, path string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.repo.Storer.Index()
	if err != nil {
		log.WarningLog.Printf("failed to read index: %v", err)
		return "", false
	}
	entry, err := idx.Entry(filepath.ToSlash(path))
	if err != nil {
		log.DebugLog.Printf("%s not in index: %v", path, err)
		return "", false
	}
	if entry.Size > MaxContentBytes {
		return "", false
	}

	blob, err := r.repo.BlobObject(entry.Hash)
	if err != nil {
		log.WarningLog.Printf("failed to load blob %s for %s: %v", entry.Hash, path, err)
		return "", false
	}
	if blob.Size > MaxContentBytes {
		return "", false
	}
	rd, err := blob.Reader()
	if err != nil {
		return "", false
	}
	defer rd.Close()

	data, err := io.ReadAll(io.LimitReader(rd, MaxContentBytes+1))
	if err != nil || len(data) > MaxContentBytes || bytes.IndexByte(data, 0) >= 0 {
		return "", false
	}
	if ctx.Err() != nil {
		return "", false
	}
	return string(data), true
}

// Commit records the staged changes with message and returns git's summary.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	out, err := r.runGit(ctx, strings.NewReader(message), "commit", "-F", "-")
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// runGit executes git in the work tree and returns its stdout.
func (r *Repo) runGit(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.root}, args...)...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("git command failed: %s (%w)", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

func subject(message string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(first)
}
