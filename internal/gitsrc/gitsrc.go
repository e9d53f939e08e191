// Package gitsrc reads diffs and file trees from a local git repository.
package gitsrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var (
	// ErrEmptyPath is returned by Open for an empty path.
	ErrEmptyPath = errors.New("gitsrc: repository path cannot be empty")
	// ErrInvalidRevision is returned when a revision does not resolve to a
	// commit.
	ErrInvalidRevision = errors.New("gitsrc: invalid revision")
)

// Repo is an opened repository.
type Repo struct {
	path string
	repo *gogit.Repository
}

// Open opens the repository containing path, searching parent directories
// for the .git directory.
func Open(p string) (*Repo, error) {
	if p == "" {
		return nil, ErrEmptyPath
	}
	repo, err := gogit.PlainOpenWithOptions(p, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", p, err)
	}
	return &Repo{path: p, repo: repo}, nil
}

// Path returns the path the repository was opened from.
func (r *Repo) Path() string { return r.path }

// Resolve returns the commit hash a revision (branch, tag, hash, HEAD~n)
// points at.
func (r *Repo) Resolve(rev string) (string, error) {
	c, err := r.commit(rev)
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

// Diff returns the unified diff between two revisions in git's format.
func (r *Repo) Diff(ctx context.Context, from, to string) (string, error) {
	fromCommit, err := r.commit(from)
	if err != nil {
		return "", err
	}
	toCommit, err := r.commit(to)
	if err != nil {
		return "", err
	}
	patch, err := fromCommit.PatchContext(ctx, toCommit)
	if err != nil {
		return "", fmt.Errorf("diff %s..%s: %w", from, to, err)
	}
	return patch.String(), nil
}

// Slug returns "owner/name" derived from the origin remote URL, or "" when
// there is no origin.
func (r *Repo) Slug() string {
	remote, err := r.repo.Remote("origin")
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return SlugFromURL(remote.Config().URLs[0])
}

// Tree returns a source over the files of a revision.
func (r *Repo) Tree(rev string) *Tree {
	return &Tree{repo: r, rev: rev}
}

func (r *Repo) commit(rev string) (*object.Commit, error) {
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRevision, rev, err)
	}
	c, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRevision, rev, err)
	}
	return c, nil
}

// Tree walks the files of one revision. Binary files are skipped.
type Tree struct {
	repo *Repo
	rev  string
}

// Walk calls fn for each text file in the revision, in tree order. Returning
// an error from fn stops the walk.
func (t *Tree) Walk(ctx context.Context, fn func(path string, content []byte) error) error {
	c, err := t.repo.commit(t.rev)
	if err != nil {
		return err
	}
	tree, err := c.Tree()
	if err != nil {
		return fmt.Errorf("tree of %s: %w", t.rev, err)
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if binary, err := f.IsBinary(); err != nil || binary {
			return nil
		}
		rd, err := f.Reader()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rd)
		_ = rd.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		return fn(f.Name, content)
	})
	if err != nil {
		return err
	}
	return nil
}

// String describes the source for logs.
func (t *Tree) String() string {
	rev := t.rev
	if rev == "" {
		rev = "HEAD"
	}
	return t.repo.path + "@" + rev
}

// SlugFromURL extracts "owner/name" from https, ssh and scp-style remote
// URLs. It returns "" when the URL has fewer than two path segments.
func SlugFromURL(u string) string {
	u = strings.TrimSuffix(strings.TrimSpace(u), "/")
	u = strings.TrimSuffix(u, ".git")
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.Index(u, "/"); j >= 0 {
			u = u[j+1:]
		} else {
			return ""
		}
	} else if i := strings.Index(u, ":"); i >= 0 {
		u = u[i+1:]
	}
	dir, name := path.Split(u)
	owner := path.Base(strings.TrimSuffix(dir, "/"))
	if owner == "." || owner == "/" || owner == "" || name == "" {
		return ""
	}
	return owner + "/" + name
}
