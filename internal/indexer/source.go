package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WalkFunc receives a repository-relative, slash-separated path and the
// file's content.
type WalkFunc = func(path string, content []byte) error

// Source enumerates the files to index. gitsrc.Tree satisfies it for git
// revisions.
type Source interface {
	Walk(ctx context.Context, fn WalkFunc) error
}

// Dir walks a directory on disk.
type Dir string

// Walk visits every regular file under the directory. Directories that
// would be skipped anyway (hidden, node_modules, __pycache__) are not
// descended into.
func (d Dir) Walk(ctx context.Context, fn WalkFunc) error {
	root := string(d)
	return filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if e.IsDir() {
			if rel != "." && skipSegment(e.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.Type().IsRegular() {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		return fn(rel, content)
	})
}
