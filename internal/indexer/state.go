package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/efebarandurmaz/whetstone/internal/observability"
)

const stateVersion = 1

// DefaultStatePath is where the CLI keeps incremental state.
const DefaultStatePath = ".whetstone/state.json"

// State records, per indexed file, the content hash and the unit ids stored
// for it, so that Update can skip unchanged files and retract stale units.
type State struct {
	Version int                   `json:"version"`
	Repo    string                `json:"repo"`
	LastRun time.Time             `json:"last_run"`
	Files   map[string]*FileState `json:"files"`
}

// FileState is one file's entry.
type FileState struct {
	Hash  string   `json:"hash"`
	Units []string `json:"units,omitempty"`
}

// NewState returns an empty state for repo.
func NewState(repo string) *State {
	return &State{Version: stateVersion, Repo: repo, Files: make(map[string]*FileState)}
}

// LoadState reads a state file. A missing file returns nil and no error.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.Files == nil {
		st.Files = make(map[string]*FileState)
	}
	return &st, nil
}

// Save writes the state atomically.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// Paths returns the tracked paths in sorted order.
func (s *State) Paths() []string {
	out := make([]string, 0, len(s.Files))
	for p := range s.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Fingerprint is the hex SHA-256 of content.
func Fingerprint(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// usable reports whether prev can drive an incremental run for repo.
func (s *State) usable(repo string) bool {
	return s != nil && s.Version == stateVersion && s.Repo == repo
}

// Update indexes only what changed since prev. Files whose content hash is
// unchanged are skipped; changed files have their previous units deleted
// before being indexed again; files that disappeared from src have their
// units deleted. A nil or foreign prev makes every file new. The returned
// state describes the index after the run and is nil when the walk failed.
func (ix *Indexer) Update(ctx context.Context, src Source, repo string, prev *State) (Stats, *State, error) {
	start := time.Now()
	stats := Stats{Repo: repo}
	if !prev.usable(repo) {
		prev = NewState(repo)
	}
	next := NewState(repo)

	ctx, span := observability.StartIndexSpan(ctx, fmt.Sprint(src), repo)
	defer span.End()

	err := src.Walk(ctx, func(p string, content []byte) error {
		if !ix.Eligible(p, content) {
			stats.Skipped++
			return nil
		}
		hash := Fingerprint(content)
		old := prev.Files[p]
		if old != nil && old.Hash == hash {
			next.Files[p] = old
			stats.Unchanged++
			return nil
		}
		if old != nil {
			if err := ix.retract(ctx, repo, p, old); err != nil {
				return err
			}
		}

		ids, masked, err := ix.indexFile(ctx, p, content, repo)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			ix.metrics.RecordIndexedFile(observability.OutcomeError, 0)
			ix.logger.Warn("failed to index file", "path", p, "error", err)
			return nil
		}
		next.Files[p] = &FileState{Hash: hash, Units: ids}
		stats.Files++
		stats.Units += len(ids)
		stats.Redacted += masked
		ix.metrics.RecordIndexedFile(observability.OutcomeOK, len(ids))
		return nil
	})
	if err == nil {
		for _, p := range prev.Paths() {
			if _, seen := next.Files[p]; seen {
				continue
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
			if rerr := ix.retract(ctx, repo, p, prev.Files[p]); rerr != nil {
				err = rerr
				break
			}
			stats.Removed++
		}
	}

	stats.Duration = time.Since(start)
	observability.RecordIndexResult(span, stats.Files, stats.Units, stats.Failed)
	if err != nil {
		observability.RecordError(span, err)
		return stats, nil, fmt.Errorf("update index: %w", err)
	}
	next.LastRun = time.Now().UTC()
	ix.logger.Info("incremental indexing complete", "repo", repo,
		"files", stats.Files, "unchanged", stats.Unchanged, "removed", stats.Removed, "failed", stats.Failed)
	return stats, next, nil
}

// retract deletes a file's previously stored units.
func (ix *Indexer) retract(ctx context.Context, repo, p string, fs *FileState) error {
	if err := ix.index.Delete(ctx, fs.Units); err != nil {
		return fmt.Errorf("delete units of %s: %w", p, err)
	}
	if ix.graph != nil {
		if err := ix.graph.DeleteFile(ctx, repo, p); err != nil {
			return fmt.Errorf("delete graph file %s: %w", p, err)
		}
	}
	return nil
}
