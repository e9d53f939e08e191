package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/gitsrc"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
)

// ErrNotConfigured is returned by activities when the worker was started
// without the collaborator they need.
var ErrNotConfigured = errors.New("temporal: activity dependencies not configured")

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Retriever *retrieve.Retriever
	Indexer   *indexer.Indexer
	Logger    *slog.Logger
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// ParseDiffActivity splits a unified diff into per-file changes.
func ParseDiffActivity(_ context.Context, diffText string) ([]diff.FileChange, error) {
	return diff.Parse(diffText), nil
}

// RetrievePatternsActivity looks up indexed code similar to the added lines.
func RetrievePatternsActivity(ctx context.Context, input KnowledgeInput, changes []diff.FileChange) ([]retrieve.Pattern, error) {
	if deps == nil || deps.Retriever == nil {
		return nil, ErrNotConfigured
	}
	opts := deps.Retriever.Options()
	if input.TopK > 0 {
		opts.TopK = input.TopK
	}
	if input.Threshold != nil {
		opts.Threshold = *input.Threshold
	}
	heartbeat(ctx, "patterns", len(changes))
	patterns, err := deps.Retriever.PatternsWith(ctx, changes, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieve patterns: %w", err)
	}
	return patterns, nil
}

// RelatedFilesActivity finds indexed files sharing a base name with a
// changed file.
func RelatedFilesActivity(ctx context.Context, changes []diff.FileChange) ([]retrieve.RelatedFile, error) {
	if deps == nil || deps.Retriever == nil {
		return nil, ErrNotConfigured
	}
	heartbeat(ctx, "related", len(changes))
	related, err := deps.Retriever.Related(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("related files: %w", err)
	}
	return related, nil
}

// IndexActivity indexes a working tree, or a committed tree when a revision
// is given.
func IndexActivity(ctx context.Context, input IndexInput) (IndexOutput, error) {
	if deps == nil || deps.Indexer == nil {
		return IndexOutput{}, ErrNotConfigured
	}
	if input.Reindex && input.Incremental {
		return IndexOutput{}, temporal.NewNonRetryableApplicationError(
			"reindex and incremental are mutually exclusive", "InvalidInput", nil)
	}

	var src indexer.Source = indexer.Dir(input.Root)
	repo := input.Repo
	if input.Revision != "" {
		r, err := gitsrc.Open(input.Root)
		if err != nil {
			return IndexOutput{}, err
		}
		if _, err := r.Resolve(input.Revision); err != nil {
			return IndexOutput{}, err
		}
		src = r.Tree(input.Revision)
		if repo == "" {
			repo = r.Slug()
		}
	}

	heartbeat(ctx, "index", 0)
	run := deps.Indexer.Index
	switch {
	case input.Reindex:
		run = deps.Indexer.Reindex
	case input.Incremental:
		run = func(ctx context.Context, src indexer.Source, repo string) (indexer.Stats, error) {
			return updateWithState(ctx, src, repo, filepath.Join(input.Root, indexer.DefaultStatePath))
		}
	}
	stats, err := run(ctx, src, repo)
	if err != nil {
		return IndexOutput{Stats: stats}, fmt.Errorf("index %s: %w", input.Root, err)
	}
	return IndexOutput{Stats: stats}, nil
}

func updateWithState(ctx context.Context, src indexer.Source, repo, statePath string) (indexer.Stats, error) {
	prev, err := indexer.LoadState(statePath)
	if err != nil {
		return indexer.Stats{Repo: repo}, err
	}
	stats, next, err := deps.Indexer.Update(ctx, src, repo, prev)
	if err != nil {
		return stats, err
	}
	return stats, next.Save(statePath)
}

// heartbeat is a no-op outside an activity context.
func heartbeat(ctx context.Context, stage string, n int) {
	if !activity.IsActivity(ctx) {
		return
	}
	activity.RecordHeartbeat(ctx, stage, n)
}
