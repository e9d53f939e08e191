package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
)

// KnowledgeInput holds the knowledge workflow parameters. Zero TopK and a
// nil Threshold use the worker's retrieval settings.
type KnowledgeInput struct {
	DiffText  string
	TopK      int
	Threshold *float64
}

// IndexInput holds the index workflow parameters.
type IndexInput struct {
	Root     string
	Repo     string
	Revision string // empty indexes the working tree
	Reindex  bool
	// Incremental re-indexes only changed files, tracking state under
	// <Root>/.whetstone/state.json. It cannot be combined with Reindex.
	Incremental bool
}

// IndexOutput holds the index workflow result.
type IndexOutput struct {
	Stats indexer.Stats
}

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	}
}

// KnowledgeWorkflow parses a diff, then retrieves similar patterns and
// related files concurrently.
func KnowledgeWorkflow(ctx workflow.Context, input KnowledgeInput) (*retrieve.Knowledge, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(5*time.Minute))

	var changes []diff.FileChange
	if err := workflow.ExecuteActivity(ctx, ParseDiffActivity, input.DiffText).Get(ctx, &changes); err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	out := &retrieve.Knowledge{
		Patterns:      []retrieve.Pattern{},
		BestPractices: []retrieve.BestPractice{},
		Related:       []retrieve.RelatedFile{},
	}
	if len(changes) == 0 {
		return out, nil
	}

	patternsF := workflow.ExecuteActivity(ctx, RetrievePatternsActivity, input, changes)
	relatedF := workflow.ExecuteActivity(ctx, RelatedFilesActivity, changes)

	var patterns []retrieve.Pattern
	if err := patternsF.Get(ctx, &patterns); err != nil {
		return nil, fmt.Errorf("retrieve patterns: %w", err)
	}
	var related []retrieve.RelatedFile
	if err := relatedF.Get(ctx, &related); err != nil {
		return nil, fmt.Errorf("related files: %w", err)
	}

	if patterns != nil {
		out.Patterns = patterns
	}
	if related != nil {
		out.Related = related
	}
	return out, nil
}

// IndexWorkflow indexes a repository tree.
func IndexWorkflow(ctx workflow.Context, input IndexInput) (*IndexOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out IndexOutput
	if err := workflow.ExecuteActivity(ctx, IndexActivity, input).Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	workflow.GetLogger(ctx).Info("index workflow complete",
		"repo", out.Stats.Repo, "files", out.Stats.Files, "units", out.Stats.Units)
	return &out, nil
}
