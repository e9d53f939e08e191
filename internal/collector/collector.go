// Package collector assembles the review context of a change: parsed diff,
// detected languages, CI commands and, when available, retrieved knowledge.
package collector

import (
	"context"
	"log/slog"

	"github.com/efebarandurmaz/whetstone/internal/ciconfig"
	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
)

// PRMetadata describes the change under review.
type PRMetadata struct {
	Repo         string   `json:"repo,omitempty" yaml:"repo,omitempty"`
	Number       int      `json:"number,omitempty" yaml:"number,omitempty"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description" yaml:"description"`
	Labels       []string `json:"labels" yaml:"labels"`
	Author       string   `json:"author" yaml:"author"`
	BaseBranch   string   `json:"base_branch" yaml:"base_branch"`
	TargetBranch string   `json:"target_branch" yaml:"target_branch"`
}

// Context is everything known about a change.
type Context struct {
	Metadata    PRMetadata          `json:"pr_metadata" yaml:"pr_metadata"`
	FileChanges []diff.FileChange   `json:"file_changes" yaml:"file_changes"`
	CIConfig    ciconfig.CIConfig   `json:"ci_config" yaml:"ci_config"`
	DiffText    string              `json:"diff_text" yaml:"diff_text"`
	Knowledge   *retrieve.Knowledge `json:"retrieved_knowledge,omitempty" yaml:"retrieved_knowledge,omitempty"`
}

// Request is the input to Collect.
type Request struct {
	DiffText string
	Metadata PRMetadata
}

// Collector builds Contexts. The retriever is optional.
type Collector struct {
	classifier *lang.Classifier
	retriever  *retrieve.Retriever
	logger     *slog.Logger
}

// New returns a Collector. A nil retriever leaves Context.Knowledge unset.
func New(classifier *lang.Classifier, retriever *retrieve.Retriever, logger *slog.Logger) *Collector {
	return &Collector{
		classifier: classifier,
		retriever:  retriever,
		logger:     observability.OrDiscard(logger),
	}
}

// Collect parses the diff and derives the rest of the context. It does not
// fail: retrieval errors leave the knowledge empty.
func (c *Collector) Collect(ctx context.Context, req Request) *Context {
	ctx, span := observability.StartCollectSpan(ctx, req.Metadata.Repo, req.Metadata.Number)
	defer span.End()

	changes := diff.Parse(req.DiffText)
	out := &Context{
		Metadata:    req.Metadata,
		FileChanges: changes,
		CIConfig:    ciconfig.Detect(c.classifier, changes),
		DiffText:    req.DiffText,
	}
	if out.Metadata.Labels == nil {
		out.Metadata.Labels = []string{}
	}
	if c.retriever == nil {
		return out
	}

	k, err := c.retriever.Knowledge(ctx, changes)
	if err != nil {
		c.logger.Warn("knowledge retrieval failed", "error", err)
		observability.RecordError(span, err)
		k = &retrieve.Knowledge{
			Patterns:      []retrieve.Pattern{},
			BestPractices: []retrieve.BestPractice{},
			Related:       []retrieve.RelatedFile{},
		}
	}
	out.Knowledge = k
	return out
}
