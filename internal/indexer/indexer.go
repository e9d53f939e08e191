// Package indexer turns a source tree into embedded code units in a vector
// index, and optionally into a structural graph.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/graph"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

// MinUnitLen is the shortest trimmed unit indexed.
const MinUnitLen = 50

var (
	// ErrNoIndex is returned when the indexer has no vector index.
	ErrNoIndex = errors.New("indexer: no vector index configured")
	// ErrNoEmbedder is returned when the indexer has no embedder.
	ErrNoEmbedder = errors.New("indexer: no embedder configured")
)

// Stats summarises one run. Redacted counts masked spans; Unchanged and
// Removed are only set by Update.
type Stats struct {
	Repo      string `json:"repo" yaml:"repo"`
	Cleared   int    `json:"cleared" yaml:"cleared"`
	Files     int    `json:"files" yaml:"files"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
	Failed    int    `json:"failed" yaml:"failed"`
	Units     int    `json:"units" yaml:"units"`
	Redacted  int    `json:"redacted" yaml:"redacted"`
	Unchanged int    `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Removed   int    `json:"removed,omitempty" yaml:"removed,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Indexer extracts, embeds and stores code units.
type Indexer struct {
	index      vector.Index
	embedder   embed.Embedder
	extractor  *extract.Extractor
	classifier *lang.Classifier
	graph      graph.Repository
	ignore     []glob.Glob
	redactor   *redact.Redactor
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithGraph also records every indexed file and its units in g.
func WithGraph(g graph.Repository) Option {
	return func(ix *Indexer) error {
		ix.graph = g
		return nil
	}
}

// WithIgnore skips paths matching any of the glob patterns. '/' separates
// path segments and "**" crosses them.
func WithIgnore(patterns ...string) Option {
	return func(ix *Indexer) error {
		for _, p := range patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return fmt.Errorf("ignore pattern %q: %w", p, err)
			}
			ix.ignore = append(ix.ignore, g)
		}
		return nil
	}
}

// WithRedactor masks credentials and personal data in unit code before it
// is embedded and stored.
func WithRedactor(r *redact.Redactor) Option {
	return func(ix *Indexer) error {
		ix.redactor = r
		return nil
	}
}

// WithClassifier sets the classifier deciding which files are indexed.
func WithClassifier(c *lang.Classifier) Option {
	return func(ix *Indexer) error {
		ix.classifier = c
		return nil
	}
}

// WithLogger sets the logger for per-file failures.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) error {
		ix.logger = l
		return nil
	}
}

// WithMetrics records per-file outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(ix *Indexer) error {
		ix.metrics = m
		return nil
	}
}

// New returns an Indexer. The extractor is shared, not owned.
func New(index vector.Index, embedder embed.Embedder, extractor *extract.Extractor, opts ...Option) (*Indexer, error) {
	if index == nil {
		return nil, ErrNoIndex
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	ix := &Indexer{index: index, embedder: embedder, extractor: extractor}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	if ix.classifier == nil {
		ix.classifier = &lang.Classifier{}
	}
	ix.logger = observability.OrDiscard(ix.logger)
	return ix, nil
}

// Reindex clears the index when it holds entries, then indexes src.
func (ix *Indexer) Reindex(ctx context.Context, src Source, repo string) (Stats, error) {
	n, err := ix.index.Count(ctx)
	if err != nil {
		return Stats{Repo: repo}, fmt.Errorf("count index: %w", err)
	}
	cleared := 0
	if n > 0 {
		ix.logger.Info("clearing existing index", "entries", n)
		if cleared, err = vector.Clear(ctx, ix.index); err != nil {
			return Stats{Repo: repo}, fmt.Errorf("clear index: %w", err)
		}
		if ix.graph != nil && repo != "" {
			if err := ix.graph.DeleteRepo(ctx, repo); err != nil {
				return Stats{Repo: repo}, fmt.Errorf("clear graph: %w", err)
			}
		}
	}
	stats, err := ix.Index(ctx, src, repo)
	stats.Cleared = cleared
	return stats, err
}

// Index adds the units of every eligible file in src. A file whose
// embedding or storage fails is logged and counted, and the run continues.
// Only walk errors and cancellation end the run early.
func (ix *Indexer) Index(ctx context.Context, src Source, repo string) (Stats, error) {
	start := time.Now()
	stats := Stats{Repo: repo}

	ctx, span := observability.StartIndexSpan(ctx, fmt.Sprint(src), repo)
	defer span.End()

	err := src.Walk(ctx, func(p string, content []byte) error {
		if !ix.Eligible(p, content) {
			stats.Skipped++
			return nil
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
		stats.Files++
		stats.Units += len(ids)
		stats.Redacted += masked
		ix.metrics.RecordIndexedFile(observability.OutcomeOK, len(ids))
		return nil
	})

	stats.Duration = time.Since(start)
	observability.RecordIndexResult(span, stats.Files, stats.Units, stats.Failed)
	if err != nil {
		observability.RecordError(span, err)
		return stats, fmt.Errorf("walk source: %w", err)
	}
	ix.logger.Info("indexing complete", "repo", repo, "files", stats.Files, "units", stats.Units, "failed", stats.Failed)
	return stats, nil
}

// Eligible reports whether a file would be indexed: no hidden segment, not
// under node_modules or __pycache__, not vendored, not ignored, and of a
// recognised language.
func (ix *Indexer) Eligible(p string, content []byte) bool {
	for _, seg := range strings.Split(p, "/") {
		if skipSegment(seg) {
			return false
		}
	}
	if lang.IsVendored(p) {
		return false
	}
	for _, g := range ix.ignore {
		if g.Match(p) {
			return false
		}
	}
	_, ok := ix.classifier.Classify(p, content)
	return ok
}

// indexFile embeds every unit of a file and adds them in one batch, so a
// file is either fully indexed or not at all. It returns the ids of the
// stored units and the number of spans masked.
func (ix *Indexer) indexFile(ctx context.Context, p string, content []byte, repo string) ([]string, int, error) {
	res := ix.extractor.Analyze(ctx, p, content)

	var docs []vector.Document
	var units []graph.Unit
	masked := 0
	for _, u := range res.Units {
		if len(strings.TrimSpace(u.Code)) < MinUnitLen {
			continue
		}
		code := u.Code
		if ix.redactor != nil {
			var m []redact.Match
			code, m = ix.redactor.Mask(code)
			masked += len(m)
		}
		vec, err := ix.embedder.Embed(ctx, code)
		if err != nil {
			return nil, 0, fmt.Errorf("embed %s %s: %w", u.Type, u.Name, err)
		}
		id := UnitID(p, u)
		docs = append(docs, vector.Document{
			ID:      id,
			Content: code,
			Vector:  vec,
			Metadata: vector.Metadata{
				FilePath:  p,
				UnitType:  string(u.Type),
				Name:      u.Name,
				Language:  path.Ext(p),
				Repo:      repo,
				LineStart: u.LineStart,
				LineEnd:   u.LineEnd,
			},
		})
		units = append(units, graph.Unit{ID: id, Name: u.Name, Type: string(u.Type), LineStart: u.LineStart, LineEnd: u.LineEnd})
	}
	if len(docs) == 0 {
		return nil, 0, nil
	}
	if err := ix.index.Add(ctx, docs); err != nil {
		return nil, 0, fmt.Errorf("add to index: %w", err)
	}
	if ix.graph != nil {
		f := graph.File{Repo: repo, Path: p, Language: string(res.Language), Units: units}
		if err := ix.graph.StoreFile(ctx, f); err != nil {
			return nil, 0, fmt.Errorf("store graph: %w", err)
		}
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, masked, nil
}

// UnitID is "<path>:<type>:<name>", with ":<line_start>" appended for units
// that carry a line range.
func UnitID(p string, u extract.CodeUnit) string {
	id := p + ":" + string(u.Type) + ":" + u.Name
	if u.HasRange() {
		id += ":" + strconv.Itoa(u.LineStart)
	}
	return id
}

func skipSegment(seg string) bool {
	return strings.HasPrefix(seg, ".") || seg == "node_modules" || seg == "__pycache__"
}
