package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

const (
	// Patterns are deduplicated on the source path and this many leading
	// characters of the snippet.
	dedupPrefix = 100
	// relatedPerFile is the Get limit for each changed file, and also the
	// cap on the merged related-file list.
	relatedPerFile = 10
	maxRelated     = 10
)

// Candidate dispositions recorded in metrics.
const (
	dispositionKept           = "kept"
	dispositionBelowThreshold = "below_threshold"
	dispositionSelf           = "self"
)

// Retriever queries a vector index for knowledge about a set of changes. It
// holds no per-call state and is safe for concurrent use when its index and
// embedder are.
type Retriever struct {
	index    vector.Index
	embedder embed.Embedder
	opts     Options
	redactor *redact.Redactor
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithOptions sets the default retrieval options.
func WithOptions(o Options) Option {
	return func(r *Retriever) { r.opts = o }
}

// WithLogger sets the logger used for skipped candidates.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithMetrics records hunk and candidate counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

// WithRedactor masks added code before it is sent to the embedder.
func WithRedactor(rd *redact.Redactor) Option {
	return func(r *Retriever) { r.redactor = rd }
}

// New returns a Retriever. index and embedder may be nil; the operations
// that need them then return ErrNoIndex or ErrNoEmbedder.
func New(index vector.Index, embedder embed.Embedder, opts ...Option) *Retriever {
	r := &Retriever{index: index, embedder: embedder, opts: DefaultOptions()}
	for _, opt := range opts {
		opt(r)
	}
	r.opts = r.opts.withDefaults()
	r.logger = observability.OrDiscard(r.logger)
	return r
}

// Options returns the retriever's default options.
func (r *Retriever) Options() Options { return r.opts }

// candidate is the added code of one hunk.
type candidate struct {
	path    string
	snippet string
}

// Patterns returns indexed fragments similar to the code the changes add,
// ranked by descending similarity. Lookup failures skip the affected hunk;
// only a missing index or embedder is reported as an error.
func (r *Retriever) Patterns(ctx context.Context, changes []diff.FileChange) ([]Pattern, error) {
	return r.PatternsWith(ctx, changes, r.opts)
}

// PatternsWith is Patterns with per-call options. Zero fields fall back to
// the defaults.
func (r *Retriever) PatternsWith(ctx context.Context, changes []diff.FileChange, opts Options) ([]Pattern, error) {
	if r.index == nil {
		return nil, ErrNoIndex
	}
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	opts = opts.withDefaults()

	ctx, span := observability.StartRetrieveSpan(ctx, len(changes), opts.TopK, opts.Threshold)
	defer span.End()

	cands := r.candidates(changes, opts.MinSnippetLen)

	// Each candidate owns a slot so the pool keeps encounter order no matter
	// how lookups are scheduled.
	slots := make([][]Pattern, len(cands))
	failed := make([]bool, len(cands))
	if opts.Concurrency > 1 && len(cands) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, c := range cands {
			g.Go(func() error {
				slots[i], failed[i] = r.lookup(gctx, c, opts)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range cands {
			slots[i], failed[i] = r.lookup(ctx, c, opts)
		}
	}

	var pool []Pattern
	failures := 0
	for i := range slots {
		pool = append(pool, slots[i]...)
		if failed[i] {
			failures++
		}
	}

	out := rank(pool, opts.TopK)
	observability.RecordRetrieveResult(span, len(pool), len(out), failures)
	return out, nil
}

func (r *Retriever) candidates(changes []diff.FileChange, minLen int) []candidate {
	var out []candidate
	for _, fc := range changes {
		for _, h := range fc.Hunks {
			added := h.AddedLines()
			if len(added) == 0 {
				r.metrics.RecordHunk(observability.OutcomeSkipped)
				continue
			}
			snippet := strings.Join(added, "\n")
			if len(strings.TrimSpace(snippet)) < minLen {
				r.metrics.RecordHunk(observability.OutcomeSkipped)
				continue
			}
			out = append(out, candidate{path: fc.Path, snippet: snippet})
		}
	}
	return out
}

// lookup embeds one candidate and queries the index. It reports whether the
// candidate was dropped because of a failure.
func (r *Retriever) lookup(ctx context.Context, c candidate, opts Options) ([]Pattern, bool) {
	text := c.snippet
	if r.redactor != nil {
		text, _ = r.redactor.Mask(text)
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.logger.Debug("embedding failed, skipping hunk", "path", c.path, "error", err)
		r.metrics.RecordHunk(observability.OutcomeError)
		return nil, true
	}

	var filter *vector.Filter
	if repo := RepoScope(c.path); repo != "" {
		filter = &vector.Filter{Repo: repo}
	}
	res, err := r.index.Query(ctx, vec, opts.TopK, filter)
	if err != nil {
		r.logger.Debug("index query failed, skipping hunk", "path", c.path, "error", err)
		r.metrics.RecordHunk(observability.OutcomeError)
		return nil, true
	}
	r.metrics.RecordHunk(observability.OutcomeOK)
	if res == nil {
		return nil, false
	}

	var out []Pattern
	for i := 0; i < res.Len(); i++ {
		meta := res.Metadatas[i]
		similarity := 1 - res.Distances[i]
		switch {
		case similarity < opts.Threshold:
			r.metrics.RecordCandidate(dispositionBelowThreshold)
			continue
		case meta.FilePath == c.path:
			r.metrics.RecordCandidate(dispositionSelf)
			continue
		}
		r.metrics.RecordCandidate(dispositionKept)
		out = append(out, Pattern{
			SourcePath:  meta.FilePath,
			Snippet:     res.Documents[i],
			Similarity:  similarity,
			Description: describe(meta),
		})
	}
	return out, false
}

// rank stable-sorts the pool by descending similarity, collapses entries
// sharing a path and snippet prefix, and keeps at most 2*topK of the first
// 3*topK unique entries.
func rank(pool []Pattern, topK int) []Pattern {
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Similarity > pool[j].Similarity })

	type key struct{ path, prefix string }
	seen := make(map[key]struct{}, len(pool))
	unique := make([]Pattern, 0, min(len(pool), 3*topK))
	for _, p := range pool {
		k := key{p.SourcePath, prefix(p.Snippet, dedupPrefix)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, p)
		if len(unique) >= 3*topK {
			break
		}
	}
	if len(unique) > 2*topK {
		unique = unique[:2*topK]
	}
	return unique
}

// Related returns indexed files whose path contains the base name of a
// changed file, excluding the changed files themselves, deduplicated by path
// and capped at ten. A failed lookup skips that file.
func (r *Retriever) Related(ctx context.Context, changes []diff.FileChange) ([]RelatedFile, error) {
	if r.index == nil {
		return nil, ErrNoIndex
	}
	ctx, span := observability.StartRelatedSpan(ctx, len(changes))
	defer span.End()

	seen := make(map[string]struct{})
	out := []RelatedFile{}
	for _, fc := range changes {
		name := path.Base(fc.Path)
		res, err := r.index.Get(ctx, &vector.Filter{FilePathContains: name}, relatedPerFile)
		if err != nil {
			r.logger.Debug("related lookup failed", "path", fc.Path, "error", err)
			continue
		}
		if res == nil {
			continue
		}
		for _, meta := range res.Metadatas {
			if meta.FilePath == fc.Path {
				continue
			}
			if _, dup := seen[meta.FilePath]; dup {
				continue
			}
			seen[meta.FilePath] = struct{}{}
			out = append(out, RelatedFile{
				Path:         meta.FilePath,
				Relationship: RelationshipSimilarName,
				Reason:       "File name matches " + name,
			})
		}
	}
	if len(out) > maxRelated {
		out = out[:maxRelated]
	}
	return out, nil
}

// Knowledge runs Patterns and Related over the same changes.
func (r *Retriever) Knowledge(ctx context.Context, changes []diff.FileChange) (*Knowledge, error) {
	patterns, err := r.Patterns(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("similar patterns: %w", err)
	}
	related, err := r.Related(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("related files: %w", err)
	}
	return &Knowledge{
		Patterns:      patterns,
		BestPractices: []BestPractice{},
		Related:       related,
	}, nil
}

// RepoScope returns the repository filter for a changed path: its first two
// segments joined by '/', or "" when the path has no separator.
func RepoScope(p string) string {
	if !strings.Contains(p, "/") {
		return ""
	}
	segs := strings.SplitN(p, "/", 3)
	return segs[0] + "/" + segs[1]
}

func describe(m vector.Metadata) string {
	kind, name := m.UnitType, m.Name
	if kind == "" {
		kind = "code"
	}
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("Similar %s '%s' found in codebase", kind, name)
}

// prefix returns the first n characters of s.
func prefix(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
