package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/observability"
)

// Result describes one extraction: the classified language, the tier that
// produced the units, and the units themselves.
type Result struct {
	Language lang.Language `json:"language" yaml:"language"`
	Strategy StrategyKind  `json:"strategy" yaml:"strategy"`
	Units    []CodeUnit    `json:"units" yaml:"units"`
}

// Extractor dispatches files to the strategy registered for their language
// and applies the whole-file fallback. It is safe for concurrent use when its
// registry and cache are.
type Extractor struct {
	classifier *lang.Classifier
	registry   *Registry
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClassifier sets the language classifier.
func WithClassifier(c *lang.Classifier) Option {
	return func(e *Extractor) { e.classifier = c }
}

// WithRegistry replaces the default strategy registry.
func WithRegistry(r *Registry) Option {
	return func(e *Extractor) { e.registry = r }
}

// WithLogger sets the logger used for degraded extractions.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithMetrics records per-file strategy counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// New returns an Extractor using the default registry over cache. The cache
// is owned by the caller and may be shared between extractors.
func New(cache *ParserCache, opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = &lang.Classifier{}
	}
	if e.registry == nil {
		e.registry = DefaultRegistry(cache)
	}
	e.logger = observability.OrDiscard(e.logger)
	return e
}

// Extract returns the code units of a file. Empty or whitespace-only content
// yields no units; any other content yields at least one.
func (e *Extractor) Extract(ctx context.Context, path string, content []byte) []CodeUnit {
	return e.Analyze(ctx, path, content).Units
}

// Analyze is Extract with the classification and tier reported.
func (e *Extractor) Analyze(ctx context.Context, path string, content []byte) Result {
	l, _ := e.classifier.Classify(path, content)
	return e.AnalyzeLanguage(ctx, path, l, content)
}

// AnalyzeLanguage extracts using an already classified language.
func (e *Extractor) AnalyzeLanguage(ctx context.Context, path string, l lang.Language, content []byte) Result {
	res := Result{Language: l, Strategy: KindFallback, Units: []CodeUnit{}}
	if strings.TrimSpace(string(content)) == "" {
		return res
	}

	if s, ok := e.registry.Lookup(l); ok {
		units, err := safeExtract(ctx, s, content)
		switch {
		case err != nil:
			e.logger.Debug("structural extraction failed", "path", path, "language", l, "strategy", s.Kind(), "error", err)
		case len(units) > 0:
			res.Strategy = s.Kind()
			res.Units = units
		}
	}

	if len(res.Units) == 0 {
		res.Units = []CodeUnit{WholeFile(path, content)}
	}
	e.metrics.RecordExtraction(string(l), string(res.Strategy))
	return res
}

// Languages lists the languages with structural extraction support and the
// tier each uses.
func (e *Extractor) Languages() map[lang.Language]StrategyKind {
	out := make(map[lang.Language]StrategyKind)
	for _, l := range e.registry.Languages() {
		if s, ok := e.registry.Lookup(l); ok {
			out[l] = s.Kind()
		}
	}
	return out
}

// WholeFile returns the fallback unit covering all of content.
func WholeFile(path string, content []byte) CodeUnit {
	return CodeUnit{
		Code: string(content),
		Type: File,
		Name: filepath.Base(path),
	}
}

// safeExtract converts a panicking strategy into an error.
func safeExtract(ctx context.Context, s Strategy, src []byte) (units []CodeUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("extract panic: %v", r)
		}
	}()
	return s.Extract(ctx, src)
}
