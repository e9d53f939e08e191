package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/efebarandurmaz/whetstone/internal/config"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/embed/providers"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/graph"
	"github.com/efebarandurmaz/whetstone/internal/graph/neo4j"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
	"github.com/efebarandurmaz/whetstone/internal/secrets"
	"github.com/efebarandurmaz/whetstone/internal/vector"
	"github.com/efebarandurmaz/whetstone/internal/vector/backend"
)

// errNoEmbedder is returned by commands that need embeddings when the
// configured provider is "none".
var errNoEmbedder = errors.New("no embedding provider configured (set embed.provider or WHETSTONE_EMBED_PROVIDER)")

// app holds the collaborators a command needs. Fields are built lazily so
// commands that only parse or extract never open the index.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.TracerProvider
	classifier *lang.Classifier
	cache      *extract.ParserCache
	extractor  *extract.Extractor
	redactor   *redact.Redactor

	index    vector.Index
	embedder embed.Embedder
	graph    graph.Repository
}

func newApp(ctx context.Context, configPath, logLevel string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := secrets.ResolveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	logger := observability.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	rd, err := redact.FromConfig(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("redaction: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    observability.NewMetrics(),
		tracer:     tp,
		classifier: lang.NewClassifier(cfg.Index.Languages),
		cache:      extract.NewParserCache(),
		redactor:   rd,
	}
	a.extractor = extract.New(a.cache,
		extract.WithClassifier(a.classifier),
		extract.WithLogger(logger),
		extract.WithMetrics(a.metrics),
	)
	return a, nil
}

// Close releases everything the app opened.
func (a *app) Close(ctx context.Context) {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("closing index", "error", err)
		}
	}
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			a.logger.Warn("closing graph", "error", err)
		}
	}
	a.cache.Close()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing traces", "error", err)
	}
}

// Index opens the configured vector backend once.
func (a *app) Index(ctx context.Context) (vector.Index, error) {
	if a.index != nil {
		return a.index, nil
	}
	idx, err := backend.OpenInstrumented(ctx, a.cfg.Vector, a.metrics)
	if err != nil {
		return nil, err
	}
	a.index = idx
	return idx, nil
}

// Embedder builds the configured embedding provider once.
func (a *app) Embedder() (embed.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	factory := embed.NewFactory().WithMetrics(a.metrics)
	providers.RegisterDefaults(factory)

	ec := a.cfg.Embed
	e, err := factory.Create(embed.ProviderConfig{
		Provider:          ec.Provider,
		APIKey:            ec.APIKey,
		Model:             ec.Model,
		BaseURL:           ec.BaseURL,
		Timeout:           ec.Timeout,
		MaxRetries:        ec.MaxRetries,
		RetryDelay:        ec.RetryDelay,
		RequestsPerMinute: ec.RequestsPerMinute,
		CacheSize:         ec.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if e == nil {
		return nil, errNoEmbedder
	}
	a.embedder = e
	return e, nil
}

// Graph connects to Neo4j when a URI is configured. It returns nil
// otherwise; the graph is optional.
func (a *app) Graph(ctx context.Context) (graph.Repository, error) {
	if a.graph != nil || a.cfg.Graph.URI == "" {
		return a.graph, nil
	}
	g, err := neo4j.New(ctx, a.cfg.Graph.URI, a.cfg.Graph.Username, a.cfg.Graph.Password)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	a.graph = g
	return g, nil
}

// Retriever wires the index and embedder with the configured options.
func (a *app) Retriever(ctx context.Context) (*retrieve.Retriever, error) {
	idx, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	e, err := a.Embedder()
	if err != nil {
		return nil, err
	}
	rc := a.cfg.Retrieval
	return retrieve.New(idx, e,
		retrieve.WithOptions(retrieve.Options{
			TopK:          rc.TopK,
			Threshold:     rc.Threshold,
			MinSnippetLen: rc.MinSnippetLen,
			Concurrency:   rc.Concurrency,
		}),
		retrieve.WithRedactor(a.redactor),
		retrieve.WithLogger(a.logger),
		retrieve.WithMetrics(a.metrics),
	), nil
}

// Indexer wires the index, embedder, extractor and optional graph.
func (a *app) Indexer(ctx context.Context, extraIgnore []string) (*indexer.Indexer, error) {
	idx, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	e, err := a.Embedder()
	if err != nil {
		return nil, err
	}
	opts := []indexer.Option{
		indexer.WithClassifier(a.classifier),
		indexer.WithIgnore(append(append([]string{}, a.cfg.Index.Ignore...), extraIgnore...)...),
		indexer.WithRedactor(a.redactor),
		indexer.WithLogger(a.logger),
		indexer.WithMetrics(a.metrics),
	}
	g, err := a.Graph(ctx)
	if err != nil {
		return nil, err
	}
	if g != nil {
		opts = append(opts, indexer.WithGraph(g))
	}
	return indexer.New(idx, e, a.extractor, opts...)
}

// readInput reads p, or stdin when p is empty or "-".
func readInput(stdin io.Reader, p string) ([]byte, error) {
	if p == "" || p == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(p)
}
