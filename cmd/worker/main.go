package main

import (
	"context"
	"fmt"
	"log"
	"os"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/whetstone/internal/config"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/embed/providers"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/graph/neo4j"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
	"github.com/efebarandurmaz/whetstone/internal/secrets"
	"github.com/efebarandurmaz/whetstone/internal/server"
	temporalmod "github.com/efebarandurmaz/whetstone/internal/temporal"
	"github.com/efebarandurmaz/whetstone/internal/vector/backend"
)

var version = "dev"

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := secrets.ResolveConfig(context.Background(), cfg); err != nil {
		log.Fatalf("secrets: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	metrics := observability.NewMetrics()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: version, Addr: cfg.Server.Addr, Metrics: metrics.Handler()},
		&server.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout, Signals: server.DefaultShutdownConfig().Signals, Logger: logger},
	)
	gs.AddHook(server.TracingShutdownHook(tp.Shutdown))

	// Build the embedder via factory; "none" leaves retrieval and indexing
	// unconfigured and their activities fail fast.
	factory := embed.NewFactory().WithMetrics(metrics)
	providers.RegisterDefaults(factory)
	embedder, err := factory.Create(embed.ProviderConfig{
		Provider:          cfg.Embed.Provider,
		APIKey:            cfg.Embed.APIKey,
		Model:             cfg.Embed.Model,
		BaseURL:           cfg.Embed.BaseURL,
		Timeout:           cfg.Embed.Timeout,
		MaxRetries:        cfg.Embed.MaxRetries,
		RetryDelay:        cfg.Embed.RetryDelay,
		RequestsPerMinute: cfg.Embed.RequestsPerMinute,
		CacheSize:         cfg.Embed.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	gs.Health.RegisterCheck("embedder", server.EmbedderHealthChecker(cfg.Embed.Provider, nil))

	idx, err := backend.OpenInstrumented(ctx, cfg.Vector, metrics)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	gs.AddHook(server.IndexShutdownHook(idx.Close))
	gs.Health.RegisterCheck("vector-index", server.IndexHealthChecker(backend.Name(cfg.Vector), idx.Count))

	classifier := lang.NewClassifier(cfg.Index.Languages)
	cache := extract.NewParserCache()
	gs.AddHook(server.ParserCacheShutdownHook(cache.Close))
	extractor := extract.New(cache,
		extract.WithClassifier(classifier),
		extract.WithLogger(logger),
		extract.WithMetrics(metrics),
	)

	redactor, err := redact.FromConfig(cfg.Index)
	if err != nil {
		return fmt.Errorf("redaction: %w", err)
	}

	deps := &temporalmod.Dependencies{Logger: logger}
	if embedder != nil {
		deps.Retriever = retrieve.New(idx, embedder,
			retrieve.WithOptions(retrieve.Options{
				TopK:          cfg.Retrieval.TopK,
				Threshold:     cfg.Retrieval.Threshold,
				MinSnippetLen: cfg.Retrieval.MinSnippetLen,
				Concurrency:   cfg.Retrieval.Concurrency,
			}),
			retrieve.WithRedactor(redactor),
			retrieve.WithLogger(logger),
			retrieve.WithMetrics(metrics),
		)

		opts := []indexer.Option{
			indexer.WithClassifier(classifier),
			indexer.WithIgnore(cfg.Index.Ignore...),
			indexer.WithRedactor(redactor),
			indexer.WithLogger(logger),
			indexer.WithMetrics(metrics),
		}
		if cfg.Graph.URI != "" {
			g, err := neo4j.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
			if err != nil {
				return fmt.Errorf("graph: %w", err)
			}
			gs.AddHook(server.GraphShutdownHook(g.Close))
			gs.Health.RegisterCheck("graph", server.GraphHealthChecker(g.Ping))
			opts = append(opts, indexer.WithGraph(g))
		}
		deps.Indexer, err = indexer.New(idx, embedder, extractor, opts...)
		if err != nil {
			return fmt.Errorf("indexer: %w", err)
		}
	} else {
		logger.Warn("no embedding provider configured; knowledge and index activities will fail")
	}
	temporalmod.SetDependencies(deps)

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	gs.Health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	gs.AddHook(server.ShutdownHook{Name: "temporal-client", Priority: 95, Fn: func(context.Context) error {
		c.Close()
		return nil
	}})

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	gs.AddHook(server.TemporalWorkerShutdownHook(w.Stop))

	if err := gs.Start(cfg.Server.Addr); err != nil {
		return err
	}
	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue, "addr", cfg.Server.Addr)

	gs.Wait()
	logger.Info("worker stopped")
	return nil
}
