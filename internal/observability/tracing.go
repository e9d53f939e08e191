// Package observability provides OpenTelemetry tracing and Prometheus metrics.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation name used for all spans.
	TracerName = "github.com/efebarandurmaz/whetstone"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "whetstone")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "whetstone",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	// If no endpoint, return no-op tracer
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // Use TLS in production
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	// Create resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create trace provider
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds attached to every span as whetstone.span.kind.
const (
	SpanKindRetrieve = "retrieve"
	SpanKindRelated  = "related"
	SpanKindEmbed    = "embed"
	SpanKindIndex    = "index"
	SpanKindVector   = "vector"
	SpanKindCollect  = "collect"
)

// StartRetrieveSpan starts a span for a similarity retrieval over a diff.
func StartRetrieveSpan(ctx context.Context, fileCount, topK int, threshold float64) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "retrieve.patterns",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindRetrieve),
			attribute.Int("retrieve.file_count", fileCount),
			attribute.Int("retrieve.top_k", topK),
			attribute.Float64("retrieve.threshold", threshold),
		),
	)
}

// RecordRetrieveResult records pooled and returned pattern counts.
func RecordRetrieveResult(span trace.Span, pooled, returned, failures int) {
	span.SetAttributes(
		attribute.Int("retrieve.pooled", pooled),
		attribute.Int("retrieve.returned", returned),
		attribute.Int("retrieve.failures", failures),
	)
}

// StartRelatedSpan starts a span for a related-file lookup.
func StartRelatedSpan(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "retrieve.related",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindRelated),
			attribute.Int("related.file_count", fileCount),
		),
	)
}

// StartEmbedSpan starts a span for an embedding request.
func StartEmbedSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "embed",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindEmbed),
			attribute.String("embed.provider", provider),
			attribute.String("embed.model", model),
		),
	)
}

// StartIndexSpan starts a span for an indexing run.
func StartIndexSpan(ctx context.Context, root, repo string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "index.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindIndex),
			attribute.String("index.root", root),
			attribute.String("index.repo", repo),
		),
	)
}

// RecordIndexResult records indexing totals on a span.
func RecordIndexResult(span trace.Span, files, units, failed int) {
	span.SetAttributes(
		attribute.Int("index.files", files),
		attribute.Int("index.units", units),
		attribute.Int("index.failed_files", failed),
	)
}

// StartVectorSpan starts a span for a vector index call.
func StartVectorSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("vector.%s", op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindVector),
			attribute.String("vector.backend", backend),
		),
	)
}

// StartCollectSpan starts a span for review context collection.
func StartCollectSpan(ctx context.Context, repo string, number int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "collect.context",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("whetstone.span.kind", SpanKindCollect),
			attribute.String("collect.repo", repo),
			attribute.Int("collect.pr_number", number),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
