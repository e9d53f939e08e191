package vector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/whetstone/internal/observability"
)

// Instrumented wraps an Index with tracing spans and Prometheus metrics.
type Instrumented struct {
	Index
	backend string
	metrics *observability.Metrics
}

// Instrument wraps idx. backend labels spans and metrics ("qdrant", "sqlite").
func Instrument(idx Index, backend string, m *observability.Metrics) *Instrumented {
	return &Instrumented{Index: idx, backend: backend, metrics: m}
}

func (i *Instrumented) Query(ctx context.Context, vec []float32, k int, filter *Filter) (*QueryResult, error) {
	ctx, span := observability.StartVectorSpan(ctx, i.backend, "query")
	defer span.End()
	span.SetAttributes(attribute.Int("vector.k", k))

	start := time.Now()
	res, err := i.Index.Query(ctx, vec, k, filter)
	i.metrics.RecordVectorOp(i.backend, "query", time.Since(start), err)
	observability.RecordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("vector.results", res.Len()))
	}
	return res, err
}

func (i *Instrumented) Get(ctx context.Context, filter *Filter, limit int) (*GetResult, error) {
	ctx, span := observability.StartVectorSpan(ctx, i.backend, "get")
	defer span.End()

	start := time.Now()
	res, err := i.Index.Get(ctx, filter, limit)
	i.metrics.RecordVectorOp(i.backend, "get", time.Since(start), err)
	observability.RecordError(span, err)
	return res, err
}

func (i *Instrumented) Add(ctx context.Context, docs []Document) error {
	ctx, span := observability.StartVectorSpan(ctx, i.backend, "add")
	defer span.End()
	span.SetAttributes(attribute.Int("vector.documents", len(docs)))

	start := time.Now()
	err := i.Index.Add(ctx, docs)
	i.metrics.RecordVectorOp(i.backend, "add", time.Since(start), err)
	observability.RecordError(span, err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, ids []string) error {
	ctx, span := observability.StartVectorSpan(ctx, i.backend, "delete")
	defer span.End()

	start := time.Now()
	err := i.Index.Delete(ctx, ids)
	i.metrics.RecordVectorOp(i.backend, "delete", time.Since(start), err)
	observability.RecordError(span, err)
	return err
}
