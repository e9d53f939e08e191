package embed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/whetstone/internal/observability"
)

type instrumented struct {
	inner   Embedder
	model   string
	metrics *observability.Metrics
}

// Instrument wraps e with a span and request metrics per call.
func Instrument(e Embedder, model string, m *observability.Metrics) Embedder {
	if e == nil {
		return nil
	}
	return &instrumented{inner: e, model: model, metrics: m}
}

func (i *instrumented) Name() string { return i.inner.Name() }

func (i *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := observability.StartEmbedSpan(ctx, i.inner.Name(), i.model)
	defer span.End()
	span.SetAttributes(attribute.Int("embed.input_chars", len(text)))

	start := time.Now()
	v, err := i.inner.Embed(ctx, text)
	i.metrics.RecordEmbed(i.inner.Name(), time.Since(start), err)
	observability.RecordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("embed.dimension", len(v)))
	}
	return v, err
}
