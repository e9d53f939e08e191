// Package backend opens the vector index selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/whetstone/internal/config"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/vector"
	"github.com/efebarandurmaz/whetstone/internal/vector/qdrant"
	"github.com/efebarandurmaz/whetstone/internal/vector/sqlite"
)

// Backend names accepted in vector.backend.
const (
	SQLite = "sqlite"
	Qdrant = "qdrant"
	Memory = "memory"
)

// DefaultPath is the SQLite index location when none is configured.
const DefaultPath = ".whetstone/index.db"

// Name returns the effective backend name; empty means SQLite.
func Name(vc config.VectorConfig) string {
	if vc.Backend == "" {
		return SQLite
	}
	return vc.Backend
}

// Open opens the configured index.
func Open(ctx context.Context, vc config.VectorConfig) (vector.Index, error) {
	switch Name(vc) {
	case SQLite:
		p := vc.Path
		if p == "" {
			p = DefaultPath
		}
		return sqlite.Open(p)
	case Qdrant:
		if vc.Collection == "" {
			return nil, fmt.Errorf("qdrant backend requires vector.collection")
		}
		return qdrant.New(ctx, qdrant.Config{
			Host:       vc.Host,
			Port:       vc.Port,
			Collection: vc.Collection,
			Dimension:  vc.Dimension,
		})
	case Memory:
		return vector.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q (sqlite, qdrant, memory)", vc.Backend)
	}
}

// OpenInstrumented opens the configured index wrapped with tracing and
// metrics.
func OpenInstrumented(ctx context.Context, vc config.VectorConfig, m *observability.Metrics) (*vector.Instrumented, error) {
	idx, err := Open(ctx, vc)
	if err != nil {
		return nil, err
	}
	return vector.Instrument(idx, Name(vc), m), nil
}
