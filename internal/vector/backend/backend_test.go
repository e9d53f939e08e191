package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/whetstone/internal/config"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

func TestOpen_SQLite(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "index.db")
	idx, err := OpenInstrumented(context.Background(), config.VectorConfig{Path: p}, observability.NewMetrics())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(context.Background(), []vector.Document{{ID: "a", Vector: []float32{1, 0}, Content: "x"}}))
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, p)
}

func TestOpen_Memory(t *testing.T) {
	idx, err := Open(context.Background(), config.VectorConfig{Backend: Memory})
	require.NoError(t, err)
	assert.IsType(t, &vector.Memory{}, idx)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), config.VectorConfig{Backend: "chroma"})
	assert.ErrorContains(t, err, "unknown vector backend")

	_, err = Open(context.Background(), config.VectorConfig{Backend: Qdrant})
	assert.ErrorContains(t, err, "vector.collection")
}

func TestName(t *testing.T) {
	assert.Equal(t, SQLite, Name(config.VectorConfig{}))
	assert.Equal(t, Qdrant, Name(config.VectorConfig{Backend: Qdrant}))
}
