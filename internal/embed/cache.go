package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/efebarandurmaz/whetstone/internal/observability"
)

// CachedEmbedder memoises embeddings by the SHA-256 of the text. Failures are
// not cached.
type CachedEmbedder struct {
	inner   Embedder
	cache   *lru.Cache[string, []float32]
	metrics *observability.Metrics
}

// NewCached wraps e with an LRU cache of the given size.
func NewCached(e Embedder, size int, m *observability.Metrics) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: e, cache: cache, metrics: m}, nil
}

// Name returns the underlying provider name.
func (c *CachedEmbedder) Name() string {
	return c.inner.Name()
}

// Embed returns the cached vector or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])

	if v, ok := c.cache.Get(key); ok {
		c.metrics.RecordEmbedCache(true)
		return v, nil
	}
	c.metrics.RecordEmbedCache(false)

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
