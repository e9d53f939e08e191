package embed

import (
	"context"
	"sync"
	"time"
)

// RateLimitEmbedder spaces requests with a token bucket refilled at
// RequestsPerMinute.
type RateLimitEmbedder struct {
	inner Embedder
	rpm   int
	burst int

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// WithRateLimit wraps e so that at most rpm requests start per minute, with a
// burst of rpm/6 (about ten seconds' worth), minimum one.
func WithRateLimit(e Embedder, rpm int) Embedder {
	if e == nil || rpm <= 0 {
		return e
	}
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}
	return &RateLimitEmbedder{
		inner:      e,
		rpm:        rpm,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitEmbedder) Name() string {
	return r.inner.Name()
}

// Embed waits for capacity and delegates.
func (r *RateLimitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimitEmbedder) wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) * float64(time.Minute) / float64(r.rpm))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimitEmbedder) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Minutes() * float64(r.rpm)
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}
	r.lastRefill = now
}
