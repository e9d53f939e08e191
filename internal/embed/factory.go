package embed

import (
	"fmt"
	"sort"
	"time"

	"github.com/efebarandurmaz/whetstone/internal/observability"
)

// ProviderConfig holds everything needed to build any embedding provider.
type ProviderConfig struct {
	Provider string // "openai", "gemini", "ollama", "together", "custom", "none"
	APIKey   string
	Model    string
	BaseURL  string // Override for self-hosted / OpenAI-compatible endpoints

	Timeout    time.Duration // Per-request timeout
	MaxRetries int           // Max retry attempts
	RetryDelay time.Duration // Initial backoff delay

	RequestsPerMinute int // 0 = unlimited
	CacheSize         int // LRU entries, 0 disables the cache
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		CacheSize:  4096,
	}
}

// ProviderConstructor builds an Embedder from config.
type ProviderConstructor func(cfg ProviderConfig) (Embedder, error)

// Factory creates Embedder instances from config.
type Factory struct {
	constructors map[string]ProviderConstructor
	metrics      *observability.Metrics
}

// NewFactory creates an empty factory. Register providers before Create.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]ProviderConstructor)}
}

// WithMetrics makes every created embedder report request and cache metrics.
func (f *Factory) WithMetrics(m *observability.Metrics) *Factory {
	f.metrics = m
	return f
}

// Register adds a provider constructor under the given name.
func (f *Factory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds an Embedder from config. It returns nil without error when
// the provider is empty or "none", so callers can run without embeddings.
// The provider is wrapped, innermost first, with instrumentation, rate
// limiting, retry and caching as configured.
func (f *Factory) Create(cfg ProviderConfig) (Embedder, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q, registered: %v", cfg.Provider, f.Names())
	}

	e, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	e = Instrument(e, cfg.Model, f.metrics)
	if cfg.RequestsPerMinute > 0 {
		e = WithRateLimit(e, cfg.RequestsPerMinute)
	}
	if cfg.Timeout > 0 || cfg.MaxRetries > 0 {
		e = WrapWithRetry(e, cfg)
	}
	if cfg.CacheSize > 0 {
		e, err = NewCached(e, cfg.CacheSize, f.metrics)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Names returns the registered provider names in sorted order.
func (f *Factory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders lists presets for OpenAI-compatible embedding endpoints.
//
//	openai   → https://api.openai.com/v1
//	ollama   → http://localhost:11434/v1
//	together → https://api.together.xyz/v1
var KnownProviders = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"ollama":   "http://localhost:11434/v1",
	"together": "https://api.together.xyz/v1",
}
