package extract

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/efebarandurmaz/whetstone/internal/lang"
)

// ErrUnsupported is returned by strategies asked to handle a language they do
// not know.
var ErrUnsupported = errors.New("extract: unsupported language")

// StrategyKind names the extraction tier used for a file.
type StrategyKind string

const (
	KindNative   StrategyKind = "native"
	KindQuery    StrategyKind = "query"
	KindFallback StrategyKind = "fallback"
)

// Strategy extracts structural units from one language's source. A strategy
// reports failure through its error; callers decide how to degrade.
type Strategy interface {
	Kind() StrategyKind
	Extract(ctx context.Context, src []byte) ([]CodeUnit, error)
}

// Registry maps languages to strategies. Languages without an entry are
// handled by the whole-file fallback.
type Registry struct {
	mu         sync.RWMutex
	strategies map[lang.Language]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[lang.Language]Strategy)}
}

// DefaultRegistry registers the native Go walker and a query strategy for
// every language with a built-in grammar query, all sharing cache.
func DefaultRegistry(cache *ParserCache) *Registry {
	r := NewRegistry()
	r.Register(lang.Go, GoStrategy{})
	for l := range queries {
		r.Register(l, NewQueryStrategy(l, cache))
	}
	return r
}

// Register adds or replaces the strategy for l.
func (r *Registry) Register(l lang.Language, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[l] = s
}

// Lookup returns the strategy for l.
func (r *Registry) Lookup(l lang.Language) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[l]
	return s, ok
}

// Languages returns the registered languages in sorted order.
func (r *Registry) Languages() []lang.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]lang.Language, 0, len(r.strategies))
	for l := range r.strategies {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
