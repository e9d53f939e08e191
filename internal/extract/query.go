package extract

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/whetstone/internal/lang"
)

// QueryStrategy runs a language's grammar query through a shared ParserCache.
type QueryStrategy struct {
	language lang.Language
	cache    *ParserCache
}

// NewQueryStrategy returns a strategy for l backed by cache.
func NewQueryStrategy(l lang.Language, cache *ParserCache) *QueryStrategy {
	return &QueryStrategy{language: l, cache: cache}
}

func (s *QueryStrategy) Kind() StrategyKind { return KindQuery }

func (s *QueryStrategy) Extract(ctx context.Context, src []byte) ([]CodeUnit, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("extract %s: no parser cache", s.language)
	}
	return s.cache.run(ctx, s.language, src)
}
