//go:build !cgo

package extract

import (
	"context"
	"errors"

	"github.com/efebarandurmaz/whetstone/internal/lang"
)

// ErrNoCGO is returned by query strategies in builds without cgo; affected
// files fall back to whole-file units.
var ErrNoCGO = errors.New("extract: grammar queries require cgo (tree-sitter)")

// ParserCache is a placeholder in builds without cgo.
type ParserCache struct{}

// NewParserCache returns an empty cache.
func NewParserCache() *ParserCache { return &ParserCache{} }

// Close is a no-op.
func (c *ParserCache) Close() {}

func (c *ParserCache) run(context.Context, lang.Language, []byte) ([]CodeUnit, error) {
	return nil, ErrNoCGO
}
