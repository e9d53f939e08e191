//go:build cgo

package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/efebarandurmaz/whetstone/internal/lang"
)

var grammars = map[lang.Language]func() *sitter.Language{
	lang.Python:     python.GetLanguage,
	lang.JavaScript: javascript.GetLanguage,
	lang.TypeScript: typescript.GetLanguage,
	lang.TSX:        tsx.GetLanguage,
	lang.Java:       java.GetLanguage,
	lang.Cpp:        cpp.GetLanguage,
}

// ParserCache compiles each language's query once and pools parsers per
// language. It is owned by the caller and safe for concurrent use.
type ParserCache struct {
	mu       sync.Mutex
	compiled map[lang.Language]*compiledGrammar
}

type compiledGrammar struct {
	language *sitter.Language
	query    *sitter.Query
	err      error
	parsers  sync.Pool
}

// NewParserCache returns an empty cache.
func NewParserCache() *ParserCache {
	return &ParserCache{compiled: make(map[lang.Language]*compiledGrammar)}
}

// Close releases compiled queries. The cache must not be used afterwards.
func (c *ParserCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for l, g := range c.compiled {
		if g.query != nil {
			g.query.Close()
		}
		delete(c.compiled, l)
	}
}

// grammar returns the compiled grammar for l, compiling it on first use.
// Initialisation failures are remembered so they are not retried per file.
func (c *ParserCache) grammar(l lang.Language) (*compiledGrammar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.compiled[l]; ok {
		return g, g.err
	}

	g := &compiledGrammar{}
	c.compiled[l] = g

	newLang, ok := grammars[l]
	pattern, hasQuery := queries[l]
	if !ok || !hasQuery {
		g.err = fmt.Errorf("%w: %s", ErrUnsupported, l)
		return g, g.err
	}

	g.language = newLang()
	q, err := sitter.NewQuery([]byte(pattern), g.language)
	if err != nil {
		g.err = fmt.Errorf("compile %s query: %w", l, err)
		return g, g.err
	}
	g.query = q
	g.parsers.New = func() any {
		p := sitter.NewParser()
		p.SetLanguage(g.language)
		return p
	}
	return g, nil
}

type nodeKey struct {
	start, end uint32
	typ        string
}

type declaration struct {
	node *sitter.Node
	name string
	kind UnitType
}

func (c *ParserCache) run(ctx context.Context, l lang.Language, src []byte) ([]CodeUnit, error) {
	g, err := c.grammar(l)
	if err != nil {
		return nil, err
	}

	p := g.parsers.Get().(*sitter.Parser)
	defer g.parsers.Put(p)

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		// A cancelled parse would otherwise resume on the next call.
		p.Reset()
		return nil, fmt.Errorf("parse %s: %w", l, err)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(g.query, tree.RootNode())

	// Captures are aggregated per declaration node. A match contributes the
	// declaration under its kind capture and the identifier under @name.
	byNode := make(map[nodeKey]*declaration)
	var order []nodeKey
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var decl *sitter.Node
		var kind UnitType
		var name string
		for _, capture := range m.Captures {
			switch cname := g.query.CaptureNameForId(capture.Index); cname {
			case captureName:
				name = capture.Node.Content(src)
			default:
				if k, ok := captureKinds[cname]; ok {
					decl, kind = capture.Node, k
				}
			}
		}
		if decl == nil {
			continue
		}
		key := nodeKey{start: decl.StartByte(), end: decl.EndByte(), typ: decl.Type()}
		d, seen := byNode[key]
		if !seen {
			d = &declaration{node: decl}
			byNode[key] = d
			order = append(order, key)
		}
		if d.kind == "" {
			d.kind = kind
		}
		if d.name == "" {
			d.name = name
		}
	}

	units := make([]CodeUnit, 0, len(order))
	for _, key := range order {
		d := byNode[key]
		if d.name == "" || d.kind == "" {
			continue
		}
		units = append(units, CodeUnit{
			Code:      string(src[key.start:key.end]),
			Type:      d.kind,
			Name:      d.name,
			LineStart: int(d.node.StartPoint().Row) + 1,
			LineEnd:   int(d.node.EndPoint().Row) + 1,
		})
	}
	sort.SliceStable(units, func(i, j int) bool { return units[i].LineStart < units[j].LineStart })
	return units, nil
}
