package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/whetstone/internal/lang"
)

const goSource = `package demo

import "fmt"

type Store interface {
	Get(key string) (string, error)
}

type (
	memStore struct{ data map[string]string }
	ID       int
)

func New() *memStore {
	return &memStore{data: map[string]string{}}
}

func (m *memStore) Get(key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}
`

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	cache := NewParserCache()
	t.Cleanup(cache.Close)
	return New(cache, opts...)
}

func TestExtract_EmptyContent(t *testing.T) {
	e := newTestExtractor(t)
	for _, content := range []string{"", "  \n\t"} {
		units := e.Extract(context.Background(), "main.go", []byte(content))
		assert.Empty(t, units)
	}
}

func TestExtract_UnsupportedLanguageFallsBack(t *testing.T) {
	e := newTestExtractor(t)
	content := "# Title\n\nSome prose.\n"

	res := e.Analyze(context.Background(), "docs/guide/README.md", []byte(content))
	assert.Equal(t, KindFallback, res.Strategy)
	require.Len(t, res.Units, 1)

	u := res.Units[0]
	assert.Equal(t, File, u.Type)
	assert.Equal(t, "README.md", u.Name)
	assert.Equal(t, content, u.Code)
	assert.False(t, u.HasRange())
}

func TestExtract_GoNative(t *testing.T) {
	e := newTestExtractor(t)
	res := e.Analyze(context.Background(), "pkg/demo/store.go", []byte(goSource))

	assert.Equal(t, lang.Go, res.Language)
	assert.Equal(t, KindNative, res.Strategy)

	type want struct {
		name       string
		kind       UnitType
		start, end int
	}
	expected := []want{
		{"Store", Interface, 5, 7},
		{"memStore", Type, 10, 10},
		{"ID", Type, 11, 11},
		{"New", Function, 14, 16},
		{"Get", Function, 18, 24},
	}
	require.Len(t, res.Units, len(expected))
	for i, w := range expected {
		u := res.Units[i]
		assert.Equal(t, w.name, u.Name, "unit %d", i)
		assert.Equal(t, w.kind, u.Type, "unit %d", i)
		assert.Equal(t, w.start, u.LineStart, "unit %d start", i)
		assert.Equal(t, w.end, u.LineEnd, "unit %d end", i)
	}

	assert.True(t, strings.HasPrefix(res.Units[0].Code, "type Store interface {"))
	assert.True(t, strings.HasPrefix(res.Units[1].Code, "memStore struct"))
	assert.True(t, strings.HasPrefix(res.Units[4].Code, "func (m *memStore) Get("))
	assert.True(t, strings.HasSuffix(res.Units[4].Code, "}"))
}

func TestExtract_GoSyntaxErrorFallsBack(t *testing.T) {
	e := newTestExtractor(t)
	src := "package broken\n\nfunc ok() {}\n\nfunc {{{ nope\n"

	res := e.Analyze(context.Background(), "broken.go", []byte(src))
	assert.Equal(t, KindFallback, res.Strategy)
	require.Len(t, res.Units, 1)
	assert.Equal(t, File, res.Units[0].Type)
	assert.Equal(t, "broken.go", res.Units[0].Name)
}

func TestExtract_GoWithoutDeclarationsFallsBack(t *testing.T) {
	e := newTestExtractor(t)
	res := e.Analyze(context.Background(), "consts.go", []byte("package x\n\nconst Answer = 42\n"))
	assert.Equal(t, KindFallback, res.Strategy)
	require.Len(t, res.Units, 1)
}

func TestExtract_InvalidSourceNeverFails(t *testing.T) {
	e := newTestExtractor(t)
	broken := map[string]string{
		"a.go":   "func {{{ )))",
		"a.py":   "def broken(:\n    pass pass\nclass",
		"a.js":   "function ((( { class {",
		"a.ts":   "interface { type = = ;",
		"a.tsx":  "export function () { return <div </ }",
		"A.java": "public class { void ( }",
		"a.cpp":  "int main( { class ; template<",
		"a.rb":   "def end end end",
	}
	for path, src := range broken {
		t.Run(path, func(t *testing.T) {
			var units []CodeUnit
			assert.NotPanics(t, func() {
				units = e.Extract(context.Background(), path, []byte(src))
			})
			assert.NotEmpty(t, units)
		})
	}
}

type panicStrategy struct{}

func (panicStrategy) Kind() StrategyKind { return KindQuery }

func (panicStrategy) Extract(context.Context, []byte) ([]CodeUnit, error) {
	panic("grammar blew up")
}

func TestExtract_PanickingStrategyFallsBack(t *testing.T) {
	r := NewRegistry()
	r.Register(lang.Python, panicStrategy{})
	e := newTestExtractor(t, WithRegistry(r))

	res := e.Analyze(context.Background(), "x.py", []byte("print('hi')\n"))
	assert.Equal(t, KindFallback, res.Strategy)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "x.py", res.Units[0].Name)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(NewParserCache())

	s, ok := r.Lookup(lang.Go)
	require.True(t, ok)
	assert.Equal(t, KindNative, s.Kind())

	for _, l := range []lang.Language{lang.Python, lang.JavaScript, lang.TypeScript, lang.TSX, lang.Java, lang.Cpp} {
		s, ok := r.Lookup(l)
		require.True(t, ok, "missing %s", l)
		assert.Equal(t, KindQuery, s.Kind())
	}

	_, ok = r.Lookup(lang.Rust)
	assert.False(t, ok)
	assert.Len(t, r.Languages(), 7)
}

func TestQueryStrategy_NilCache(t *testing.T) {
	_, err := NewQueryStrategy(lang.Python, nil).Extract(context.Background(), []byte("x = 1"))
	assert.Error(t, err)
}
