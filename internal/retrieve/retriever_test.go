package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/observability"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

// stubIndex answers Query from a per-call script and Get from a per-filter
// table. It records every filter it is given.
type stubIndex struct {
	vector.Memory

	mu       sync.Mutex
	queries  []*vector.QueryResult
	queryErr map[int]error
	calls    int
	filters  []*vector.Filter
	gets     map[string]*vector.GetResult
	getErr   map[string]error
	limits   []int
}

func (s *stubIndex) Query(_ context.Context, _ []float32, _ int, f *vector.Filter) (*vector.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls
	s.calls++
	s.filters = append(s.filters, f)
	if err := s.queryErr[n]; err != nil {
		return nil, err
	}
	if n < len(s.queries) {
		return s.queries[n], nil
	}
	return &vector.QueryResult{}, nil
}

func (s *stubIndex) Get(_ context.Context, f *vector.Filter, limit int) (*vector.GetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	if err := s.getErr[f.FilePathContains]; err != nil {
		return nil, err
	}
	if r, ok := s.gets[f.FilePathContains]; ok {
		return r, nil
	}
	return &vector.GetResult{}, nil
}

func constEmbedder() embed.Embedder {
	return embed.Func(func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })
}

func longCode(tag string) string {
	return fmt.Sprintf("func %s(ctx context.Context) error { return process(ctx, %q) }", tag, tag)
}

// change builds a FileChange with one hunk per snippet, each snippet added
// as a single line.
func change(path string, snippets ...string) diff.FileChange {
	fc := diff.FileChange{Path: path}
	for _, s := range snippets {
		fc.Hunks = append(fc.Hunks, diff.DiffHunk{
			OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 2,
			Content: "@@ -1 +1,2 @@\n context\n+" + s + "\n",
		})
		fc.Additions++
	}
	return fc
}

func result(entries ...hit) *vector.QueryResult {
	r := &vector.QueryResult{}
	for i, e := range entries {
		r.IDs = append(r.IDs, fmt.Sprintf("id-%d", i))
		r.Distances = append(r.Distances, e.dist)
		r.Documents = append(r.Documents, e.doc)
		r.Metadatas = append(r.Metadatas, vector.Metadata{FilePath: e.path, UnitType: "function", Name: "fn"})
	}
	return r
}

type hit struct {
	path string
	doc  string
	dist float64
}

func TestPatterns_ContractViolations(t *testing.T) {
	ctx := context.Background()

	_, err := New(nil, constEmbedder()).Patterns(ctx, nil)
	assert.ErrorIs(t, err, ErrNoIndex)

	_, err = New(vector.NewMemory(), nil).Patterns(ctx, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)

	_, err = New(nil, nil).Related(ctx, nil)
	assert.ErrorIs(t, err, ErrNoIndex)

	_, err = New(nil, constEmbedder()).Knowledge(ctx, nil)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestPatterns_ThresholdAndSelfExclusion(t *testing.T) {
	idx := &stubIndex{queries: []*vector.QueryResult{result(
		hit{"org/repo/other.go", "kept high", 0.1},
		hit{"org/repo/changed.go", "self", 0.0},
		hit{"org/repo/low.go", "below", 0.5},
		hit{"org/repo/edge.go", "exactly at threshold", 0.25},
	)}}
	r := New(idx, constEmbedder(), WithOptions(Options{TopK: 5, Threshold: 0.75}))

	got, err := r.Patterns(context.Background(), []diff.FileChange{change("org/repo/changed.go", longCode("a"))})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "org/repo/other.go", got[0].SourcePath)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-9)
	assert.Equal(t, "Similar function 'fn' found in codebase", got[0].Description)
	assert.Equal(t, "org/repo/edge.go", got[1].SourcePath)
	assert.InDelta(t, 0.75, got[1].Similarity, 1e-9)
}

func TestPatterns_SkipsShortAndEmptyHunks(t *testing.T) {
	idx := &stubIndex{}
	r := New(idx, constEmbedder())

	fc := change("a/b/c.py", "x = 1", "      "+strings.Repeat(" ", 60))
	fc.Hunks = append(fc.Hunks, diff.DiffHunk{Content: "@@ -1,2 +1 @@\n-removed\n context\n"})

	got, err := r.Patterns(context.Background(), []diff.FileChange{fc})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, idx.calls, "no candidate should reach the index")
}

func TestPatterns_RepoScope(t *testing.T) {
	idx := &stubIndex{}
	r := New(idx, constEmbedder())

	_, err := r.Patterns(context.Background(), []diff.FileChange{
		change("acme/shop/src/cart.go", longCode("a")),
		change("README.md", longCode("b")),
	})
	require.NoError(t, err)
	require.Len(t, idx.filters, 2)
	assert.Equal(t, &vector.Filter{Repo: "acme/shop"}, idx.filters[0])
	assert.Nil(t, idx.filters[1])
}

func TestPatterns_FailuresSkipOnlyTheirHunk(t *testing.T) {
	var calls int
	var mu sync.Mutex
	flaky := embed.Func(func(_ context.Context, text string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if strings.Contains(text, "embedfail") {
			return nil, errors.New("503 Service Unavailable")
		}
		return []float32{1, 0}, nil
	})
	idx := &stubIndex{
		queries: []*vector.QueryResult{
			nil, // consumed by the failing query below
			result(hit{"x/y/kept.go", "kept", 0.05}),
		},
		queryErr: map[int]error{0: errors.New("index unavailable")},
	}
	m := observability.NewMetrics()
	r := New(idx, flaky, WithMetrics(m))

	got, err := r.Patterns(context.Background(), []diff.FileChange{
		change("x/y/a.go", longCode("queryfail"), longCode("embedfail"), longCode("ok")),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x/y/kept.go", got[0].SourcePath)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, idx.calls)
}

func TestPatterns_StableOrderAndDedup(t *testing.T) {
	shared := strings.Repeat("s", 100)
	idx := &stubIndex{queries: []*vector.QueryResult{
		result(
			hit{"p/q/first.go", "first tie", 0.2},
			hit{"p/q/dup.go", shared + " tail one", 0.1},
		),
		result(
			hit{"p/q/second.go", "second tie", 0.2},
			hit{"p/q/dup.go", shared + " tail two", 0.15},
		),
	}}
	r := New(idx, constEmbedder(), WithOptions(Options{TopK: 5, Threshold: 0.5}))

	got, err := r.Patterns(context.Background(), []diff.FileChange{
		change("p/q/changed.go", longCode("a"), longCode("b")),
	})
	require.NoError(t, err)

	var paths []string
	for _, p := range got {
		paths = append(paths, p.SourcePath)
	}
	assert.Equal(t, []string{"p/q/dup.go", "p/q/first.go", "p/q/second.go"}, paths)
	assert.Equal(t, shared+" tail one", got[0].Snippet)
}

func TestPatterns_Truncation(t *testing.T) {
	var entries []hit
	for i := 0; i < 10; i++ {
		entries = append(entries, hit{fmt.Sprintf("r/s/f%d.go", i), fmt.Sprintf("doc %d", i), float64(i) / 100})
	}
	idx := &stubIndex{queries: []*vector.QueryResult{result(entries...)}}
	r := New(idx, constEmbedder(), WithOptions(Options{TopK: 2, Threshold: 0}))

	got, err := r.Patterns(context.Background(), []diff.FileChange{change("r/s/changed.go", longCode("a"))})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "r/s/f0.go", got[0].SourcePath)
	assert.Equal(t, "r/s/f3.go", got[3].SourcePath)
}

func TestPatterns_ConcurrentMatchesSequential(t *testing.T) {
	mem := vector.NewMemory()
	ctx := context.Background()
	var docs []vector.Document
	for i := 0; i < 12; i++ {
		docs = append(docs, vector.Document{
			ID:       fmt.Sprintf("d%d", i),
			Content:  longCode(fmt.Sprintf("unit%d", i)),
			Vector:   []float32{1, float32(i) / 20},
			Metadata: vector.Metadata{FilePath: fmt.Sprintf("o/r/f%d.go", i%4), UnitType: "function", Name: fmt.Sprintf("unit%d", i), Repo: "o/r"},
		})
	}
	require.NoError(t, mem.Add(ctx, docs))

	emb := embed.Func(func(_ context.Context, text string) ([]float32, error) {
		return []float32{1, float32(len(text)%7) / 10}, nil
	})
	changes := []diff.FileChange{
		change("o/r/f0.go", longCode("a"), longCode("bb"), longCode("ccc")),
		change("o/r/new.go", longCode("dddd"), longCode("eeeee")),
	}

	seq, err := New(mem, emb, WithOptions(Options{TopK: 3, Threshold: 0.5, Concurrency: 1})).Patterns(ctx, changes)
	require.NoError(t, err)
	par, err := New(mem, emb, WithOptions(Options{TopK: 3, Threshold: 0.5, Concurrency: 4})).Patterns(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, seq, par)
	assert.NotEmpty(t, seq)
	for _, p := range seq {
		assert.GreaterOrEqual(t, p.Similarity, 0.5)
	}
}

func TestRelated(t *testing.T) {
	idx := &stubIndex{
		gets: map[string]*vector.GetResult{
			"user.go": {Metadatas: []vector.Metadata{
				{FilePath: "svc/user.go"},
				{FilePath: "svc/user.go_test"},
				{FilePath: "api/user.go"},
				{FilePath: "api/user.go"},
			}},
			"util.py": {Metadatas: []vector.Metadata{
				{FilePath: "api/user.go"},
				{FilePath: "lib/util.py"},
			}},
		},
		getErr: map[string]error{"broken.js": errors.New("boom")},
	}
	r := New(idx, nil)

	got, err := r.Related(context.Background(), []diff.FileChange{
		{Path: "svc/user.go"},
		{Path: "web/broken.js"},
		{Path: "tools/util.py"},
	})
	require.NoError(t, err)
	assert.Equal(t, []RelatedFile{
		{Path: "svc/user.go_test", Relationship: RelationshipSimilarName, Reason: "File name matches user.go"},
		{Path: "api/user.go", Relationship: RelationshipSimilarName, Reason: "File name matches user.go"},
		{Path: "lib/util.py", Relationship: RelationshipSimilarName, Reason: "File name matches util.py"},
	}, got)
	assert.Equal(t, []int{10, 10, 10}, idx.limits)
}

func TestRelated_Cap(t *testing.T) {
	var metas []vector.Metadata
	for i := 0; i < 8; i++ {
		metas = append(metas, vector.Metadata{FilePath: fmt.Sprintf("d%d/x.go", i)})
	}
	var more []vector.Metadata
	for i := 0; i < 8; i++ {
		more = append(more, vector.Metadata{FilePath: fmt.Sprintf("e%d/y.go", i)})
	}
	idx := &stubIndex{gets: map[string]*vector.GetResult{
		"x.go": {Metadatas: metas},
		"y.go": {Metadatas: more},
	}}

	got, err := New(idx, nil).Related(context.Background(), []diff.FileChange{{Path: "x.go"}, {Path: "y.go"}})
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestKnowledge(t *testing.T) {
	mem := vector.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Add(ctx, []vector.Document{{
		ID:       "lib/handlers.go:function:Handle:3",
		Content:  longCode("Handle"),
		Vector:   []float32{1, 0},
		Metadata: vector.Metadata{FilePath: "lib/handlers.go", UnitType: "function", Name: "Handle"},
	}}))

	k, err := New(mem, constEmbedder()).Knowledge(ctx, []diff.FileChange{change("handlers.go", longCode("New"))})
	require.NoError(t, err)
	require.Len(t, k.Patterns, 1)
	assert.Equal(t, "Similar function 'Handle' found in codebase", k.Patterns[0].Description)
	require.Len(t, k.Related, 1)
	assert.Equal(t, "lib/handlers.go", k.Related[0].Path)
	assert.NotNil(t, k.BestPractices)
	assert.Empty(t, k.BestPractices)
}

func TestRepoScope(t *testing.T) {
	assert.Equal(t, "", RepoScope("main.go"))
	assert.Equal(t, "src/foo.py", RepoScope("src/foo.py"))
	assert.Equal(t, "acme/shop", RepoScope("acme/shop/pkg/a.go"))
}

func TestDescribeDefaults(t *testing.T) {
	assert.Equal(t, "Similar code 'unknown' found in codebase", describe(vector.Metadata{}))
}

func TestPrefixCountsCharacters(t *testing.T) {
	assert.Equal(t, "héllo", prefix("héllo wörld", 5))
	assert.Equal(t, "ab", prefix("ab", 5))
}

func TestPatterns_RedactsBeforeEmbedding(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	e := embed.Func(func(_ context.Context, text string) ([]float32, error) {
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
		return []float32{1, 0}, nil
	})
	rd, err := redact.New(nil)
	require.NoError(t, err)

	r := New(&stubIndex{}, e, WithRedactor(rd))
	snippet := `client := api.New(api.Config{Token: "tok_live_0123456789abcdef", Retries: 3})`
	_, err = r.Patterns(context.Background(), []diff.FileChange{change("svc/client.go", snippet)})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.NotContains(t, seen[0], "tok_live_0123456789abcdef")
	assert.Contains(t, seen[0], "[REDACTED:generic_secret]")
}
