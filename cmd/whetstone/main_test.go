package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

const sampleDiff = `diff --git a/svc/handler.go b/svc/handler.go
--- a/svc/handler.go
+++ b/svc/handler.go
@@ -10,2 +10,4 @@ func Serve() {
 	mux := http.NewServeMux()
+	mux.HandleFunc("/health", health)
+	mux.HandleFunc("/ready", ready)
-	log.Fatal(http.ListenAndServe(":80", mux))
diff --git a/web/app.ts b/web/app.ts
--- a/web/app.ts
+++ b/web/app.ts
@@ -1 +1,2 @@
+export const answer = 42;
 export {};
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WHETSTONE_VECTOR_BACKEND", "memory")
	t.Setenv("WHETSTONE_EMBED_PROVIDER", "none")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParse_JSONFromStdin(t *testing.T) {
	out, err := execute(t, sampleDiff, "parse", "-o", "json")
	require.NoError(t, err)

	var changes []diff.FileChange
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	require.Len(t, changes, 2)
	assert.Equal(t, "svc/handler.go", changes[0].Path)
	assert.Equal(t, 2, changes[0].Additions)
	assert.Equal(t, 1, changes[0].Deletions)
	assert.Equal(t, "web/app.ts", changes[1].Path)
}

func TestParse_TableFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "change.diff")
	require.NoError(t, os.WriteFile(p, []byte(sampleDiff), 0o644))

	out, err := execute(t, "", "parse", p)
	require.NoError(t, err)
	assert.Contains(t, out, "svc/handler.go")
	assert.Contains(t, strings.ToLower(out), "2 files")
}

func TestRootCmd_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, sampleDiff, "parse", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestExtract_GoFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "clock.go")
	src := "package clock\n\ntype Clock interface {\n\tNow() int64\n}\n\nfunc Since(c Clock, t int64) int64 {\n\treturn c.Now() - t\n}\n"
	require.NoError(t, os.WriteFile(p, []byte(src), 0o644))

	out, err := execute(t, "", "extract", "-o", "yaml", p)
	require.NoError(t, err)

	var files []struct {
		Path     string `yaml:"path"`
		Language string `yaml:"language"`
		Strategy string `yaml:"strategy"`
		Units    []struct {
			Name string `yaml:"name"`
			Type string `yaml:"unit_type"`
		} `yaml:"units"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "go", files[0].Language)
	assert.Equal(t, "native", files[0].Strategy)
	require.Len(t, files[0].Units, 2)
	assert.Equal(t, "Clock", files[0].Units[0].Name)
	assert.Equal(t, "interface", files[0].Units[0].Type)
	assert.Equal(t, "Since", files[0].Units[1].Name)
}

func TestLanguages_Classify(t *testing.T) {
	out, err := execute(t, "", "languages", "-o", "json", "cmd/main.go", "vendor/lib/x.go", "notes.unknownext")
	require.NoError(t, err)

	var got []classifiedPath
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "go", string(got[0].Language))
	assert.True(t, got[1].Vendored)
	assert.False(t, got[2].Known)
}

func TestLanguages_ListsGo(t *testing.T) {
	out, err := execute(t, "", "languages")
	require.NoError(t, err)
	out = strings.ToLower(out)
	assert.Contains(t, out, "native")
	assert.Contains(t, out, "fallback")
}

func TestRelated_EmptyIndex(t *testing.T) {
	out, err := execute(t, sampleDiff, "related", "-o", "json")
	require.NoError(t, err)

	var related []retrieve.RelatedFile
	require.NoError(t, json.Unmarshal([]byte(out), &related))
	assert.Empty(t, related)
}

func TestRetrieve_RequiresEmbedder(t *testing.T) {
	_, err := execute(t, sampleDiff, "retrieve")
	assert.ErrorIs(t, err, errNoEmbedder)
}

func TestContext_WithoutEmbedder(t *testing.T) {
	out, err := execute(t, sampleDiff, "context", "-o", "json", "--title", "Add probes", "--labels", "ops,http")
	require.NoError(t, err)

	var got struct {
		Metadata struct {
			Title  string   `json:"title"`
			Labels []string `json:"labels"`
		} `json:"pr_metadata"`
		CI struct {
			Languages []string `json:"languages"`
		} `json:"ci_config"`
		Knowledge *retrieve.Knowledge `json:"retrieved_knowledge"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Add probes", got.Metadata.Title)
	assert.Equal(t, []string{"ops", "http"}, got.Metadata.Labels)
	assert.ElementsMatch(t, []string{"go", "typescript"}, got.CI.Languages)
	assert.Nil(t, got.Knowledge)
}

func TestGraphUnits_RequiresGraph(t *testing.T) {
	_, err := execute(t, "", "graph", "units", "acme/shop", "main.go")
	assert.ErrorContains(t, err, "no graph configured")
}

func TestProviders(t *testing.T) {
	out, err := execute(t, "", "providers")
	require.NoError(t, err)
	for _, name := range []string{"openai", "ollama", "together", "gemini"} {
		assert.Contains(t, out, name)
	}
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n\tb   c", 20))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
	assert.Equal(t, "-", lineRange(0, 0))
	assert.Equal(t, "3-9", lineRange(3, 9))
}

func TestIndex_KeepAndIncrementalConflict(t *testing.T) {
	_, err := execute(t, "", "index", "--keep", "--incremental", t.TempDir())
	require.Error(t, err)
}

func TestUpdateIndex_PersistsState(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src := "package calc\n\nfunc Sum(values []int) int {\n\ttotal := 0\n\tfor _, v := range values {\n\t\ttotal += v\n\t}\n\treturn total\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.go"), []byte(src), 0o644))

	cache := extract.NewParserCache()
	t.Cleanup(cache.Close)
	e := embed.Func(func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })
	ix, err := indexer.New(vector.NewMemory(), e, extract.New(cache))
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), ".whetstone", "state.json")
	stats, err := updateIndex(ctx, ix, indexer.Dir(root), "acme/calc", statePath)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	st, err := indexer.LoadState(statePath)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, []string{"calc.go"}, st.Paths())

	stats, err = updateIndex(ctx, ix, indexer.Dir(root), "acme/calc", statePath)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Zero(t, stats.Files)
}
