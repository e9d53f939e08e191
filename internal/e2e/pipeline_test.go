package e2e

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/whetstone/internal/collector"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/graph"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/redact"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
	"github.com/efebarandurmaz/whetstone/internal/vector"
)

const dims = 256

// bagOfWords embeds text as hashed identifier counts, so code sharing most
// identifiers lands close together.
func bagOfWords() embed.Embedder {
	return embed.Func(func(_ context.Context, text string) ([]float32, error) {
		v := make([]float32, dims)
		words := strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%dims]++
		}
		var norm float64
		for _, x := range v {
			norm += float64(x * x)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for i := range v {
				v[i] /= n
			}
		}
		return v, nil
	})
}

var repoFiles = map[string]string{
	"handlers/users.go": `package handlers

import (
	"encoding/json"
	"net/http"
)

func CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}
`,
	"legacy/orders.go": `package legacy

// Totals sums order amounts per customer.
func Totals(rows []Row) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Customer] += row.Amount
	}
	return out
}
`,
	"config/settings.go": `package config

func SigningSecret() string {
	webhookSecret := "whsec_0123456789abcdef"
	return webhookSecret + " used for signing outbound webhooks"
}
`,
}

const prDiff = `diff --git a/acme/shop/handlers/orders.go b/acme/shop/handlers/orders.go
--- a/acme/shop/handlers/orders.go
+++ b/acme/shop/handlers/orders.go
@@ -1,1 +1,9 @@
 package handlers
+func CreateOrder(w http.ResponseWriter, r *http.Request) {
+	var req OrderRequest
+	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
+		http.Error(w, err.Error(), http.StatusBadRequest)
+		return
+	}
+	writeJSON(w, http.StatusCreated, req)
+}
`

func TestPipeline_IndexRetrieveCollect(t *testing.T) {
	ctx := context.Background()

	root := t.TempDir()
	for name, content := range repoFiles {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	classifier := lang.NewClassifier(nil)
	cache := extract.NewParserCache()
	t.Cleanup(cache.Close)
	extractor := extract.New(cache, extract.WithClassifier(classifier))
	rd, err := redact.New(nil)
	require.NoError(t, err)

	mem := vector.NewMemory()
	g := graph.NewMemory()
	e := bagOfWords()

	ix, err := indexer.New(mem, e, extractor,
		indexer.WithClassifier(classifier),
		indexer.WithGraph(g),
		indexer.WithRedactor(rd),
	)
	require.NoError(t, err)

	stats, err := ix.Reindex(ctx, indexer.Dir(root), "acme/shop")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 1, stats.Redacted)
	assert.Equal(t, []string{"config/settings.go", "handlers/users.go", "legacy/orders.go"}, g.Files("acme/shop"))

	secrets, err := mem.Get(ctx, &vector.Filter{FilePathContains: "settings.go"}, 0)
	require.NoError(t, err)
	for _, doc := range secrets.Documents {
		assert.NotContains(t, doc, "whsec_0123456789abcdef")
	}

	retriever := retrieve.New(mem, e, retrieve.WithOptions(retrieve.Options{TopK: 3, Threshold: 0.5}))
	c := collector.New(classifier, retriever, nil)
	out := c.Collect(ctx, collector.Request{
		DiffText: prDiff,
		Metadata: collector.PRMetadata{Repo: "acme/shop", Number: 7, Title: "Add order creation"},
	})

	require.Len(t, out.FileChanges, 1)
	assert.Equal(t, "acme/shop/handlers/orders.go", out.FileChanges[0].Path)
	assert.Equal(t, 8, out.FileChanges[0].Additions)
	assert.Equal(t, []string{"go"}, out.CIConfig.Languages)
	assert.Equal(t, "go test ./...", out.CIConfig.TestCommand)
	assert.Equal(t, []string{}, out.Metadata.Labels)

	require.NotNil(t, out.Knowledge)
	k := out.Knowledge
	require.NotEmpty(t, k.Patterns)
	top := k.Patterns[0]
	assert.Equal(t, "handlers/users.go", top.SourcePath)
	assert.Equal(t, "Similar function 'CreateUser' found in codebase", top.Description)
	assert.Greater(t, top.Similarity, 0.8)
	for _, p := range k.Patterns {
		assert.GreaterOrEqual(t, p.Similarity, 0.5)
	}

	require.Len(t, k.Related, 1)
	assert.Equal(t, "legacy/orders.go", k.Related[0].Path)
	assert.Equal(t, retrieve.RelationshipSimilarName, k.Related[0].Relationship)
	assert.Equal(t, []retrieve.BestPractice{}, k.BestPractices)
}
