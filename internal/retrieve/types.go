// Package retrieve ranks indexed code against the changes of a diff and
// finds indexed files related to the changed ones by name.
package retrieve

import "errors"

var (
	// ErrNoIndex is returned when a Retriever has no index to query.
	ErrNoIndex = errors.New("retrieve: no vector index configured")
	// ErrNoEmbedder is returned when similarity retrieval has no embedder.
	ErrNoEmbedder = errors.New("retrieve: no embedder configured")
)

// RelationshipSimilarName marks files whose path contains the changed file's
// base name.
const RelationshipSimilarName = "similar_name"

// Pattern is an indexed code fragment similar to changed code.
type Pattern struct {
	SourcePath  string  `json:"source_path" yaml:"source_path"`
	Snippet     string  `json:"snippet" yaml:"snippet"`
	Similarity  float64 `json:"similarity_score" yaml:"similarity_score"`
	Description string  `json:"description" yaml:"description"`
}

// BestPractice is guidance drawn from project documentation.
type BestPractice struct {
	Source    string `json:"source" yaml:"source"`
	Content   string `json:"content" yaml:"content"`
	Relevance string `json:"relevance" yaml:"relevance"`
}

// RelatedFile is an indexed file related to a changed one.
type RelatedFile struct {
	Path         string `json:"path" yaml:"path"`
	Relationship string `json:"relationship" yaml:"relationship"`
	Reason       string `json:"reason" yaml:"reason"`
}

// Knowledge aggregates everything retrieved for one set of changes.
// BestPractices is not populated yet.
type Knowledge struct {
	Patterns      []Pattern      `json:"similar_patterns" yaml:"similar_patterns"`
	BestPractices []BestPractice `json:"best_practices" yaml:"best_practices"`
	Related       []RelatedFile  `json:"related_files" yaml:"related_files"`
}

// Options tune similarity retrieval.
type Options struct {
	// TopK is the number of neighbours requested per candidate. At most
	// 2*TopK patterns are returned.
	TopK int `json:"top_k" yaml:"top_k"`
	// Threshold is the minimum similarity (1 - cosine distance) kept.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// MinSnippetLen skips added code shorter than this once trimmed.
	MinSnippetLen int `json:"min_snippet_len" yaml:"min_snippet_len"`
	// Concurrency bounds parallel candidate lookups. Values below 2 run
	// candidates one at a time in encounter order.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// DefaultOptions returns top_k 5, threshold 0.7, a 50 character minimum and
// sequential lookups.
func DefaultOptions() Options {
	return Options{TopK: 5, Threshold: 0.7, MinSnippetLen: 50, Concurrency: 1}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.MinSnippetLen <= 0 {
		o.MinSnippetLen = d.MinSnippetLen
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}
