// Package vector defines the similarity index used for retrieval and the
// fixed metadata schema stored alongside every indexed code unit.
package vector

import (
	"context"
	"errors"
	"strings"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index's configured dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Metadata is stored with every document.
type Metadata struct {
	FilePath  string `json:"file_path" yaml:"file_path"`
	UnitType  string `json:"unit_type" yaml:"unit_type"`
	Name      string `json:"name" yaml:"name"`
	Language  string `json:"language,omitempty" yaml:"language,omitempty"`
	Repo      string `json:"repo,omitempty" yaml:"repo,omitempty"`
	LineStart int    `json:"line_start,omitempty" yaml:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty" yaml:"line_end,omitempty"`
}

// Document is a code unit with its embedding, ready to be added to an index.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata Metadata
}

// Filter narrows Query and Get. Empty fields do not constrain.
type Filter struct {
	// Repo must equal Metadata.Repo.
	Repo string
	// FilePathContains must be a substring of Metadata.FilePath.
	FilePathContains string
}

// IsZero reports whether the filter constrains nothing.
func (f *Filter) IsZero() bool {
	return f == nil || (f.Repo == "" && f.FilePathContains == "")
}

// Match evaluates the filter against metadata, for backends that filter in
// process.
func (f *Filter) Match(m Metadata) bool {
	if f == nil {
		return true
	}
	if f.Repo != "" && m.Repo != f.Repo {
		return false
	}
	if f.FilePathContains != "" && !strings.Contains(m.FilePath, f.FilePathContains) {
		return false
	}
	return true
}

// QueryResult holds nearest neighbours as parallel slices in the index's own
// relevance order. Distances are cosine distances (1 - cosine similarity).
type QueryResult struct {
	IDs       []string
	Distances []float64
	Documents []string
	Metadatas []Metadata
}

// Len returns the number of results.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// GetResult holds metadata-filtered entries as parallel slices.
type GetResult struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
}

// Len returns the number of entries.
func (r *GetResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// Index is a similarity index over code units. Implementations must be safe
// for concurrent reads.
type Index interface {
	// Query returns the k nearest neighbours of vec.
	Query(ctx context.Context, vec []float32, k int, filter *Filter) (*QueryResult, error)
	// Get returns up to limit entries matching filter. limit <= 0 means no
	// limit.
	Get(ctx context.Context, filter *Filter, limit int) (*GetResult, error)
	// Add inserts or replaces documents by ID.
	Add(ctx context.Context, docs []Document) error
	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
	// Close releases resources.
	Close() error
}

// Clear deletes every document in idx and returns how many were removed.
func Clear(ctx context.Context, idx Index) (int, error) {
	all, err := idx.Get(ctx, nil, 0)
	if err != nil {
		return 0, err
	}
	if all.Len() == 0 {
		return 0, nil
	}
	if err := idx.Delete(ctx, all.IDs); err != nil {
		return 0, err
	}
	return all.Len(), nil
}
