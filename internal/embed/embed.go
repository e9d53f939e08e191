// Package embed turns text into vectors through pluggable providers, with
// retry, rate limiting and memoisation wrappers.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("embed: provider returned no embedding")

// Embedder produces an embedding for a single text.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Name() string { return "func" }

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ToFloat32 narrows a float64 vector as returned by most HTTP APIs.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// StatusError carries the HTTP status of a failed provider call so retry
// decisions do not depend on message text.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus reports the response status code.
func (e *StatusError) HTTPStatus() int { return e.Code }
