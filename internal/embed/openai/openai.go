// Package openai implements embed.Embedder for OpenAI and OpenAI-compatible
// embedding endpoints (Ollama, Together, self-hosted gateways).
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/efebarandurmaz/whetstone/internal/embed"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// Client implements embed.Embedder.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an embedder. An empty baseURL targets api.openai.com. Retries
// are left to the embed wrappers, so the SDK's own retry is disabled.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client, model: model}
}

func (c *Client) Name() string { return "openai" }

// Model returns the embedding model in use.
func (c *Client) Model() string { return c.model }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &embed.StatusError{Provider: "openai", Code: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, embed.ErrEmptyEmbedding
	}
	return embed.ToFloat32(resp.Data[0].Embedding), nil
}

var _ embed.Embedder = (*Client)(nil)
