// Package gemini implements embed.Embedder on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/efebarandurmaz/whetstone/internal/embed"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-004"

// taskType marks the embedded text as retrievable content.
const taskType = "RETRIEVAL_DOCUMENT"

// Client implements embed.Embedder.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini embedder.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{TaskType: taskType})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &embed.StatusError{Provider: "gemini", Code: apiErr.Code, Err: err}
		}
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, embed.ErrEmptyEmbedding
	}
	return resp.Embeddings[0].Values, nil
}

var _ embed.Embedder = (*Client)(nil)
