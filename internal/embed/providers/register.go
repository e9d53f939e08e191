// Package providers wires the built-in embedding providers into an
// embed.Factory. Both binaries call RegisterDefaults.
package providers

import (
	"context"

	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/embed/gemini"
	"github.com/efebarandurmaz/whetstone/internal/embed/openai"
)

// RegisterDefaults registers openai, gemini and every OpenAI-compatible
// preset into factory.
func RegisterDefaults(factory *embed.Factory) {
	factory.Register("gemini", func(c embed.ProviderConfig) (embed.Embedder, error) {
		return gemini.New(context.Background(), c.APIKey, c.Model)
	})
	for _, name := range []string{"openai", "ollama", "together", "custom"} {
		preset := embed.KnownProviders[name]
		factory.Register(name, func(c embed.ProviderConfig) (embed.Embedder, error) {
			base := c.BaseURL
			if base == "" {
				base = preset
			}
			return openai.New(c.APIKey, c.Model, base), nil
		})
	}
}
