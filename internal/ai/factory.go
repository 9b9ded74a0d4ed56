package ai

import (
	"context"
	"fmt"
	"time"

	"intellixdoc/internal/config"
)

// NewEmbedder picks the embedding backend named in the configuration.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	ec := cfg.Embedding
	switch ec.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(ec.Dimension), nil
	case config.ProviderOpenAI:
		client := NewOpenAICompatibleClient(ec.BaseURL, ec.APIKey, time.Duration(ec.TimeoutSeconds)*time.Second, ec.RequestsPerSec)
		return NewOpenAIEmbedder(client, ec.Model, ec.Dimension), nil
	case config.ProviderGemini:
		e, err := NewGeminiEmbedder(ctx, firstNonEmpty(ec.APIKey, cfg.Gemini.APIKey), ec.Model, ec.Dimension)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}
}

// NewGenerator picks the generation backend named in the configuration.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	lc := cfg.LLM
	switch lc.Provider {
	case config.ProviderOpenAI:
		client := NewOpenAICompatibleClient(lc.BaseURL, lc.APIKey, time.Duration(lc.TimeoutSeconds)*time.Second, lc.RequestsPerSec)
		return NewOpenAIGenerator(client, lc.Model, lc.Temperature), nil
	case config.ProviderGemini:
		g, err := NewGeminiGenerator(ctx, firstNonEmpty(lc.APIKey, cfg.Gemini.APIKey), lc.Model, lc.Temperature)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", lc.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
