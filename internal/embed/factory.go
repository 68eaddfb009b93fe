package embed

import (
	"context"
	"fmt"

	"github.com/jrmatherly/apollos/internal/config"
)

// New builds the configured embedder and wraps it with the LRU cache. The
// returned embedder has a resolved, fixed dimension.
func New(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	inner, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newProvider(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(ctx, OllamaConfig{
			Host:        cfg.Host,
			Model:       cfg.Model,
			Dimensions:  cfg.Dimensions,
			QueryPrefix: cfg.QueryPrefix,
			BatchSize:   cfg.BatchSize,
			MaxRetries:  cfg.MaxRetries,
		})
	case "openai":
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:     cfg.Host,
			APIKey:      cfg.APIKey(),
			Model:       cfg.Model,
			Dimensions:  cfg.Dimensions,
			QueryPrefix: cfg.QueryPrefix,
			BatchSize:   cfg.BatchSize,
			MaxRetries:  cfg.MaxRetries,
		})
	case "static":
		return NewStaticEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.Provider)
	}
}
