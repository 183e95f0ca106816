package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
)

// New builds the configured embedder, wrapped with the LRU cache when cfg.CacheSize > 0.
func New(ctx context.Context, cfg config.EmbeddingConfig, secrets config.Secrets) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "hash":
		e = NewHashEmbedder(cfg.Dimensions)
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Model, cfg.Dimensions, cfg.MaxTokens)
	case "openai":
		e, err = NewOpenAIEmbedder(secrets.APIKey("openai"), cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "siliconflow":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.siliconflow.cn/v1"
		}
		e, err = NewOpenAIEmbedder(secrets.APIKey("siliconflow"), baseURL, cfg.Model, cfg.Dimensions)
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, secrets.APIKey("gemini"), cfg.Model, cfg.Dimensions)
	case "ollama":
		e = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, &models.ConfigurationError{Field: "embedding.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, &models.ConfigurationError{Field: "embedding.provider", Reason: err.Error()}
	}
	if cfg.CacheSize > 0 {
		return NewCached(e, cfg.CacheSize), nil
	}
	return e, nil
}

// CollectionConfig returns the embedding configuration a collection built with e must keep.
func CollectionConfig(e Embedder, metric models.SimilarityMetric) models.EmbeddingConfig {
	return models.EmbeddingConfig{Model: e.Model(), Dimensions: e.Dimensions(), Metric: metric}
}
