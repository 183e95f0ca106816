package config

import (
	"fmt"

	"github.com/hyperjump/lumimind/internal/models"
)

// Providers the core knows about. internlm and spark exist in the provider list but have no adapter.
var (
	knownLLMProviders       = map[string]bool{"openai": true, "gemini": true, "deepseek": true, "siliconflow": true, "ollama": true}
	unimplementedProviders  = map[string]bool{"internlm": true, "spark": true}
	knownEmbeddingProviders = map[string]bool{"hash": true, "onnx": true, "openai": true, "siliconflow": true, "gemini": true, "ollama": true}
)

// Validate checks cfg after defaults are applied. It returns a *models.ConfigurationError for
// the first invalid setting.
func Validate(cfg *Config) error {
	bad := func(field, format string, args ...any) error {
		return &models.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if cfg.Storage.DataDir == "" {
		return bad("storage.data_dir", "required")
	}
	if !knownEmbeddingProviders[cfg.Embedding.Provider] {
		return bad("embedding.provider", "unknown provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return bad("embedding.dimensions", "must be positive")
	}
	switch models.SimilarityMetric(cfg.Embedding.Metric) {
	case models.MetricCosine, models.MetricInnerProduct:
	default:
		return bad("embedding.metric", "must be cosine or inner_product, got %q", cfg.Embedding.Metric)
	}
	if err := ValidateProvider(cfg.LLM.Provider); err != nil {
		return err
	}

	seen := make(map[string]models.Domain)
	for _, domain := range []models.Domain{models.DomainMentalHealth, models.DomainCommunication} {
		c, ok := cfg.Knowledge.Collections[domain]
		if !ok || c.Name == "" {
			return bad("knowledge.collections."+string(domain)+".name", "required")
		}
		if other, dup := seen[c.Name]; dup {
			return bad("knowledge.collections."+string(domain)+".name", "collection %q already used by %s", c.Name, other)
		}
		seen[c.Name] = domain
	}
	for domain := range cfg.Knowledge.Collections {
		if !domain.Valid() {
			return bad("knowledge.collections", "unknown domain %q", domain)
		}
	}
	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return bad("knowledge.chunk_overlap", "must be smaller than chunk_size")
	}
	if cfg.Knowledge.TopK <= 0 {
		return bad("knowledge.top_k", "must be positive")
	}
	if cfg.Knowledge.SimilarityFloor < 0 || cfg.Knowledge.SimilarityFloor > 1 {
		return bad("knowledge.similarity_floor", "must be within [0,1]")
	}

	if cfg.Crisis.Threshold <= 0 || cfg.Crisis.Threshold > 1 {
		return bad("crisis.threshold", "must be within (0,1]")
	}
	w := cfg.Crisis.Weights
	if w.Keyword < 0 || w.Sentiment < 0 || w.ModelJudgment < 0 {
		return bad("crisis.weights", "weights must be non-negative")
	}
	if w.Keyword+w.Sentiment+w.ModelJudgment == 0 {
		return bad("crisis.weights", "at least one weight must be positive")
	}
	if cfg.Crisis.CorroborationFloor < 0 || cfg.Crisis.CorroborationFloor > 1 {
		return bad("crisis.corroboration_floor", "must be within [0,1]")
	}
	if cfg.Crisis.KeywordCap <= 0 || cfg.Crisis.KeywordCap >= 1 {
		return bad("crisis.keyword_cap", "must be within (0,1); 1.0 is reserved for top-severity phrases")
	}

	if cfg.Conversation.WindowSize <= 0 {
		return bad("conversation.window_size", "must be positive")
	}
	switch cfg.Conversation.SessionStore {
	case "memory":
	case "redis":
		if cfg.Conversation.RedisURL == "" {
			return bad("conversation.redis_url", "required when session_store is redis")
		}
	default:
		return bad("conversation.session_store", "must be memory or redis, got %q", cfg.Conversation.SessionStore)
	}
	return nil
}

// ValidateProvider reports whether a generation provider can be constructed.
func ValidateProvider(provider string) error {
	if unimplementedProviders[provider] {
		return &models.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("provider %q is not implemented", provider)}
	}
	if !knownLLMProviders[provider] {
		return &models.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
	}
	return nil
}
