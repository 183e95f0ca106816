package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/resilience"
)

// Factory builds an unguarded generator for provider and model.
type Factory func(ctx context.Context, provider, model string) (Generator, error)

// Registry resolves and caches guarded generators per provider/model, so sessions can switch
// providers without rebuilding clients. Each provider shares one guard.
type Registry struct {
	cfg     config.LLMConfig
	secrets config.Secrets
	res     config.ResilienceConfig
	factory Factory
	logger  *zap.Logger

	mu         sync.Mutex
	generators map[string]Generator
	guards     map[string]*resilience.Guard
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets a logger for provider resolution and guard events.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithFactory replaces the provider constructors (tests inject fakes here).
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// NewRegistry creates a registry from the loaded configuration.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:        cfg.LLM,
		secrets:    cfg.Secrets,
		res:        cfg.Resilience,
		generators: make(map[string]Generator),
		guards:     make(map[string]*resilience.Guard),
	}
	r.factory = r.build
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default resolves the configured default provider and model.
func (r *Registry) Default(ctx context.Context) (Generator, error) {
	return r.Resolve(ctx, "", "")
}

// Resolve returns the guarded generator for provider and model. Empty values fall back to the
// configured defaults. Unimplemented or unknown providers yield *models.ConfigurationError.
func (r *Registry) Resolve(ctx context.Context, provider, model string) (Generator, error) {
	if provider == "" {
		provider = r.cfg.Provider
	}
	if err := config.ValidateProvider(provider); err != nil {
		return nil, err
	}
	if model == "" {
		if provider == r.cfg.Provider && r.cfg.Model != "" {
			model = r.cfg.Model
		} else {
			model = r.cfg.Providers[provider].Model
		}
	}
	if model == "" {
		return nil, &models.ConfigurationError{Field: "llm.providers." + provider + ".model", Reason: "required"}
	}

	key := provider + "/" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.generators[key]; ok {
		return g, nil
	}
	inner, err := r.factory(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	guard, ok := r.guards[provider]
	if !ok {
		var gopts []resilience.Option
		if r.logger != nil {
			gopts = append(gopts, resilience.WithLogger(r.logger))
		}
		guard = resilience.NewGuard("generation:"+provider, r.res, gopts...)
		r.guards[provider] = guard
	}
	g := NewGuarded(inner, guard)
	r.generators[key] = g
	if r.logger != nil {
		r.logger.Info("generation provider resolved", zap.String("provider", provider), zap.String("model", model))
	}
	return g, nil
}

// Guards returns the per-provider guards created so far, for status reporting.
func (r *Registry) Guards() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.guards))
	for p, g := range r.guards {
		out[p] = g.State()
	}
	return out
}

func (r *Registry) build(ctx context.Context, provider, model string) (Generator, error) {
	pc := r.cfg.Providers[provider]
	wrap := func(err error) error {
		return &models.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("%s: %v", provider, err)}
	}
	switch provider {
	case "openai", "deepseek", "siliconflow":
		g, err := NewOpenAIGenerator(r.secrets.APIKey(provider), pc.BaseURL, model)
		if err != nil {
			return nil, wrap(err)
		}
		return g, nil
	case "gemini":
		g, err := NewGeminiGenerator(ctx, r.secrets.APIKey(provider), model)
		if err != nil {
			return nil, wrap(err)
		}
		return g, nil
	case "ollama":
		return NewOllamaGenerator(pc.BaseURL, model, r.cfg.Timeout), nil
	}
	return nil, &models.ConfigurationError{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
}
