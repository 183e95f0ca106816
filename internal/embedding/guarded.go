package embedding

import (
	"context"

	"github.com/hyperjump/lumimind/internal/resilience"
)

// Guarded routes every embedding call through a resilience guard.
type Guarded struct {
	Embedder
	guard *resilience.Guard
}

// NewGuarded wraps inner with guard.
func NewGuarded(inner Embedder, guard *resilience.Guard) *Guarded {
	return &Guarded{Embedder: inner, guard: guard}
}

func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([]float32, error) {
		return g.Embedder.Embed(ctx, text)
	})
}

func (g *Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) ([][]float32, error) {
		return g.Embedder.EmbedBatch(ctx, texts)
	})
}
