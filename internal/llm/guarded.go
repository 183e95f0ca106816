package llm

import (
	"context"

	"github.com/hyperjump/lumimind/internal/resilience"
)

// Guarded routes generation through a resilience guard.
type Guarded struct {
	inner Generator
	guard *resilience.Guard
}

// NewGuarded wraps inner with guard.
func NewGuarded(inner Generator, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

func (g *Guarded) Generate(ctx context.Context, msgs []Message, opts Options) (string, error) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) (string, error) {
		return g.inner.Generate(ctx, msgs, opts)
	})
}

// Stream streams when the inner generator can, otherwise emits the whole completion at once.
// Streams are attempted once; a retry would replay chunks already delivered.
func (g *Guarded) Stream(ctx context.Context, msgs []Message, opts Options, fn func(string) error) error {
	s, ok := g.inner.(Streamer)
	if !ok {
		text, err := g.Generate(ctx, msgs, opts)
		if err != nil {
			return err
		}
		return fn(text)
	}
	return g.guard.Once(ctx, func(ctx context.Context) error {
		return s.Stream(ctx, msgs, opts, fn)
	})
}

func (g *Guarded) Model() string { return g.inner.Model() }
