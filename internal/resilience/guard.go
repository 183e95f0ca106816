// Package resilience bounds calls to remote capabilities with rate limiting, circuit breaking
// and exponential-backoff retries.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
)

const tracerName = "github.com/hyperjump/lumimind/internal/resilience"

// Guard wraps one capability (for example "generation:openai"). Calls wait on the rate limiter,
// pass the circuit breaker, and are retried with exponential backoff. A call that exhausts its
// attempts or meets an open breaker fails with *models.CapabilityUnavailableError.
type Guard struct {
	name     string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	initial  time.Duration
	max      time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets a logger for breaker state changes and retries.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a guard named after the capability it protects.
func NewGuard(name string, cfg config.ResilienceConfig, opts ...Option) *Guard {
	g := &Guard{
		name:     name,
		maxTries: cfg.MaxRetries + 1,
		initial:  cfg.InitialBackoff,
		max:      cfg.MaxBackoff,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if g.logger != nil {
				g.logger.Warn("circuit breaker state change",
					zap.String("capability", name), zap.String("from", from.String()), zap.String("to", to.String()))
			}
		},
	})
	return g
}

// Name returns the capability name.
func (g *Guard) Name() string { return g.name }

// State returns the breaker state ("closed", "half-open" or "open").
func (g *Guard) State() string { return g.breaker.State().String() }

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Once runs fn a single time through the limiter and breaker, without retries. Used for
// streaming calls, which cannot be replayed after output has been emitted.
func (g *Guard) Once(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, g.name)
	defer span.End()
	err := g.attempt(ctx, func(ctx context.Context) (any, error) { return nil, fn(ctx) })
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		err = g.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
	}
	return err
}

// Call runs fn under g and returns its value.
func Call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := g.tracer.Start(ctx, g.name)
	defer span.End()

	var zero T
	attempts := 0
	op := func() (T, error) {
		attempts++
		var out T
		err := g.attempt(ctx, func(ctx context.Context) (any, error) {
			v, err := fn(ctx)
			out = v
			return nil, err
		})
		if err != nil {
			return zero, err
		}
		return out, nil
	}

	b := backoff.NewExponentialBackOff()
	if g.initial > 0 {
		b.InitialInterval = g.initial
	}
	if g.max > 0 {
		b.MaxInterval = g.max
	}
	notify := func(err error, wait time.Duration) {
		if g.logger != nil {
			g.logger.Debug("retrying capability call",
				zap.String("capability", g.name), zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
		}
	}
	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.maxTries),
		backoff.WithNotify(notify),
	)
	span.SetAttributes(attribute.Int("resilience.attempts", attempts))
	if err != nil {
		err = g.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return zero, err
	}
	return v, nil
}

// attempt makes one limited, breaker-guarded call. Errors that must not be retried come back
// wrapped in backoff.Permanent.
func (g *Guard) attempt(ctx context.Context, fn func(context.Context) (any, error)) error {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return backoff.Permanent(err)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) { return fn(ctx) })
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !countsAsFailure(err) {
		return backoff.Permanent(err)
	}
	return err
}

// classify maps a final error: the caller's own cancellation and caller errors pass through,
// everything else becomes CapabilityUnavailableError.
func (g *Guard) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !countsAsFailure(err) || errors.Is(err, models.ErrCapabilityUnavailable) {
		return err
	}
	return &models.CapabilityUnavailableError{Capability: g.name, Err: err}
}

// countsAsFailure is false for errors caused by the caller rather than the capability.
func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrConfiguration),
		errors.Is(err, models.ErrEmbeddingMismatch):
		return false
	}
	return true
}
