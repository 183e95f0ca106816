package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/storage"
)

// OTelReporter logs events with zap, counts them with OpenTelemetry instruments and, for
// consenting sessions, aggregates escalations into the stats store.
type OTelReporter struct {
	logger *zap.Logger
	stats  *storage.StatsStore

	escalations      metric.Int64Counter
	degradations     metric.Int64Counter
	turns            metric.Int64Counter
	turnDuration     metric.Float64Histogram
	retrievals       metric.Int64Counter
	retrievalQuality metric.Float64Histogram
}

// OTelOption configures an OTelReporter.
type OTelOption func(*OTelReporter)

// WithStats writes consented escalations to s.
func WithStats(s *storage.StatsStore) OTelOption {
	return func(r *OTelReporter) { r.stats = s }
}

// NewOTelReporter builds the instruments from the global meter provider.
func NewOTelReporter(logger *zap.Logger, opts ...OTelOption) (*OTelReporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &OTelReporter{logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	meter := otel.Meter("lumimind")
	var err error
	if r.escalations, err = meter.Int64Counter("crisis.escalations.total",
		metric.WithDescription("Turns routed to the crisis intervention")); err != nil {
		return nil, err
	}
	if r.degradations, err = meter.Int64Counter("capability.degradations.total",
		metric.WithDescription("Capability failures worked around by a fallback")); err != nil {
		return nil, err
	}
	if r.turns, err = meter.Int64Counter("turns.total",
		metric.WithDescription("Handled conversation turns")); err != nil {
		return nil, err
	}
	if r.turnDuration, err = meter.Float64Histogram("turn.duration",
		metric.WithDescription("Turn latency in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.retrievals, err = meter.Int64Counter("retrievals.total",
		metric.WithDescription("Knowledge retrievals")); err != nil {
		return nil, err
	}
	if r.retrievalQuality, err = meter.Float64Histogram("retrieval.relevance",
		metric.WithDescription("Mean score of retrieved passages")); err != nil {
		return nil, err
	}
	return r, nil
}

func signalNames(kinds []models.SignalKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Escalation logs at warn level and records the aggregate counter.
func (r *OTelReporter) Escalation(ctx context.Context, ev EscalationEvent) {
	decisive := signalNames(ev.Decisive)
	fields := []zap.Field{
		zap.String("module", string(ev.Module)),
		zap.Float64("score", ev.Score),
		zap.Strings("decisive", decisive),
		zap.Strings("keywords", ev.Keywords),
		zap.Strings("degraded", signalNames(ev.Degraded)),
	}
	for kind, score := range ev.SignalScores {
		fields = append(fields, zap.Float64("signal."+string(kind), score))
	}
	r.logger.Warn("crisis escalation", fields...)

	r.escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", string(ev.Module)),
		attribute.StringSlice("decisive", decisive),
	))
	if r.stats != nil && ev.Analytics {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		if err := r.stats.RecordEscalation(context.WithoutCancel(ctx), at, string(ev.Module), decisive); err != nil {
			r.logger.Error("failed to record escalation stats", zap.Error(err))
		}
	}
}

func (r *OTelReporter) Degradation(ctx context.Context, ev DegradationEvent) {
	r.logger.Warn("capability degraded",
		zap.String("capability", ev.Capability),
		zap.String("signal", string(ev.Signal)),
		zap.String("reason", ev.Reason))
	r.degradations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", ev.Capability),
		attribute.String("signal", string(ev.Signal)),
	))
}

func (r *OTelReporter) Turn(ctx context.Context, ev TurnEvent) {
	attrs := metric.WithAttributes(
		attribute.String("module", string(ev.Module)),
		attribute.String("mode", string(ev.Mode)),
		attribute.String("outcome", ev.Outcome),
	)
	r.turns.Add(ctx, 1, attrs)
	r.turnDuration.Record(ctx, ev.Latency.Seconds(), attrs)
	r.logger.Debug("turn handled",
		zap.String("module", string(ev.Module)),
		zap.String("mode", string(ev.Mode)),
		zap.String("provider", ev.Provider),
		zap.String("outcome", ev.Outcome),
		zap.Duration("latency", ev.Latency))
}

func (r *OTelReporter) Retrieval(ctx context.Context, ev RetrievalEvent) {
	attrs := metric.WithAttributes(
		attribute.String("collection", ev.Collection),
		attribute.Bool("degraded", ev.Degraded),
	)
	r.retrievals.Add(ctx, 1, attrs)
	r.retrievalQuality.Record(ctx, ev.Relevance, attrs)
	r.logger.Debug("retrieval",
		zap.String("collection", ev.Collection),
		zap.Int("hits", ev.Hits),
		zap.Bool("degraded", ev.Degraded),
		zap.Float64("relevance", ev.Relevance),
		zap.Float64("coverage", ev.Coverage),
		zap.Float64("diversity", ev.Diversity),
		zap.Duration("latency", ev.Latency))
}

// InitTracer installs an OTLP gRPC trace exporter when cfg.OTLPEndpoint is set. The returned
// function flushes and shuts the provider down; it is a no-op when tracing is off.
func InitTracer(ctx context.Context, cfg config.TelemetryConfig, version string) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
