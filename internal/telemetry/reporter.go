// Package telemetry reports escalations, capability degradation, turn latency and retrieval
// quality. Events never carry user text.
package telemetry

import (
	"context"
	"time"

	"github.com/hyperjump/lumimind/internal/models"
)

// EscalationEvent describes one ESCALATED transition.
type EscalationEvent struct {
	Module       models.Domain
	Score        float64
	Decisive     []models.SignalKind
	SignalScores map[models.SignalKind]float64
	// Keywords are the matched lexicon terms, never the utterance.
	Keywords []string
	Degraded []models.SignalKind
	// Analytics is the session's consent to aggregated statistics.
	Analytics bool
	At        time.Time
}

// DegradationEvent records a capability that failed and was worked around.
type DegradationEvent struct {
	Capability string
	Signal     models.SignalKind
	Reason     string
}

// Turn outcomes.
const (
	OutcomeNormal    = "normal"
	OutcomeEscalated = "escalated"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TurnEvent records one handled turn.
type TurnEvent struct {
	Module   models.Domain
	Mode     models.Mode
	Provider string
	Outcome  string
	Latency  time.Duration
}

// RetrievalEvent records one retrieval with its quality scores.
type RetrievalEvent struct {
	Collection string
	Hits       int
	Degraded   bool
	Latency    time.Duration
	Relevance  float64
	Coverage   float64
	Diversity  float64
}

// Reporter receives telemetry events. Implementations must be safe for concurrent use and must
// not block the caller on slow sinks.
type Reporter interface {
	Escalation(ctx context.Context, ev EscalationEvent)
	Degradation(ctx context.Context, ev DegradationEvent)
	Turn(ctx context.Context, ev TurnEvent)
	Retrieval(ctx context.Context, ev RetrievalEvent)
}

// NopReporter drops every event.
type NopReporter struct{}

func (NopReporter) Escalation(context.Context, EscalationEvent)   {}
func (NopReporter) Degradation(context.Context, DegradationEvent) {}
func (NopReporter) Turn(context.Context, TurnEvent)               {}
func (NopReporter) Retrieval(context.Context, RetrievalEvent)     {}
