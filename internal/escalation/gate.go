// Package escalation decides per turn whether the conversation leaves the normal path and
// returns the fixed crisis intervention instead of a generated reply.
package escalation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/telemetry"
)

// State is a gate state within one turn.
type State string

const (
	StateNormal     State = "NORMAL"
	StateEvaluating State = "EVALUATING"
	StateEscalated  State = "ESCALATED"
)

// Detector is the crisis scoring the gate depends on.
type Detector interface {
	KeywordSignal(utterance string) models.CrisisSignal
	Detect(ctx context.Context, utterance string) models.CrisisDecision
}

// Outcome is the result of one evaluation. Intervention is set only when State is ESCALATED.
type Outcome struct {
	State        State                 `json:"state"`
	Trace        []State               `json:"trace"`
	Decision     models.CrisisDecision `json:"decision"`
	Intervention *models.Intervention  `json:"intervention,omitempty"`
	// Recovered is true when evaluation failed and the gate escalated without a decision.
	Recovered bool `json:"recovered,omitempty"`
}

// Escalated reports whether the turn must return the intervention.
func (o Outcome) Escalated() bool { return o.State == StateEscalated }

// Gate runs the per-turn state machine.
type Gate struct {
	detector     Detector
	intervention models.Intervention
	reporter     telemetry.Reporter
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithReporter sets the sink for escalation events.
func WithReporter(r telemetry.Reporter) Option {
	return func(g *Gate) { g.reporter = r }
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate that answers escalations with intervention.
func NewGate(d Detector, intervention models.Intervention, opts ...Option) *Gate {
	g := &Gate{
		detector:     d,
		intervention: intervention,
		reporter:     telemetry.NopReporter{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Intervention returns a copy of the static intervention payload.
func (g *Gate) Intervention() models.Intervention {
	iv := g.intervention
	iv.Resources = append([]models.Resource(nil), g.intervention.Resources...)
	return iv
}

// Evaluate runs the gate for one utterance. The mental-health module always evaluates fully;
// other modules evaluate only when the keyword pre-check matches. A failure during evaluation
// escalates.
func (g *Gate) Evaluate(ctx context.Context, module models.Domain, utterance string, consent models.Consent) (out Outcome) {
	out.Trace = []State{StateNormal}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if g.logger != nil {
			g.logger.Error("crisis evaluation failed, escalating", zap.String("module", string(module)), zap.String("panic", fmt.Sprint(r)))
		}
		out.Recovered = true
		if out.State != StateEscalated {
			g.escalate(ctx, &out, module, consent)
		}
	}()

	if module == models.DomainCommunication {
		pre := g.detector.KeywordSignal(utterance)
		if pre.Score == 0 {
			out.State = StateNormal
			out.Decision = models.CrisisDecision{Signals: []models.CrisisSignal{pre}}
			return out
		}
	}

	out.State = StateEvaluating
	out.Trace = append(out.Trace, StateEvaluating)
	out.Decision = g.detector.Detect(ctx, utterance)
	if out.Decision.Escalate {
		g.escalate(ctx, &out, module, consent)
		return out
	}
	out.State = StateNormal
	out.Trace = append(out.Trace, StateNormal)
	return out
}

func (g *Gate) escalate(ctx context.Context, out *Outcome, module models.Domain, consent models.Consent) {
	if out.State != StateEvaluating {
		out.Trace = append(out.Trace, StateEvaluating)
	}
	out.State = StateEscalated
	out.Trace = append(out.Trace, StateEscalated)
	iv := g.Intervention()
	out.Intervention = &iv

	ev := telemetry.EscalationEvent{
		Module:       module,
		Score:        out.Decision.Score,
		Decisive:     out.Decision.Decisive,
		SignalScores: make(map[models.SignalKind]float64, len(out.Decision.Signals)),
		Degraded:     out.Decision.Degraded,
		Analytics:    consent.AllowAnalytics,
		At:           g.now(),
	}
	for _, s := range out.Decision.Signals {
		ev.SignalScores[s.Kind] = s.Score
		if s.Kind == models.SignalKeyword {
			ev.Keywords = append(ev.Keywords, s.Evidence...)
		}
	}
	g.report(ctx, ev)
}

func (g *Gate) report(ctx context.Context, ev telemetry.EscalationEvent) {
	defer func() {
		if r := recover(); r != nil && g.logger != nil {
			g.logger.Error("escalation report failed", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	g.reporter.Escalation(ctx, ev)
}
