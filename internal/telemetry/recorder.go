package telemetry

import (
	"context"
	"sync"
)

// Recorder keeps every event in memory. Tests use it to assert on what was reported.
type Recorder struct {
	mu           sync.Mutex
	escalations  []EscalationEvent
	degradations []DegradationEvent
	turns        []TurnEvent
	retrievals   []RetrievalEvent
}

func (r *Recorder) Escalation(_ context.Context, ev EscalationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, ev)
}

func (r *Recorder) Degradation(_ context.Context, ev DegradationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degradations = append(r.degradations, ev)
}

func (r *Recorder) Turn(_ context.Context, ev TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, ev)
}

func (r *Recorder) Retrieval(_ context.Context, ev RetrievalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrievals = append(r.retrievals, ev)
}

// Escalations returns a copy of the recorded escalation events.
func (r *Recorder) Escalations() []EscalationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EscalationEvent(nil), r.escalations...)
}

// Degradations returns a copy of the recorded degradation events.
func (r *Recorder) Degradations() []DegradationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DegradationEvent(nil), r.degradations...)
}

// Turns returns a copy of the recorded turn events.
func (r *Recorder) Turns() []TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnEvent(nil), r.turns...)
}

// Retrievals returns a copy of the recorded retrieval events.
func (r *Recorder) Retrievals() []RetrievalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RetrievalEvent(nil), r.retrievals...)
}
