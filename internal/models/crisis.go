package models

// SignalKind names one crisis scoring dimension.
type SignalKind string

const (
	SignalKeyword       SignalKind = "keyword"
	SignalSentiment     SignalKind = "sentiment"
	SignalModelJudgment SignalKind = "model_judgment"
)

// CrisisSignal is one dimension's output for a single utterance. It is produced fresh per
// utterance and never persisted verbatim.
type CrisisSignal struct {
	Kind     SignalKind `json:"kind"`
	Score    float64    `json:"score"`
	Evidence []string   `json:"evidence,omitempty"`
	// Skipped is true when the signal was not consulted (e.g. judgment gating).
	Skipped bool  `json:"skipped,omitempty"`
	Err     error `json:"-"`
}

// CrisisDecision aggregates all signals for one utterance.
type CrisisDecision struct {
	Score    float64        `json:"score"`
	Escalate bool           `json:"escalate"`
	Decisive []SignalKind   `json:"decisive,omitempty"`
	Signals  []CrisisSignal `json:"signals"`
	Degraded []SignalKind   `json:"degraded,omitempty"`
}

// Signal returns the signal of the given kind, if present.
func (d CrisisDecision) Signal(kind SignalKind) (CrisisSignal, bool) {
	for _, s := range d.Signals {
		if s.Kind == kind {
			return s, true
		}
	}
	return CrisisSignal{}, false
}

// Resource is one emergency contact shown in an intervention.
type Resource struct {
	Name        string `json:"name" yaml:"name"`
	Contact     string `json:"contact" yaml:"contact"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Intervention is the fixed, non-generated crisis payload.
type Intervention struct {
	Locale     string     `json:"locale" yaml:"locale"`
	Title      string     `json:"title" yaml:"title"`
	Message    string     `json:"message" yaml:"message"`
	Disclaimer string     `json:"disclaimer" yaml:"disclaimer"`
	Resources  []Resource `json:"resources" yaml:"resources"`
	// Prominent asks the UI to display the payload above everything else.
	Prominent bool `json:"prominent" yaml:"prominent"`
}
