package models

import "time"

// Mode selects the orchestrator inside a module.
type Mode string

const (
	ModeEmpathetic Mode = "empathetic"
	ModeCBT        Mode = "cbt"
	ModeCoaching   Mode = "coaching"
	ModeRolePlay   Mode = "roleplay"
)

// DefaultMode returns the mode used when a session has not picked one for module.
func DefaultMode(module Domain) Mode {
	if module == DomainCommunication {
		return ModeCoaching
	}
	return ModeEmpathetic
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one (role, utterance) pair of a conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ConversationWindow is the bounded, read-only slice of history handed to orchestrators.
type ConversationWindow []Turn

// Consent holds the user's acknowledgements for the session.
type Consent struct {
	AcknowledgedDisclaimer bool `json:"acknowledged_disclaimer"`
	// AllowAnalytics permits aggregated, anonymized escalation statistics.
	AllowAnalytics bool `json:"allow_analytics"`
}

// CBTState tracks a thought-record exercise. Step is the index of the field awaited next.
type CBTState struct {
	Step      int               `json:"step"`
	Fields    map[string]string `json:"fields,omitempty"`
	Completed bool              `json:"completed"`
}

// RolePlayState tracks a practice conversation.
type RolePlayState struct {
	ScenarioID string `json:"scenario_id"`
	Turn       int    `json:"turn"`
	Ended      bool   `json:"ended"`
}

// SessionContext is the per-session routing and step state. Step state advances only by
// committing an orchestrator's returned context.
type SessionContext struct {
	ID        string        `json:"id"`
	Module    Domain        `json:"module"`
	Mode      Mode          `json:"mode"`
	Provider  string        `json:"provider,omitempty"`
	ModelName string        `json:"model_name,omitempty"`
	Consent   Consent       `json:"consent"`
	CBT       CBTState      `json:"cbt"`
	RolePlay  RolePlayState `json:"role_play"`
	CreatedAt time.Time     `json:"created_at"`
}

// Clone returns a deep copy so orchestrators can build the next state without touching the input.
func (c SessionContext) Clone() SessionContext {
	out := c
	if c.CBT.Fields != nil {
		out.CBT.Fields = make(map[string]string, len(c.CBT.Fields))
		for k, v := range c.CBT.Fields {
			out.CBT.Fields[k] = v
		}
	}
	return out
}

// Session is what the session store persists.
type Session struct {
	Context   SessionContext `json:"context"`
	History   []Turn         `json:"history"`
	UpdatedAt time.Time      `json:"updated_at"`
}
