package models

// ResponseKind tells the UI how to render a response body.
type ResponseKind string

const (
	ResponseNormal     ResponseKind = "normal"
	ResponseEscalation ResponseKind = "escalation"
	ResponseStructured ResponseKind = "structured"
)

// Source is a citation for a RAG-grounded response.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	SourcePath string  `json:"source_path"`
	Score      float64 `json:"score"`
}

// Response is returned for every turn.
type Response struct {
	SessionID    string        `json:"session_id"`
	Kind         ResponseKind  `json:"kind"`
	Text         string        `json:"text,omitempty"`
	Structured   any           `json:"structured,omitempty"`
	Intervention *Intervention `json:"intervention,omitempty"`
	Sources      []Source      `json:"sources,omitempty"`
	// Failed marks the generic apology turn returned when generation fails.
	Failed bool `json:"failed,omitempty"`
}

// CBTRecord is the structured output of one CBT exercise call.
type CBTRecord struct {
	Step            int               `json:"step"`
	StepName        string            `json:"step_name"`
	PromptToUser    string            `json:"prompt_to_user"`
	CollectedFields map[string]string `json:"collected_fields"`
	Completed       bool              `json:"completed"`
	Summary         string            `json:"summary,omitempty"`
}

// ResponseOption is one suggested reply with its rationale.
type ResponseOption struct {
	Text        string `json:"text"`
	Explanation string `json:"explanation"`
}

// CoachingResult is the structured output of response coaching.
type CoachingResult struct {
	SituationAnalysis   string           `json:"situation_analysis"`
	Options             []ResponseOption `json:"response_options"`
	ClarifyingQuestions []string         `json:"clarifying_questions,omitempty"`
}

// RolePlayReply is an in-character counterpart reply.
type RolePlayReply struct {
	ScenarioID string `json:"scenario_id"`
	Character  string `json:"character"`
	Turn       int    `json:"turn"`
	Reply      string `json:"reply"`
}

// RolePlaySummary is returned when the user ends a role-play.
type RolePlaySummary struct {
	ScenarioID          string   `json:"scenario_id"`
	Turns               int      `json:"turns"`
	Strengths           []string `json:"strengths"`
	ImprovementAreas    []string `json:"improvement_areas"`
	SuggestedStrategies []string `json:"suggested_strategies"`
}
