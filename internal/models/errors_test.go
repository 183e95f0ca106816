package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", &ConfigurationError{Field: "knowledge.data_dir", Reason: "required"}, ErrConfiguration},
		{"capability", &CapabilityUnavailableError{Capability: "embedding", Err: errors.New("timeout")}, ErrCapabilityUnavailable},
		{"index corrupt", &IndexCorruptError{Collection: "mental_health_kb", Reason: "checksum"}, ErrIndexCorrupt},
		{"embedding mismatch", &EmbeddingMismatchError{Collection: "c", Want: EmbeddingConfig{Dimensions: 3}, Got: EmbeddingConfig{Dimensions: 4}}, ErrEmbeddingMismatch},
		{"validation", &ValidationError{Field: "utterance", Reason: "empty"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			if errors.Is(wrapped, ErrValidation) && tt.sentinel != ErrValidation {
				t.Errorf("%s should not match ErrValidation", tt.name)
			}
		})
	}
}

func TestCapabilityUnavailableError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &CapabilityUnavailableError{Capability: "generation", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected inner error to be reachable")
	}
	var target *CapabilityUnavailableError
	if !errors.As(fmt.Errorf("x: %w", err), &target) || target.Capability != "generation" {
		t.Errorf("errors.As failed: %+v", target)
	}
}

func TestSessionContext_CloneIsDeep(t *testing.T) {
	orig := SessionContext{ID: "s1", CBT: CBTState{Step: 1, Fields: map[string]string{"situation": "exam"}}}
	c := orig.Clone()
	c.CBT.Fields["situation"] = "changed"
	c.CBT.Step = 2
	if orig.CBT.Fields["situation"] != "exam" || orig.CBT.Step != 1 {
		t.Errorf("clone mutated original: %+v", orig.CBT)
	}
}

func TestDefaultMode(t *testing.T) {
	if DefaultMode(DomainMentalHealth) != ModeEmpathetic {
		t.Error("mental health defaults to empathetic")
	}
	if DefaultMode(DomainCommunication) != ModeCoaching {
		t.Error("communication defaults to coaching")
	}
}
