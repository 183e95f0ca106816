package models

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrIndexCorrupt          = errors.New("index corrupt")
	ErrEmbeddingMismatch     = errors.New("embedding mismatch")
	ErrValidation            = errors.New("validation error")
)

// ConfigurationError is a missing or invalid required setting. Fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CapabilityUnavailableError means an embedding or generation capability could not be reached
// after bounded retries.
type CapabilityUnavailableError struct {
	Capability string
	Err        error
}

func (e *CapabilityUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capability %s unavailable", e.Capability)
	}
	return fmt.Sprintf("capability %s unavailable: %v", e.Capability, e.Err)
}

func (e *CapabilityUnavailableError) Unwrap() error { return e.Err }

func (e *CapabilityUnavailableError) Is(target error) bool { return target == ErrCapabilityUnavailable }

// IndexCorruptError means a persisted collection failed its integrity check.
type IndexCorruptError struct {
	Collection string
	Reason     string
	Err        error
}

func (e *IndexCorruptError) Error() string {
	msg := fmt.Sprintf("collection %q index corrupt: %s", e.Collection, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexCorruptError) Unwrap() error { return e.Err }

func (e *IndexCorruptError) Is(target error) bool { return target == ErrIndexCorrupt }

// EmbeddingMismatchError means the query embedding disagrees with the collection's configuration.
type EmbeddingMismatchError struct {
	Collection string
	Want       EmbeddingConfig
	Got        EmbeddingConfig
}

func (e *EmbeddingMismatchError) Error() string {
	return fmt.Sprintf("collection %q expects %s/%d, embedder is %s/%d",
		e.Collection, e.Want.Model, e.Want.Dimensions, e.Got.Model, e.Got.Dimensions)
}

func (e *EmbeddingMismatchError) Is(target error) bool { return target == ErrEmbeddingMismatch }

// ValidationError is malformed input, rejected before any model call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
