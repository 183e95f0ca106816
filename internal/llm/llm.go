// Package llm provides text generation over the supported model providers.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single generation call. Zero values use the provider's defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Generator produces a completion for a conversation.
type Generator interface {
	Generate(ctx context.Context, msgs []Message, opts Options) (string, error)
	Model() string
}

// Streamer is implemented by generators that can emit partial output.
type Streamer interface {
	Stream(ctx context.Context, msgs []Message, opts Options, fn func(chunk string) error) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, msgs []Message, opts Options) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, msgs []Message, opts Options) (string, error) {
	return f(ctx, msgs, opts)
}

// Model returns "func".
func (f GeneratorFunc) Model() string { return "func" }

// GenerateJSON asks g for a JSON object and decodes the first object found in the reply into out.
// The raw reply is returned so callers can fall back to heuristic parsing.
func GenerateJSON(ctx context.Context, g Generator, msgs []Message, opts Options, out any) (string, error) {
	opts.JSON = true
	raw, err := g.Generate(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	obj, ok := ExtractJSON(raw)
	if !ok {
		return raw, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return raw, fmt.Errorf("decode model JSON: %w", err)
	}
	return raw, nil
}

// ExtractJSON returns the first balanced {...} object in s, looking inside a ```json fence first.
func ExtractJSON(s string) (string, bool) {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			if obj, ok := firstObject(rest[:j]); ok {
				return obj, true
			}
		}
	}
	return firstObject(s)
}

func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// SplitSystem separates leading system messages from the conversation, for providers that take
// the system prompt out of band.
func SplitSystem(msgs []Message) (system string, rest []Message) {
	var parts []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
