package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		{"fenced", "```json\n{\"a\":\"}\"}\n```", `{"a":"}"}`, true},
		{"escaped quote", `{"a":"say \"hi\" {"}`, `{"a":"say \"hi\" {"}`, true},
		{"none", "no object here", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateJSON(t *testing.T) {
	var sawJSON bool
	g := GeneratorFunc(func(_ context.Context, _ []Message, opts Options) (string, error) {
		sawJSON = opts.JSON
		return "Here you go:\n```json\n{\"emotion\":\"sad\",\"intensity\":0.8}\n```", nil
	})
	var out struct {
		Emotion   string  `json:"emotion"`
		Intensity float64 `json:"intensity"`
	}
	raw, err := GenerateJSON(context.Background(), g, []Message{{Role: RoleUser, Content: "x"}}, Options{}, &out)
	require.NoError(t, err)
	assert.True(t, sawJSON)
	assert.Contains(t, raw, "Here you go")
	assert.Equal(t, "sad", out.Emotion)
	assert.InDelta(t, 0.8, out.Intensity, 1e-9)

	bad := GeneratorFunc(func(context.Context, []Message, Options) (string, error) { return "plain prose", nil })
	raw, err = GenerateJSON(context.Background(), bad, nil, Options{}, &out)
	assert.Error(t, err)
	assert.Equal(t, "plain prose", raw)
}

func TestSplitSystem(t *testing.T) {
	sys, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", sys)
	require.Len(t, rest, 1)
	assert.Equal(t, "hi", rest[0].Content)
}

func TestOllamaGenerator_Generate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: RoleAssistant, Content: "hello there"}, Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "llama3", time.Second)
	text, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{JSON: true, MaxTokens: 32})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 32, got.Options["num_predict"])
}

func TestOllamaGenerator_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, part := range []string{"I ", "hear ", "you."} {
			_ = enc.Encode(ollamaChatResponse{Message: Message{Content: part}})
		}
		_ = enc.Encode(ollamaChatResponse{Done: true})
	}))
	defer srv.Close()

	var sb strings.Builder
	err := NewOllamaGenerator(srv.URL, "llama3", time.Second).Stream(context.Background(), nil, Options{}, func(s string) error {
		sb.WriteString(s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", sb.String())
}

func TestOllamaGenerator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "missing", time.Second).Generate(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req["model"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "deepseek-chat")
	require.NoError(t, err)
	text, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "deepseek-chat", g.Model())

	_, err = NewOpenAIGenerator("", "", "gpt-4")
	assert.Error(t, err)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Resilience.MaxRetries = 1
	cfg.Resilience.InitialBackoff = time.Millisecond
	cfg.Resilience.MaxBackoff = time.Millisecond
	cfg.Resilience.RequestsPerSecond = 1000
	return cfg
}

func TestRegistry_ResolveCachesAndDefaults(t *testing.T) {
	var built atomic.Int32
	factory := func(_ context.Context, provider, model string) (Generator, error) {
		built.Add(1)
		return GeneratorFunc(func(context.Context, []Message, Options) (string, error) {
			return provider + "/" + model, nil
		}), nil
	}
	r := NewRegistry(testConfig(), WithFactory(factory))

	g1, err := r.Default(context.Background())
	require.NoError(t, err)
	g2, err := r.Resolve(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.EqualValues(t, 1, built.Load())

	text, err := g1.Generate(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4-turbo", text)

	g3, err := r.Resolve(context.Background(), "deepseek", "")
	require.NoError(t, err)
	text, err = g3.Generate(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat", text)

	assert.Equal(t, map[string]string{"openai": "closed", "deepseek": "closed"}, r.Guards())
}

func TestRegistry_RejectsUnimplementedProviders(t *testing.T) {
	r := NewRegistry(testConfig(), WithFactory(func(context.Context, string, string) (Generator, error) {
		t.Fatal("factory must not be called")
		return nil, nil
	}))
	for _, p := range []string{"spark", "internlm", "bogus"} {
		_, err := r.Resolve(context.Background(), p, "m")
		var cerr *models.ConfigurationError
		assert.ErrorAs(t, err, &cerr, p)
	}
}

func TestRegistry_MissingKeyIsConfigurationError(t *testing.T) {
	r := NewRegistry(testConfig())
	_, err := r.Resolve(context.Background(), "openai", "")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestGuarded_FailureBecomesCapabilityUnavailable(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(testConfig(), WithFactory(func(context.Context, string, string) (Generator, error) {
		return GeneratorFunc(func(context.Context, []Message, Options) (string, error) {
			calls.Add(1)
			return "", errors.New("503 upstream")
		}), nil
	}))
	g, err := r.Default(context.Background())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, models.ErrCapabilityUnavailable)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGuarded_StreamWithoutStreamer(t *testing.T) {
	r := NewRegistry(testConfig(), WithFactory(func(context.Context, string, string) (Generator, error) {
		return GeneratorFunc(func(context.Context, []Message, Options) (string, error) { return "whole", nil }), nil
	}))
	g, err := r.Default(context.Background())
	require.NoError(t, err)
	s, ok := g.(Streamer)
	require.True(t, ok)

	var chunks []string
	require.NoError(t, s.Stream(context.Background(), nil, Options{}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	}))
	assert.Equal(t, []string{"whole"}, chunks)
}

func TestGeminiRequest_mapsRoles(t *testing.T) {
	g := &GeminiGenerator{model: "gemini-test"}
	contents, cfg := g.request([]Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, Options{Temperature: 0.5, MaxTokens: 64, JSON: true})

	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be kind", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
}
