// Package chains holds the per-mode conversation orchestrators.
package chains

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// TurnResult is an orchestrator's output. Next is committed by the caller only when the turn
// succeeds, so a failed or cancelled turn leaves step state untouched.
type TurnResult struct {
	Response models.Response
	Next     models.SessionContext
}

// Orchestrator runs one turn of a mode.
type Orchestrator interface {
	RunTurn(ctx context.Context, sc models.SessionContext, window models.ConversationWindow, utterance string) (TurnResult, error)
}

// Resolver returns the generator for a session's provider and model. Empty values select the
// configured defaults.
type Resolver interface {
	Resolve(ctx context.Context, provider, model string) (llm.Generator, error)
}

// Retriever returns grounding passages for a domain.
type Retriever interface {
	Retrieve(ctx context.Context, domain models.Domain, query string) (models.RetrievalResult, error)
}

// Option configures an orchestrator.
type Option func(*base)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithGeneration sets temperature and token limits for replies.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(b *base) {
		b.opts.Temperature = temperature
		b.opts.MaxTokens = maxTokens
	}
}

type base struct {
	resolver Resolver
	opts     llm.Options
	logger   *zap.Logger
}

func newBase(r Resolver, opts []Option) base {
	b := base{resolver: r, opts: llm.Options{Temperature: 0.7, MaxTokens: 1024}}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) generator(ctx context.Context, sc models.SessionContext) (llm.Generator, error) {
	return b.resolver.Resolve(ctx, sc.Provider, sc.ModelName)
}

// Registry maps module/mode to an orchestrator.
type Registry struct {
	m map[string]Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Orchestrator)}
}

func key(module models.Domain, mode models.Mode) string {
	return string(module) + "/" + string(mode)
}

// Register binds o to module/mode.
func (r *Registry) Register(module models.Domain, mode models.Mode, o Orchestrator) {
	r.m[key(module, mode)] = o
}

// Lookup returns the orchestrator for module/mode. An empty mode selects the module default.
func (r *Registry) Lookup(module models.Domain, mode models.Mode) (Orchestrator, error) {
	if mode == "" {
		mode = models.DefaultMode(module)
	}
	o, ok := r.m[key(module, mode)]
	if !ok {
		return nil, &models.ValidationError{Field: "mode", Reason: fmt.Sprintf("no %q mode in module %q", mode, module)}
	}
	return o, nil
}

// Modes lists the registered module/mode keys.
func (r *Registry) Modes() []string {
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	return out
}

// NewDefaultRegistry wires the four built-in orchestrators.
func NewDefaultRegistry(resolver Resolver, retriever Retriever, opts ...Option) *Registry {
	r := NewRegistry()
	r.Register(models.DomainMentalHealth, models.ModeEmpathetic, NewEmpathetic(resolver, retriever, opts...))
	r.Register(models.DomainMentalHealth, models.ModeCBT, NewCBT(resolver, opts...))
	r.Register(models.DomainCommunication, models.ModeCoaching, NewCoaching(resolver, retriever, opts...))
	r.Register(models.DomainCommunication, models.ModeRolePlay, NewRolePlay(resolver, opts...))
	return r
}

// conversation builds system + history + utterance messages.
func conversation(system string, window models.ConversationWindow, utterance string) []llm.Message {
	msgs := make([]llm.Message, 0, len(window)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range window {
		role := llm.RoleUser
		if t.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})
}

// groundingText renders retrieved passages for a prompt.
func groundingText(res models.RetrievalResult) string {
	if res.Empty() {
		return "No reference material was found for this message."
	}
	var sb strings.Builder
	for i, h := range res.Hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		title := h.Provenance.Title
		if title == "" {
			title = h.Provenance.SourcePath
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, title, h.Chunk.Content)
	}
	return sb.String()
}

func sourcesOf(res models.RetrievalResult) []models.Source {
	var out []models.Source
	for _, h := range res.Hits {
		out = append(out, models.Source{
			DocumentID: h.Provenance.DocumentID,
			Title:      h.Provenance.Title,
			SourcePath: h.Provenance.SourcePath,
			Score:      h.Score,
		})
	}
	return out
}

// retrieve grounds a turn; failures are logged and yield no grounding.
func (b *base) retrieve(ctx context.Context, r Retriever, domain models.Domain, sc models.SessionContext, query string) models.RetrievalResult {
	if r == nil {
		return models.RetrievalResult{}
	}
	res, err := r.Retrieve(ctx, domain, query)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("retrieval failed, answering without grounding",
				utils.SessionField(sc.ID), zap.String("domain", string(domain)), zap.Error(err))
		}
		return models.RetrievalResult{}
	}
	return res
}
