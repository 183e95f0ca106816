// Package assistant runs conversation turns: crisis gating first, then the session's mode.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/chains"
	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/escalation"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/privacy"
	"github.com/hyperjump/lumimind/internal/session"
	"github.com/hyperjump/lumimind/internal/telemetry"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// DefaultApology is returned when a reply cannot be generated.
const DefaultApology = "I'm sorry, something went wrong while preparing a reply. Please try again in a moment."

// Gate decides whether a turn escalates.
type Gate interface {
	Evaluate(ctx context.Context, module models.Domain, utterance string, consent models.Consent) escalation.Outcome
}

// Dispatcher finds the orchestrator for a module and mode.
type Dispatcher interface {
	Lookup(module models.Domain, mode models.Mode) (chains.Orchestrator, error)
}

// TurnRequest is one user message. Empty switch fields keep the session's current values.
type TurnRequest struct {
	SessionID string        `json:"session_id"`
	Utterance string        `json:"utterance"`
	Module    models.Domain `json:"module,omitempty"`
	Mode      models.Mode   `json:"mode,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
}

// Service handles turns for all sessions.
type Service struct {
	store    session.Store
	seq      *session.Sequencer
	gate     Gate
	modes    Dispatcher
	reporter telemetry.Reporter
	logger   *zap.Logger
	window   int
	apology  string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithReporter sets the telemetry sink.
func WithReporter(r telemetry.Reporter) Option {
	return func(s *Service) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithWindowSize sets how many history turns orchestrators see.
func WithWindowSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithApology overrides the text returned when generation fails.
func WithApology(text string) Option {
	return func(s *Service) {
		if text != "" {
			s.apology = text
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(store session.Store, gate Gate, modes Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		seq:      session.NewSequencer(),
		gate:     gate,
		modes:    modes,
		reporter: telemetry.NopReporter{},
		window:   10,
		apology:  DefaultApology,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleTurn runs one turn. Turns of the same session are processed in submission order.
// Validation problems are returned as errors; generation failures produce an apology response
// and leave the session unchanged.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*models.Response, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, &models.ValidationError{Field: "utterance", Reason: "must not be empty"}
	}
	if req.Module != "" && !req.Module.Valid() {
		return nil, &models.ValidationError{Field: "module", Reason: fmt.Sprintf("unknown module %q", req.Module)}
	}
	if req.Provider != "" {
		if err := config.ValidateProvider(req.Provider); err != nil {
			return nil, err
		}
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	start := s.now()
	release, err := s.seq.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	ev := telemetry.TurnEvent{}
	defer func() {
		ev.Latency = s.now().Sub(start)
		s.reporter.Turn(ctx, ev)
	}()

	// A store failure must not keep the crisis check from running: evaluate against a fresh
	// session and only then report the error.
	sess, loadErr := s.load(ctx, id, req.Module)
	if loadErr != nil {
		if ctx.Err() != nil {
			ev.Outcome = telemetry.OutcomeCancelled
			return nil, ctx.Err()
		}
		sess = s.newSession(id, req.Module)
	}
	sc := applySwitches(sess.Context, req)
	ev.Module, ev.Mode, ev.Provider = sc.Module, sc.Mode, sc.Provider

	outcome := s.gate.Evaluate(ctx, sc.Module, utterance, sc.Consent)
	if outcome.Escalated() {
		ev.Outcome = telemetry.OutcomeEscalated
		resp := &models.Response{SessionID: id, Kind: models.ResponseEscalation, Intervention: outcome.Intervention}
		if outcome.Intervention != nil {
			resp.Text = outcome.Intervention.Message
		}
		if loadErr != nil {
			// Writing the fresh session would overwrite the stored history once the store recovers.
			if s.logger != nil {
				s.logger.Error("session store unavailable, escalated turn not saved", utils.SessionField(id), zap.Error(loadErr))
			}
			return resp, nil
		}
		sess.Context = sc
		s.appendTurns(sess, utterance, resp.Text)
		if err := s.store.Put(ctx, sess); err != nil && s.logger != nil {
			s.logger.Error("failed to save escalated session", utils.SessionField(id), zap.Error(err))
		}
		return resp, nil
	}
	if loadErr != nil {
		ev.Outcome = telemetry.OutcomeFailed
		return nil, loadErr
	}

	orch, err := s.modes.Lookup(sc.Module, sc.Mode)
	if err != nil {
		ev.Outcome = telemetry.OutcomeFailed
		return nil, err
	}

	res, err := orch.RunTurn(ctx, sc, session.Window(sess.History, s.window), utterance)
	if err != nil {
		return s.failed(ctx, id, &ev, err)
	}

	sess.Context = res.Next
	s.appendTurns(sess, utterance, res.Response.Text)
	if err := s.store.Put(ctx, sess); err != nil {
		return s.failed(ctx, id, &ev, fmt.Errorf("save session: %w", err))
	}
	ev.Outcome = telemetry.OutcomeNormal
	resp := res.Response
	resp.SessionID = id
	return &resp, nil
}

func (s *Service) failed(ctx context.Context, id string, ev *telemetry.TurnEvent, err error) (*models.Response, error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		ev.Outcome = telemetry.OutcomeFailed
		return nil, err
	case ctx.Err() != nil:
		ev.Outcome = telemetry.OutcomeCancelled
		return nil, ctx.Err()
	}
	ev.Outcome = telemetry.OutcomeFailed
	if s.logger != nil {
		s.logger.Warn("turn failed, returning apology",
			utils.SessionField(id), zap.String("mode", string(ev.Mode)), privacy.String("error", err.Error()))
	}
	return &models.Response{SessionID: id, Kind: models.ResponseNormal, Text: s.apology, Failed: true}, nil
}

func (s *Service) appendTurns(sess *models.Session, utterance, reply string) {
	at := s.now()
	sess.History = append(sess.History, models.Turn{Role: models.RoleUser, Content: utterance, At: at})
	if reply != "" {
		sess.History = append(sess.History, models.Turn{Role: models.RoleAssistant, Content: reply, At: at})
	}
	// Keep a bounded tail; orchestrators only ever see the window.
	if limit := 4 * s.window; len(sess.History) > limit {
		sess.History = append([]models.Turn(nil), sess.History[len(sess.History)-limit:]...)
	}
	sess.UpdatedAt = at
}

// load returns the stored session or a fresh one.
func (s *Service) load(ctx context.Context, id string, module models.Domain) (*models.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s.newSession(id, module), nil
}

func (s *Service) newSession(id string, module models.Domain) *models.Session {
	if module == "" {
		module = models.DomainMentalHealth
	}
	now := s.now()
	return &models.Session{
		Context: models.SessionContext{
			ID:        id,
			Module:    module,
			Mode:      models.DefaultMode(module),
			CreatedAt: now,
		},
		UpdatedAt: now,
	}
}

// applySwitches returns sc with the request's module, mode and provider applied. Entering CBT
// starts a fresh exercise; changing module without a mode selects the module default.
func applySwitches(sc models.SessionContext, req TurnRequest) models.SessionContext {
	out := sc.Clone()
	if req.Module != "" && req.Module != out.Module {
		out.Module = req.Module
		out.Mode = models.DefaultMode(req.Module)
	}
	if req.Mode != "" && req.Mode != out.Mode {
		out.Mode = req.Mode
		if req.Mode == models.ModeCBT {
			out.CBT = models.CBTState{}
		}
	}
	if out.Mode == "" {
		out.Mode = models.DefaultMode(out.Module)
	}
	if req.Provider != "" {
		out.Provider = req.Provider
		out.ModelName = ""
	}
	if req.Model != "" {
		out.ModelName = req.Model
	}
	return out
}

// Session returns a stored session.
func (s *Service) Session(ctx context.Context, id string) (*models.Session, error) {
	return s.store.Get(ctx, id)
}

// StartRolePlay switches a session (created if needed) into a practice scenario.
func (s *Service) StartRolePlay(ctx context.Context, id, scenarioID string) (models.SessionContext, error) {
	if _, err := chains.LookupScenario(scenarioID); err != nil {
		return models.SessionContext{}, err
	}
	return s.update(ctx, id, func(sc *models.SessionContext) {
		sc.Module = models.DomainCommunication
		sc.Mode = models.ModeRolePlay
		sc.RolePlay = models.RolePlayState{ScenarioID: scenarioID}
	})
}

// SetConsent records the user's acknowledgements.
func (s *Service) SetConsent(ctx context.Context, id string, consent models.Consent) (models.SessionContext, error) {
	return s.update(ctx, id, func(sc *models.SessionContext) { sc.Consent = consent })
}

// ResetSession discards a session's state and history.
func (s *Service) ResetSession(ctx context.Context, id string) error {
	if id == "" {
		return &models.ValidationError{Field: "session_id", Reason: "required"}
	}
	release, err := s.seq.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("session reset", utils.SessionField(id))
	}
	return nil
}

func (s *Service) update(ctx context.Context, id string, mutate func(*models.SessionContext)) (models.SessionContext, error) {
	if id == "" {
		id = uuid.NewString()
	}
	release, err := s.seq.Acquire(ctx, id)
	if err != nil {
		return models.SessionContext{}, err
	}
	defer release()

	sess, err := s.load(ctx, id, "")
	if err != nil {
		return models.SessionContext{}, err
	}
	mutate(&sess.Context)
	sess.UpdatedAt = s.now()
	if err := s.store.Put(ctx, sess); err != nil {
		return models.SessionContext{}, fmt.Errorf("save session: %w", err)
	}
	return sess.Context, nil
}
