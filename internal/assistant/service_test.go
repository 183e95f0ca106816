package assistant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hyperjump/lumimind/internal/chains"
	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/escalation"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/session"
	"github.com/hyperjump/lumimind/internal/telemetry"
)

func TestMain(m *testing.M) {
	// The genai client's dependencies start an opencensus worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type gateFunc func(module models.Domain, utterance string, consent models.Consent) escalation.Outcome

func (f gateFunc) Evaluate(_ context.Context, module models.Domain, utterance string, consent models.Consent) escalation.Outcome {
	return f(module, utterance, consent)
}

func calmGate() gateFunc {
	return func(models.Domain, string, models.Consent) escalation.Outcome {
		return escalation.Outcome{State: escalation.StateNormal}
	}
}

type orchFunc func(ctx context.Context, sc models.SessionContext, w models.ConversationWindow, u string) (chains.TurnResult, error)

func (f orchFunc) RunTurn(ctx context.Context, sc models.SessionContext, w models.ConversationWindow, u string) (chains.TurnResult, error) {
	return f(ctx, sc, w, u)
}

// advancing moves the CBT step forward and echoes the utterance.
func advancing(calls *atomic.Int32) orchFunc {
	return func(_ context.Context, sc models.SessionContext, _ models.ConversationWindow, u string) (chains.TurnResult, error) {
		calls.Add(1)
		next := sc.Clone()
		next.CBT.Step++
		return chains.TurnResult{Response: models.Response{Kind: models.ResponseNormal, Text: "echo: " + u}, Next: next}, nil
	}
}

func newRegistry(o chains.Orchestrator) *chains.Registry {
	r := chains.NewRegistry()
	for _, m := range []models.Mode{models.ModeEmpathetic, models.ModeCBT} {
		r.Register(models.DomainMentalHealth, m, o)
	}
	for _, m := range []models.Mode{models.ModeCoaching, models.ModeRolePlay} {
		r.Register(models.DomainCommunication, m, o)
	}
	return r
}

func TestHandleTurn_emptyUtterance(t *testing.T) {
	svc := New(session.NewMemoryStore(0), calmGate(), newRegistry(advancing(new(atomic.Int32))))
	_, err := svc.HandleTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "   "})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHandleTurn_commitsStateAndHistory(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	rec := &telemetry.Recorder{}
	svc := New(store, calmGate(), newRegistry(advancing(new(atomic.Int32))), WithReporter(rec))

	resp, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "I failed my exam", Mode: models.ModeCBT})
	require.NoError(t, err)
	assert.Equal(t, "s", resp.SessionID)
	assert.Equal(t, "echo: I failed my exam", resp.Text)

	sess, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, models.ModeCBT, sess.Context.Mode)
	assert.Equal(t, 1, sess.Context.CBT.Step)
	require.Len(t, sess.History, 2)
	assert.Equal(t, models.RoleUser, sess.History[0].Role)

	turns := rec.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, telemetry.OutcomeNormal, turns[0].Outcome)
}

func TestHandleTurn_newSessionGetsID(t *testing.T) {
	svc := New(session.NewMemoryStore(0), calmGate(), newRegistry(advancing(new(atomic.Int32))))
	resp, err := svc.HandleTurn(context.Background(), TurnRequest{Utterance: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
}

func TestHandleTurn_escalationSkipsOrchestrator(t *testing.T) {
	ctx := context.Background()
	calls := new(atomic.Int32)
	iv := config.DefaultIntervention()
	var gotConsent models.Consent
	gate := gateFunc(func(_ models.Domain, _ string, c models.Consent) escalation.Outcome {
		gotConsent = c
		return escalation.Outcome{State: escalation.StateEscalated, Intervention: &iv}
	})
	store := session.NewMemoryStore(0)
	rec := &telemetry.Recorder{}
	svc := New(store, gate, newRegistry(advancing(calls)), WithReporter(rec))

	_, err := svc.SetConsent(ctx, "s", models.Consent{AcknowledgedDisclaimer: true, AllowAnalytics: true})
	require.NoError(t, err)

	resp, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "I want to end my life"})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseEscalation, resp.Kind)
	require.NotNil(t, resp.Intervention)
	assert.NotEmpty(t, resp.Intervention.Resources)
	assert.Zero(t, calls.Load())
	assert.True(t, gotConsent.AllowAnalytics)

	sess, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, sess.Context.CBT.Step)
	assert.Equal(t, telemetry.OutcomeEscalated, rec.Turns()[0].Outcome)
}

func TestHandleTurn_failureReturnsApologyAndKeepsState(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	ok := new(atomic.Int32)
	fail := false
	var mu sync.Mutex
	orch := orchFunc(func(c context.Context, sc models.SessionContext, w models.ConversationWindow, u string) (chains.TurnResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return chains.TurnResult{}, &models.CapabilityUnavailableError{Capability: "generation", Err: errors.New("down")}
		}
		return advancing(ok)(c, sc, w, u)
	})
	svc := New(store, calmGate(), newRegistry(orch), WithApology("sorry"))

	_, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "one", Mode: models.ModeCBT})
	require.NoError(t, err)

	mu.Lock()
	fail = true
	mu.Unlock()
	resp, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "two"})
	require.NoError(t, err)
	assert.True(t, resp.Failed)
	assert.Equal(t, "sorry", resp.Text)

	sess, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Context.CBT.Step)
	assert.Len(t, sess.History, 2)
}

func TestHandleTurn_cancelledLeavesStateUntouched(t *testing.T) {
	store := session.NewMemoryStore(0)
	orch := orchFunc(func(ctx context.Context, _ models.SessionContext, _ models.ConversationWindow, _ string) (chains.TurnResult, error) {
		<-ctx.Done()
		return chains.TurnResult{}, ctx.Err()
	})
	rec := &telemetry.Recorder{}
	svc := New(store, calmGate(), newRegistry(orch), WithReporter(rec))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.Get(context.Background(), "s")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, telemetry.OutcomeCancelled, rec.Turns()[0].Outcome)
}

func TestHandleTurn_validationFromOrchestratorIsReturned(t *testing.T) {
	orch := orchFunc(func(context.Context, models.SessionContext, models.ConversationWindow, string) (chains.TurnResult, error) {
		return chains.TurnResult{}, &models.ValidationError{Field: "scenario_id", Reason: "role play has ended"}
	})
	svc := New(session.NewMemoryStore(0), calmGate(), newRegistry(orch))
	_, err := svc.HandleTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "hi", Module: models.DomainCommunication, Mode: models.ModeRolePlay})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHandleTurn_switches(t *testing.T) {
	ctx := context.Background()
	var seen []models.SessionContext
	orch := orchFunc(func(_ context.Context, sc models.SessionContext, _ models.ConversationWindow, _ string) (chains.TurnResult, error) {
		seen = append(seen, sc)
		return chains.TurnResult{Response: models.Response{Text: "ok"}, Next: sc}, nil
	})
	svc := New(session.NewMemoryStore(0), calmGate(), newRegistry(orch))

	_, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "a"})
	require.NoError(t, err)
	_, err = svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "b", Module: models.DomainCommunication, Provider: "deepseek", Model: "deepseek-chat"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, models.ModeEmpathetic, seen[0].Mode)
	assert.Equal(t, models.DomainCommunication, seen[1].Module)
	assert.Equal(t, models.ModeCoaching, seen[1].Mode)
	assert.Equal(t, "deepseek", seen[1].Provider)

	_, err = svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "c", Provider: "spark"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "c", Module: "finance"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "c", Mode: models.ModeCBT})
	assert.ErrorIs(t, err, models.ErrValidation, "cbt is not a communication mode")
}

func TestHandleTurn_serializesPerSession(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
	)
	orch := orchFunc(func(_ context.Context, sc models.SessionContext, _ models.ConversationWindow, _ string) (chains.TurnResult, error) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		next := sc.Clone()
		next.CBT.Step++
		return chains.TurnResult{Response: models.Response{Text: "ok"}, Next: next}, nil
	})
	store := session.NewMemoryStore(0)
	svc := New(store, calmGate(), newRegistry(orch))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.HandleTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "x"})
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
	sess, err := store.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, 8, sess.Context.CBT.Step)
}

func TestStartRolePlayAndReset(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	svc := New(store, calmGate(), newRegistry(advancing(new(atomic.Int32))))

	_, err := svc.StartRolePlay(ctx, "s", "no-such-scenario")
	assert.ErrorIs(t, err, models.ErrValidation)

	scenario := chains.Scenarios()[0]
	sc, err := svc.StartRolePlay(ctx, "s", scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DomainCommunication, sc.Module)
	assert.Equal(t, models.ModeRolePlay, sc.Mode)
	assert.Equal(t, scenario.ID, sc.RolePlay.ScenarioID)

	require.NoError(t, svc.ResetSession(ctx, "s"))
	_, err = svc.Session(ctx, "s")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

// downStore fails every read, like a session store that lost its connection.
type downStore struct {
	puts atomic.Int32
}

func (d *downStore) Get(context.Context, string) (*models.Session, error) {
	return nil, errors.New("redis: connection refused")
}

func (d *downStore) Put(context.Context, *models.Session) error {
	d.puts.Add(1)
	return nil
}

func (d *downStore) Delete(context.Context, string) error { return nil }

func (d *downStore) Close() error { return nil }

func TestHandleTurn_storeFailureStillRunsCrisisGate(t *testing.T) {
	ctx := context.Background()
	iv := config.DefaultIntervention()
	var gateRan atomic.Int32
	gate := gateFunc(func(module models.Domain, u string, _ models.Consent) escalation.Outcome {
		gateRan.Add(1)
		if u == "I want to end my life" {
			return escalation.Outcome{State: escalation.StateEscalated, Intervention: &iv}
		}
		return escalation.Outcome{State: escalation.StateNormal}
	})
	calls := new(atomic.Int32)
	store := &downStore{}
	rec := &telemetry.Recorder{}
	svc := New(store, gate, newRegistry(advancing(calls)), WithReporter(rec))

	resp, err := svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "I want to end my life"})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseEscalation, resp.Kind)
	require.NotNil(t, resp.Intervention)
	assert.Equal(t, int32(1), gateRan.Load())
	assert.Zero(t, store.puts.Load(), "a fresh session must not overwrite the stored one")

	_, err = svc.HandleTurn(ctx, TurnRequest{SessionID: "s", Utterance: "just a normal day"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(2), gateRan.Load())
	assert.Zero(t, calls.Load())

	turns := rec.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, telemetry.OutcomeEscalated, turns[0].Outcome)
	assert.Equal(t, telemetry.OutcomeFailed, turns[1].Outcome)
	assert.Equal(t, models.DomainMentalHealth, turns[0].Module)
}

func TestHandleTurn_gateRunsBeforeModeLookup(t *testing.T) {
	iv := config.DefaultIntervention()
	gate := gateFunc(func(models.Domain, string, models.Consent) escalation.Outcome {
		return escalation.Outcome{State: escalation.StateEscalated, Intervention: &iv}
	})
	svc := New(session.NewMemoryStore(0), gate, chains.NewRegistry())
	resp, err := svc.HandleTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "I want to end my life"})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseEscalation, resp.Kind)
}
