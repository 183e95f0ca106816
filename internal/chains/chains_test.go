package chains

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
)

// scripted replies in order; the last reply repeats.
type scripted struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (s *scripted) Generate(_ context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msgs)
	if s.err != nil {
		return "", s.err
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r, nil
}

func (s *scripted) Model() string { return "scripted" }

type resolverFunc func(ctx context.Context, provider, model string) (llm.Generator, error)

func (f resolverFunc) Resolve(ctx context.Context, provider, model string) (llm.Generator, error) {
	return f(ctx, provider, model)
}

func fixed(g llm.Generator) Resolver {
	return resolverFunc(func(context.Context, string, string) (llm.Generator, error) { return g, nil })
}

type fakeRetriever struct {
	res     models.RetrievalResult
	err     error
	domains []models.Domain
}

func (f *fakeRetriever) Retrieve(_ context.Context, d models.Domain, _ string) (models.RetrievalResult, error) {
	f.domains = append(f.domains, d)
	return f.res, f.err
}

func session(module models.Domain, mode models.Mode) models.SessionContext {
	return models.SessionContext{ID: "s1", Module: module, Mode: mode}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry(fixed(&scripted{replies: []string{"x"}}), nil)
	o, err := r.Lookup(models.DomainMentalHealth, "")
	require.NoError(t, err)
	assert.IsType(t, &Empathetic{}, o)
	o, err = r.Lookup(models.DomainCommunication, "")
	require.NoError(t, err)
	assert.IsType(t, &Coaching{}, o)
	_, err = r.Lookup(models.DomainCommunication, models.ModeCBT)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, r.Modes(), 4)
}

func TestIsInformational(t *testing.T) {
	assert.True(t, IsInformational("What are common symptoms of anxiety?"))
	assert.True(t, IsInformational("how does CBT work"))
	assert.True(t, IsInformational("焦虑症有哪些表现"))
	assert.False(t, IsInformational("I feel so alone lately"))
	assert.False(t, IsInformational("why do I feel like this?"))
	assert.False(t, IsInformational("我感觉很累"))
	assert.False(t, IsInformational("today was long"))
}

func TestEmpathetic_GroundsOnlyInformational(t *testing.T) {
	gen := &scripted{replies: []string{"That sounds hard."}}
	ret := &fakeRetriever{res: models.RetrievalResult{Hits: []models.RetrievalHit{{
		Chunk:      models.Chunk{Content: "Anxiety often shows as restlessness."},
		Score:      0.8,
		Provenance: models.Provenance{DocumentID: "d1", Title: "Anxiety basics"},
	}}}}
	e := NewEmpathetic(fixed(gen), ret)

	res, err := e.RunTurn(context.Background(), session(models.DomainMentalHealth, models.ModeEmpathetic), nil, "I feel tired all the time")
	require.NoError(t, err)
	assert.Empty(t, ret.domains)
	assert.Empty(t, res.Response.Sources)
	assert.Equal(t, models.ResponseNormal, res.Response.Kind)

	res, err = e.RunTurn(context.Background(), session(models.DomainMentalHealth, models.ModeEmpathetic), nil, "What are signs of anxiety?")
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainMentalHealth}, ret.domains)
	require.Len(t, res.Response.Sources, 1)
	assert.Equal(t, "Anxiety basics", res.Response.Sources[0].Title)
	assert.Contains(t, gen.calls[1][0].Content, "Anxiety often shows as restlessness.")
}

func TestEmpathetic_RetrievalErrorIsNotFatal(t *testing.T) {
	gen := &scripted{replies: []string{"ok"}}
	ret := &fakeRetriever{err: errors.New("index offline")}
	res, err := NewEmpathetic(fixed(gen), ret).RunTurn(context.Background(), session(models.DomainMentalHealth, ""), nil, "What is mindfulness?")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Response.Text)
}

func TestEmpathetic_HistoryWindow(t *testing.T) {
	gen := &scripted{replies: []string{"ok"}}
	window := models.ConversationWindow{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	_, err := NewEmpathetic(fixed(gen), nil).RunTurn(context.Background(), session(models.DomainMentalHealth, ""), window, "rough day")
	require.NoError(t, err)
	msgs := gen.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "rough day", msgs[3].Content)
}

func TestCBT_AdvancesOneStepPerCall(t *testing.T) {
	gen := &scripted{replies: []string{"What went through your mind?", "What supports that thought?", "What's a more balanced view?", "Great work today."}}
	c := NewCBT(fixed(gen))
	sc := session(models.DomainMentalHealth, models.ModeCBT)

	inputs := []string{"I presented at work", "Everyone thinks I'm incompetent", "One person frowned; two praised me", "One frown doesn't define my work"}
	for i, in := range inputs {
		res, err := c.RunTurn(context.Background(), sc, nil, in)
		require.NoError(t, err)
		assert.Equal(t, sc.CBT.Step+1, res.Next.CBT.Step, "step %d", i)
		rec := res.Response.Structured.(models.CBTRecord)
		assert.Equal(t, in, rec.CollectedFields[CBTSteps[i].Name])
		sc = res.Next
	}
	assert.True(t, sc.CBT.Completed)
	assert.Len(t, sc.CBT.Fields, 4)

	res, err := c.RunTurn(context.Background(), sc, nil, "another situation")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Next.CBT.Step, "a completed record restarts")
	assert.False(t, res.Next.CBT.Completed)
	assert.Equal(t, map[string]string{"situation": "another situation"}, res.Next.CBT.Fields)
}

func TestCBT_FinalStepReturnsSummary(t *testing.T) {
	gen := &scripted{replies: []string{"You did well."}}
	sc := session(models.DomainMentalHealth, models.ModeCBT)
	sc.CBT = models.CBTState{Step: 3, Fields: map[string]string{"situation": "a", "automatic_thought": "b", "evidence": "c"}}
	res, err := NewCBT(fixed(gen)).RunTurn(context.Background(), sc, nil, "d")
	require.NoError(t, err)
	rec := res.Response.Structured.(models.CBTRecord)
	assert.True(t, rec.Completed)
	assert.Equal(t, "You did well.", rec.Summary)
	assert.Equal(t, 4, rec.Step)
}

func TestCBT_FailureDoesNotTouchInput(t *testing.T) {
	gen := &scripted{err: &models.CapabilityUnavailableError{Capability: "generation:openai"}}
	sc := session(models.DomainMentalHealth, models.ModeCBT)
	sc.CBT = models.CBTState{Step: 1, Fields: map[string]string{"situation": "exam"}}
	_, err := NewCBT(fixed(gen)).RunTurn(context.Background(), sc, nil, "I'll fail")
	require.Error(t, err)
	assert.Equal(t, 1, sc.CBT.Step)
	assert.Equal(t, map[string]string{"situation": "exam"}, sc.CBT.Fields)
}

const coachingJSON = `{"situation_analysis":"You want to decline without offending.",
"response_options":[
 {"text":"Thanks for the invite, I can't make it this time.","explanation":"Direct and warm."},
 {"text":"I'd love to help; could we sync by email instead?","explanation":"Offers an alternative."},
 {"text":"I'm at capacity this week, so I'll pass.","explanation":"Sets a boundary."},
 {"text":"Could you share notes afterwards?","explanation":"Stays informed."},
 {"text":"Is my input needed, or can I skip?","explanation":"Clarifies expectations."},
 {"text":"Sixth option","explanation":"Should be dropped."}
]}`

func TestCoaching_ReturnsThreeToFiveOptions(t *testing.T) {
	gen := &scripted{replies: []string{coachingJSON}}
	ret := &fakeRetriever{}
	c := NewCoaching(fixed(gen), ret)
	res, err := c.RunTurn(context.Background(), session(models.DomainCommunication, ""), nil, "How do I politely decline a meeting invite?")
	require.NoError(t, err)
	out := res.Response.Structured.(models.CoachingResult)
	assert.Len(t, out.Options, MaxOptions)
	assert.Equal(t, models.ResponseStructured, res.Response.Kind)
	assert.Equal(t, []models.Domain{models.DomainCommunication}, ret.domains)
	assert.Empty(t, out.ClarifyingQuestions, "goal, audience and tone are all stated")
}

func TestCoaching_TooFewOptionsFails(t *testing.T) {
	gen := &scripted{replies: []string{`{"situation_analysis":"x","response_options":[{"text":"a"},{"text":"b"}]}`}}
	_, err := NewCoaching(fixed(gen), nil).RunTurn(context.Background(), session(models.DomainCommunication, ""), nil, "help")
	assert.Error(t, err)
}

func TestCoaching_ShortJSONPaddedFromTextList(t *testing.T) {
	reply := "Here are some ways to answer:\n" +
		"1. \"Thanks, I can't make it this week.\"\n" +
		"2. \"Could we find another time?\"\n" +
		"3. \"I'll send notes instead.\"\n\n" +
		"```json\n" + `{"situation_analysis":"A clash with a deadline.","response_options":[{"text":"Could we find another time?"},{"text":"Let me check my calendar."}]}` + "\n```"
	gen := &scripted{replies: []string{reply}}
	res, err := NewCoaching(fixed(gen), nil).RunTurn(context.Background(), session(models.DomainCommunication, ""), nil, "help")
	require.NoError(t, err)
	out := res.Response.Structured.(models.CoachingResult)
	require.Len(t, out.Options, 4)
	assert.Equal(t, "Could we find another time?", out.Options[0].Text)
	assert.Equal(t, "Let me check my calendar.", out.Options[1].Text)
	assert.Equal(t, "Thanks, I can't make it this week.", out.Options[2].Text)
	assert.Equal(t, "I'll send notes instead.", out.Options[3].Text)
	assert.Equal(t, "A clash with a deadline.", out.SituationAnalysis)
}

func TestCoaching_ClarifyingQuestionsWhenUnderspecified(t *testing.T) {
	gen := &scripted{replies: []string{`{"situation_analysis":"x","response_options":[{"text":"a"},{"text":"b"},{"text":"c"}]}`}}
	res, err := NewCoaching(fixed(gen), nil).RunTurn(context.Background(), session(models.DomainCommunication, ""), nil, "reply to this")
	require.NoError(t, err)
	out := res.Response.Structured.(models.CoachingResult)
	assert.Equal(t, DefaultClarifyingQuestions(), out.ClarifyingQuestions)
}

func TestCoaching_TextFallback(t *testing.T) {
	text := `Situation Analysis:
Your manager invited you to a meeting that clashes with a deadline.

Response Options:
1. **Direct:** "Thanks, but I can't attend because of a deadline."
   Explanation: Honest and brief.
2. **Collaborative:** "Could we move it to Thursday?"
   - Why: keeps the door open
3. "I'll send my update by email."
Tone: efficient

Questions to consider:
- What matters most to your manager?
- Is the meeting optional?`
	res := ParseCoachingText(text)
	assert.Equal(t, "Your manager invited you to a meeting that clashes with a deadline.", res.SituationAnalysis)
	require.Len(t, res.Options, 3)
	assert.Equal(t, "Thanks, but I can't attend because of a deadline.", res.Options[0].Text)
	assert.Equal(t, "Honest and brief.", res.Options[0].Explanation)
	assert.Equal(t, "keeps the door open", res.Options[1].Explanation)
	assert.Equal(t, "I'll send my update by email.", res.Options[2].Text)
	assert.Equal(t, []string{"What matters most to your manager?", "Is the meeting optional?"}, res.ClarifyingQuestions)

	gen := &scripted{replies: []string{text}}
	out, err := NewCoaching(fixed(gen), nil).RunTurn(context.Background(), session(models.DomainCommunication, ""), nil, "my boss wants a meeting")
	require.NoError(t, err)
	assert.Len(t, out.Response.Structured.(models.CoachingResult).Options, 3)
}

func TestRolePlay_TurnsAndEnd(t *testing.T) {
	gen := &scripted{replies: []string{
		"Fifteen percent is a lot. What makes you think you deserve it?",
		`{"strengths":["clear ask"],"improvement_areas":["cite data"],"suggested_strategies":["anchor with market rates"]}`,
	}}
	r := NewRolePlay(fixed(gen))
	sc := session(models.DomainCommunication, models.ModeRolePlay)
	sc.RolePlay = models.RolePlayState{ScenarioID: "salary_negotiation"}

	res, err := r.RunTurn(context.Background(), sc, nil, "I'd like to discuss a raise.")
	require.NoError(t, err)
	reply := res.Response.Structured.(models.RolePlayReply)
	assert.Equal(t, 1, reply.Turn)
	assert.Equal(t, "Manager", reply.Character)
	assert.Contains(t, gen.calls[0][0].Content, "Salary Negotiation")
	sc = res.Next

	res, err = r.RunTurn(context.Background(), sc, nil, "OK, end role play")
	require.NoError(t, err)
	sum := res.Response.Structured.(models.RolePlaySummary)
	assert.Equal(t, []string{"clear ask"}, sum.Strengths)
	assert.Equal(t, 1, sum.Turns)
	assert.True(t, res.Next.RolePlay.Ended)
	assert.Equal(t, 1, res.Next.RolePlay.Turn)

	_, err = r.RunTurn(context.Background(), res.Next, nil, "hello?")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRolePlay_ChineseEndSignal(t *testing.T) {
	assert.True(t, IsEndSignal("好的，结束角色扮演"))
	assert.True(t, IsEndSignal("Exit Role Play please"))
	assert.False(t, IsEndSignal("let's play a role"))
}

func TestIsEndSignal_wholeUtterance(t *testing.T) {
	for _, u := range []string{"end role play", "OK, end roleplay now.", "Let's exit role play!", "请结束角色扮演吧", "Please end role play, thanks"} {
		assert.True(t, IsEndSignal(u), u)
	}
	for _, u := range []string{
		"I don't want to end role play yet",
		"when should I end role play?",
		"不要结束角色扮演",
		"",
		"please",
	} {
		assert.False(t, IsEndSignal(u), u)
	}
}

func TestRolePlay_negatedEndSignalContinues(t *testing.T) {
	sc := session(models.DomainCommunication, models.ModeRolePlay)
	sc.RolePlay = models.RolePlayState{ScenarioID: "salary_negotiation", Turn: 1}
	gen := &scripted{replies: []string{"Tell me about your strengths."}}
	res, err := NewRolePlay(fixed(gen)).RunTurn(context.Background(), sc, nil, "I don't want to end role play yet")
	require.NoError(t, err)
	assert.False(t, res.Next.RolePlay.Ended)
	assert.Equal(t, 2, res.Next.RolePlay.Turn)
	assert.Equal(t, "Tell me about your strengths.", res.Response.Structured.(models.RolePlayReply).Reply)
}

func TestRolePlay_UnknownScenario(t *testing.T) {
	sc := session(models.DomainCommunication, models.ModeRolePlay)
	sc.RolePlay = models.RolePlayState{ScenarioID: "alien_diplomacy"}
	_, err := NewRolePlay(fixed(&scripted{replies: []string{"x"}})).RunTurn(context.Background(), sc, nil, "hi")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = LookupScenario("alien_diplomacy")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, Scenarios(), 5)
}

func TestRolePlay_SummaryTextFallback(t *testing.T) {
	gen := &scripted{replies: []string{"Nice job.\n- Use data\n- Pause before answering"}}
	sc := session(models.DomainCommunication, models.ModeRolePlay)
	sc.RolePlay = models.RolePlayState{ScenarioID: "boundary_setting", Turn: 3}
	res, err := NewRolePlay(fixed(gen)).RunTurn(context.Background(), sc, nil, "end role play")
	require.NoError(t, err)
	sum := res.Response.Structured.(models.RolePlaySummary)
	assert.Equal(t, []string{"Use data", "Pause before answering"}, sum.SuggestedStrategies)
	assert.Equal(t, 3, sum.Turns)
	assert.True(t, strings.Contains(res.Response.Text, "Setting Boundaries"))
}
