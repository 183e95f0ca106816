package crisis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/telemetry"
)

func TestMain(m *testing.M) {
	// The genai client's dependencies start an opencensus worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func constSentiment(v float64) SentimentAnalyzer {
	return SentimentFunc(func(context.Context, string) (float64, error) { return v, nil })
}

func constJudge(crisis bool, conf float64) Classifier {
	return ClassifierFunc(func(context.Context, string) (Judgment, error) {
		return Judgment{Crisis: crisis, Confidence: conf}, nil
	})
}

func newDetector(t *testing.T, opts ...Option) *Detector {
	t.Helper()
	d, err := NewDetector(config.CrisisConfig{SignalTimeout: 200 * time.Millisecond}, opts...)
	require.NoError(t, err)
	return d
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "i can t go on", Normalize("  I CAN'T   go on!!! "))
	assert.Equal(t, "self harm", Normalize("Self-Harm"))
	assert.Equal(t, "我 不想活了", Normalize("我，不想活了。"))
	assert.Equal(t, "", Normalize("?!"))
}

func TestParseLexicon(t *testing.T) {
	lex, err := ParseLexicon(strings.NewReader("# comment\n\nhopeless\n!end my life\nself-harm\nself harm\n!Self Harm\n"))
	require.NoError(t, err)
	require.Equal(t, 3, lex.Len())
	terms := lex.Terms()
	assert.Equal(t, "self-harm", terms[2].Text)
	assert.True(t, terms[2].Top, "duplicate with marker raises severity")

	_, err = ParseLexicon(strings.NewReader("# only comments\n"))
	assert.Error(t, err)
}

func TestLexicon_Match(t *testing.T) {
	lex := DefaultLexicon()
	names := func(ts []Term) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Text)
		}
		return out
	}
	assert.Equal(t, []string{"end my life"}, names(lex.Match("I want to END my life.")))
	assert.Empty(t, lex.Match("I will pretend my lifestyle is fine"), "latin terms match whole words only")
	assert.Empty(t, lex.Match("feeling despairing"))
	assert.Equal(t, []string{"不想活了"}, names(lex.Match("我真的不想活了")))
	assert.Empty(t, lex.Match("How do I politely decline a meeting invite?"))
}

func TestKeywordSignal_Scoring(t *testing.T) {
	d := newDetector(t)

	sig := d.KeywordSignal("I feel hopeless")
	assert.InDelta(t, 0.4, sig.Score, 1e-9)
	assert.Equal(t, []string{"hopeless"}, sig.Evidence)

	sig = d.KeywordSignal("hopeless, despair, I can't go on, better off dead, no reason to live")
	assert.InDelta(t, 0.7, sig.Score, 1e-9, "capped below the top-severity score")
	assert.Len(t, sig.Evidence, 5)

	sig = d.KeywordSignal("I want to end my life")
	assert.Equal(t, 1.0, sig.Score)

	sig = d.KeywordSignal("nice weather")
	assert.Zero(t, sig.Score)
	assert.Empty(t, sig.Evidence)
}

func TestDetect_TopSeverityOverridesOtherSignals(t *testing.T) {
	var consulted int
	sentiment := SentimentFunc(func(context.Context, string) (float64, error) {
		consulted++
		return 0, nil
	})
	judge := ClassifierFunc(func(context.Context, string) (Judgment, error) {
		consulted++
		return Judgment{}, nil
	})
	d := newDetector(t, WithSentiment(sentiment), WithClassifier(judge))
	for _, u := range []string{"I want to end my life", "我不想活了", "going to kill myself tonight"} {
		dec := d.Detect(context.Background(), u)
		assert.True(t, dec.Escalate, u)
		assert.Equal(t, 1.0, dec.Score, u)
		assert.Equal(t, []models.SignalKind{models.SignalKeyword}, dec.Decisive, u)
		assert.Empty(t, dec.Degraded, u)
	}
	assert.Zero(t, consulted)
}

func TestDetect_ZeroSignalsNeverEscalate(t *testing.T) {
	d := newDetector(t, WithSentiment(constSentiment(0)), WithClassifier(constJudge(false, 0)))
	dec := d.Detect(context.Background(), "How do I politely decline a meeting invite without upsetting my manager at all?")
	assert.False(t, dec.Escalate)
	assert.Zero(t, dec.Score)
	assert.Empty(t, dec.Degraded)
	assert.Empty(t, dec.Decisive)
}

func TestDetect_ModelJudgmentIsAdvisory(t *testing.T) {
	d := newDetector(t, WithSentiment(constSentiment(0)), WithClassifier(constJudge(true, 1)))
	dec := d.Detect(context.Background(), "there is a lot going on with work and family and I am not sure what to do next")
	assert.Zero(t, dec.Score, "judgment alone contributes nothing")
	assert.False(t, dec.Escalate)
	j, ok := dec.Signal(models.SignalModelJudgment)
	require.True(t, ok)
	assert.Equal(t, 1.0, j.Score)
}

func TestDetect_WeightedCombination(t *testing.T) {
	d := newDetector(t, WithSentiment(constSentiment(1)), WithClassifier(constJudge(true, 0.8)))
	// k=0.5 (two terms), s=1, m=0.8: advisory=min(0.16, 0.25+0.3)=0.16, combined=0.71,
	// above the corroboration floor 0.8*0.8=0.64.
	dec := d.Detect(context.Background(), "I feel hopeless and full of despair")
	assert.InDelta(t, 0.71, dec.Score, 1e-9)
	assert.True(t, dec.Escalate)
	assert.Equal(t, []models.SignalKind{models.SignalKeyword, models.SignalSentiment, models.SignalModelJudgment}, dec.Decisive)
}

func TestDetect_ConfirmedKeywordEscalates(t *testing.T) {
	d := newDetector(t, WithSentiment(constSentiment(0.9)), WithClassifier(constJudge(true, 0.95)))
	dec := d.Detect(context.Background(), "I have been feeling suicidal lately")
	k, _ := dec.Signal(models.SignalKeyword)
	require.Greater(t, k.Score, 0.0)
	require.Less(t, k.Score, 1.0)
	assert.InDelta(t, 0.8*0.95, dec.Score, 1e-9)
	assert.True(t, dec.Escalate)
	assert.Contains(t, dec.Decisive, models.SignalModelJudgment)

	// Without a keyword hit the same verdict stays advisory.
	dec = d.Detect(context.Background(), "there is a lot going on with work and family and I am not sure what to do next")
	assert.False(t, dec.Escalate)

	// A negligible floor leaves the weighted score, which stays below the threshold.
	plain, err := NewDetector(config.CrisisConfig{SignalTimeout: 200 * time.Millisecond, CorroborationFloor: 1e-9},
		WithSentiment(constSentiment(0.9)), WithClassifier(constJudge(true, 0.95)))
	require.NoError(t, err)
	dec = plain.Detect(context.Background(), "I have been feeling suicidal lately")
	assert.False(t, dec.Escalate)
}

func TestDetect_KeywordIsFloor(t *testing.T) {
	d := newDetector(t, WithSentiment(constSentiment(0)), WithClassifier(constJudge(false, 0)))
	dec := d.Detect(context.Background(), "hopeless")
	assert.InDelta(t, 0.4, dec.Score, 1e-9)
}

func TestDetect_JudgmentGating(t *testing.T) {
	var called bool
	judge := ClassifierFunc(func(context.Context, string) (Judgment, error) {
		called = true
		return Judgment{}, nil
	})
	d := newDetector(t, WithSentiment(constSentiment(0)), WithClassifier(judge))
	dec := d.Detect(context.Background(), "short and calm")
	assert.False(t, called)
	j, _ := dec.Signal(models.SignalModelJudgment)
	assert.True(t, j.Skipped)
	assert.Empty(t, dec.Degraded)
}

func TestDetect_DegradesToKeywordOnly(t *testing.T) {
	rec := &telemetry.Recorder{}
	failing := SentimentFunc(func(context.Context, string) (float64, error) {
		return 0, &models.CapabilityUnavailableError{Capability: "generation:openai", Err: errors.New("503")}
	})
	slow := ClassifierFunc(func(ctx context.Context, _ string) (Judgment, error) {
		<-ctx.Done()
		return Judgment{}, ctx.Err()
	})
	d := newDetector(t, WithSentiment(failing), WithClassifier(slow), WithReporter(rec))

	dec := d.Detect(context.Background(), "I feel hopeless")
	assert.ElementsMatch(t, []models.SignalKind{models.SignalSentiment, models.SignalModelJudgment}, dec.Degraded)
	assert.InDelta(t, 0.4, dec.Score, 1e-9)
	assert.False(t, dec.Escalate)

	evs := rec.Degradations()
	require.Len(t, evs, 2)
	var reasons []string
	for _, ev := range evs {
		reasons = append(reasons, ev.Reason)
	}
	assert.Contains(t, reasons, "timeout")
}

func TestDetect_PanickingSignalDegrades(t *testing.T) {
	boom := SentimentFunc(func(context.Context, string) (float64, error) { panic("boom") })
	d := newDetector(t, WithSentiment(boom), WithClassifier(constJudge(false, 0)))
	dec := d.Detect(context.Background(), "I feel hopeless")
	assert.Contains(t, dec.Degraded, models.SignalSentiment)
	assert.InDelta(t, 0.4, dec.Score, 1e-9)
}

func TestDetect_AbsentCapabilitiesDegrade(t *testing.T) {
	d := newDetector(t)
	dec := d.Detect(context.Background(), "I feel hopeless")
	assert.False(t, dec.Escalate)
	assert.ElementsMatch(t, []models.SignalKind{models.SignalSentiment, models.SignalModelJudgment}, dec.Degraded)
}

func TestReloadKeywords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.txt")
	require.NoError(t, os.WriteFile(path, []byte("!rainy monday\n"), 0o600))

	d := newDetector(t)
	assert.Zero(t, d.KeywordSignal("another rainy monday").Score)

	n, err := d.ReloadKeywords(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, d.KeywordSignal("another rainy monday").Score)

	_, err = d.ReloadKeywords(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("# emptied\n"), 0o600))
	_, err = d.ReloadKeywords(path)
	assert.Error(t, err)
	assert.Equal(t, 1.0, d.KeywordSignal("another rainy monday").Score, "failed reload keeps the lexicon")
}

func TestLoadLexicon_MissingFileUsesDefault(t *testing.T) {
	lex, fromFile, err := LoadLexicon(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, DefaultLexicon().Len(), lex.Len())
}

func TestLLMSentiment(t *testing.T) {
	gen := llm.GeneratorFunc(func(_ context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
		assert.True(t, opts.JSON)
		return `{"primary_emotion":"sadness","intensity":"0.9","distress":0.6}`, nil
	})
	v, err := NewLLMSentiment(gen).Distress(context.Background(), "x")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v, 1e-9)

	gen = llm.GeneratorFunc(func(context.Context, []llm.Message, llm.Options) (string, error) {
		return `{"primary_emotion":"anger","intensity":"80%"}`, nil
	})
	v, err = NewLLMSentiment(gen).Distress(context.Background(), "x")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v, 1e-9)
}

func TestLLMClassifier(t *testing.T) {
	reply := func(s string) llm.Generator {
		return llm.GeneratorFunc(func(context.Context, []llm.Message, llm.Options) (string, error) { return s, nil })
	}
	j, err := NewLLMClassifier(reply(`{"risk_level":"high","confidence":0.9}`)).Judge(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Judgment{Crisis: true, Confidence: 0.9}, j)

	j, err = NewLLMClassifier(reply(`{"risk_level":"low","confidence":0.7}`)).Judge(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, j.Crisis)

	j, err = NewLLMClassifier(reply("YES")).Judge(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Judgment{Crisis: true, Confidence: yesConfidence}, j)

	_, err = NewLLMClassifier(reply("maybe?")).Judge(context.Background(), "x")
	assert.Error(t, err)
}
