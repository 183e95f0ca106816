// Package crisis scores utterances for self-harm and suicide risk from keyword, sentiment and
// model-judgment signals.
package crisis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/telemetry"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// errAbsent marks a signal whose capability is not configured.
var errAbsent = errors.New("capability not configured")

// Detector produces a CrisisDecision per utterance. It is safe for concurrent use; the lexicon
// can be swapped while decisions are in flight.
type Detector struct {
	lexicon   atomic.Pointer[Lexicon]
	sentiment SentimentAnalyzer
	judge     Classifier
	cfg       config.CrisisConfig
	reporter  telemetry.Reporter
	logger    *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithSentiment sets the sentiment capability.
func WithSentiment(s SentimentAnalyzer) Option {
	return func(d *Detector) { d.sentiment = s }
}

// WithClassifier sets the model-judgment capability.
func WithClassifier(c Classifier) Option {
	return func(d *Detector) { d.judge = c }
}

// WithLexicon uses lex instead of loading cfg.KeywordsPath.
func WithLexicon(lex *Lexicon) Option {
	return func(d *Detector) { d.lexicon.Store(lex) }
}

// WithReporter sets the sink for degradation events.
func WithReporter(r telemetry.Reporter) Option {
	return func(d *Detector) { d.reporter = r }
}

// WithLogger sets a logger for degradation and reload events.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a detector. Unset tuning values in cfg take their defaults.
func NewDetector(cfg config.CrisisConfig, opts ...Option) (*Detector, error) {
	full := config.Config{Crisis: cfg}
	config.ApplyDefaults(&full)
	d := &Detector{cfg: full.Crisis, reporter: telemetry.NopReporter{}}
	for _, opt := range opts {
		opt(d)
	}
	if d.lexicon.Load() == nil {
		lex, fromFile, err := LoadLexicon(d.cfg.KeywordsPath)
		if err != nil {
			return nil, err
		}
		if !fromFile && d.logger != nil && d.cfg.KeywordsPath != "" {
			d.logger.Warn("crisis keywords file not found, using built-in lexicon", zap.String("path", d.cfg.KeywordsPath))
		}
		d.lexicon.Store(lex)
	}
	return d, nil
}

// Lexicon returns the current lexicon.
func (d *Detector) Lexicon() *Lexicon { return d.lexicon.Load() }

// ReloadKeywords replaces the lexicon with the one at path. On error the current lexicon stays
// in place. A missing file is an error here.
func (d *Detector) ReloadKeywords(path string) (int, error) {
	if path == "" {
		path = d.cfg.KeywordsPath
	}
	lex, fromFile, err := LoadLexicon(path)
	if err != nil {
		return 0, err
	}
	if !fromFile {
		return 0, fmt.Errorf("reload crisis keywords: %s not found", path)
	}
	d.lexicon.Store(lex)
	if d.logger != nil {
		d.logger.Info("crisis keywords reloaded", zap.String("path", path), zap.Int("terms", lex.Len()))
	}
	return lex.Len(), nil
}

// KeywordSignal scores utterance against the lexicon alone. A top-severity phrase scores 1;
// otherwise n distinct matches score min(cap, base + step*n).
func (d *Detector) KeywordSignal(utterance string) models.CrisisSignal {
	matches := d.lexicon.Load().Match(utterance)
	sig := models.CrisisSignal{Kind: models.SignalKeyword}
	if len(matches) == 0 {
		return sig
	}
	top := false
	for _, m := range matches {
		sig.Evidence = append(sig.Evidence, m.Text)
		top = top || m.Top
	}
	if top {
		sig.Score = 1
		return sig
	}
	sig.Score = min(d.cfg.KeywordCap, d.cfg.KeywordBase+d.cfg.KeywordStep*float64(len(matches)))
	return sig
}

// Detect scores utterance. It never fails: a sentiment or judgment capability that errors,
// times out or is absent is listed in Degraded and the decision falls back to the keyword score.
func (d *Detector) Detect(ctx context.Context, utterance string) models.CrisisDecision {
	kw := d.KeywordSignal(utterance)
	sent := models.CrisisSignal{Kind: models.SignalSentiment}
	judg := models.CrisisSignal{Kind: models.SignalModelJudgment}

	// A top-severity phrase decides on its own; the capabilities are not consulted.
	decided := kw.Score == 1
	consultJudge := !decided && (len(kw.Evidence) > 0 || utils.WordCount(utterance) > d.cfg.JudgeMinWords)

	var g errgroup.Group
	if decided {
		sent.Skipped = true
	} else {
		g.Go(func() error {
			sent.Score, sent.Err = d.runSentiment(ctx, utterance)
			return nil
		})
	}
	if consultJudge {
		g.Go(func() error {
			judg.Score, judg.Err = d.runJudge(ctx, utterance)
			return nil
		})
	} else {
		judg.Skipped = true
	}
	_ = g.Wait()

	decision := models.CrisisDecision{Signals: []models.CrisisSignal{kw, sent, judg}}
	for _, s := range []models.CrisisSignal{sent, judg} {
		if s.Err == nil {
			continue
		}
		decision.Degraded = append(decision.Degraded, s.Kind)
		d.degraded(ctx, s)
	}

	w := d.cfg.Weights
	k, s, m := kw.Score, sent.Score, judg.Score
	var advisory float64
	if len(decision.Degraded) > 0 {
		decision.Score = k
	} else {
		advisory = min(w.ModelJudgment*m, w.Keyword*k+w.Sentiment*s)
		combined := w.Keyword*k + w.Sentiment*s + advisory
		score := max(k, combined)
		if k > 0 && m > 0 {
			// A keyword hit the model judgment confirms; the judgment alone never reaches here.
			score = max(score, d.cfg.CorroborationFloor*m)
		}
		decision.Score = utils.Clamp01(score)
	}
	decision.Escalate = k == 1 || decision.Score >= d.cfg.Threshold

	if decision.Escalate {
		switch {
		case k == 1 || k >= d.cfg.Threshold || len(decision.Degraded) > 0:
			decision.Decisive = []models.SignalKind{models.SignalKeyword}
		default:
			if k > 0 {
				decision.Decisive = append(decision.Decisive, models.SignalKeyword)
			}
			if s > 0 {
				decision.Decisive = append(decision.Decisive, models.SignalSentiment)
			}
			if advisory > 0 {
				decision.Decisive = append(decision.Decisive, models.SignalModelJudgment)
			}
		}
	}
	return decision
}

func (d *Detector) runSentiment(ctx context.Context, text string) (score float64, err error) {
	if d.sentiment == nil || !d.cfg.SentimentEnabledOrDefault() {
		return 0, errAbsent
	}
	defer recoverSignal(&err)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SignalTimeout)
	defer cancel()
	v, err := d.sentiment.Distress(ctx, text)
	if err != nil {
		return 0, err
	}
	return utils.Clamp01(v), nil
}

func (d *Detector) runJudge(ctx context.Context, text string) (score float64, err error) {
	if d.judge == nil || !d.cfg.JudgeEnabledOrDefault() {
		return 0, errAbsent
	}
	defer recoverSignal(&err)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SignalTimeout)
	defer cancel()
	j, err := d.judge.Judge(ctx, text)
	if err != nil {
		return 0, err
	}
	if !j.Crisis {
		return 0, nil
	}
	return utils.Clamp01(j.Confidence), nil
}

func recoverSignal(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("signal panicked: %v", r)
	}
}

func (d *Detector) degraded(ctx context.Context, s models.CrisisSignal) {
	reason := s.Err.Error()
	if errors.Is(s.Err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	if d.logger != nil && !errors.Is(s.Err, errAbsent) {
		d.logger.Warn("crisis signal degraded to keyword-only", zap.String("signal", string(s.Kind)), zap.String("reason", reason))
	}
	d.reporter.Degradation(ctx, telemetry.DegradationEvent{
		Capability: capabilityFor(s.Kind),
		Signal:     s.Kind,
		Reason:     reason,
	})
}

func capabilityFor(kind models.SignalKind) string {
	if kind == models.SignalSentiment {
		return "sentiment"
	}
	return "model_judgment"
}

