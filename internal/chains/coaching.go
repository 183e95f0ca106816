package chains

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// Option bounds for a coaching reply.
const (
	MinOptions = 3
	MaxOptions = 5
)

const coachPersona = `You are a communication coach who helps users respond effectively in social, personal and professional situations. Help them craft responses that are authentic, appropriate and effective.

For each situation provide:
1. A brief situation analysis.
2. 3 to 5 response options with varied approaches (direct, empathetic, assertive, and so on).
3. For each option, an explanation of its tone, its likely impact on the recipient and when it works best.
4. Clarifying questions when the goal, the audience or the desired tone is unclear.

Encourage respectful, constructive communication. Never suggest manipulative or dishonest responses. Reply in the language the user writes in.

Respond with a JSON object only:
{
  "situation_analysis": "...",
  "response_options": [{"text": "...", "explanation": "..."}],
  "clarifying_questions": ["..."]
}`

// Default clarifying questions, keyed by the detail they ask for.
var defaultQuestions = map[string]string{
	"goal":     "What is your main goal in this communication?",
	"audience": "Who will receive this message, and what is your relationship with them?",
	"tone":     "How do you want the other person to feel after your response?",
}

// DefaultClarifyingQuestions returns the built-in questions in goal, audience, tone order.
func DefaultClarifyingQuestions() []string {
	return []string{defaultQuestions["goal"], defaultQuestions["audience"], defaultQuestions["tone"]}
}

var (
	goalMarkers = []string{
		"want to", "goal", "hope", "so that", "need to", "trying to", "how do i", "how can i", "how should i",
		"想", "希望", "目的", "为了", "怎么", "如何",
	}
	audienceMarkers = []string{
		"boss", "manager", "colleague", "coworker", "co-worker", "friend", "partner", "customer", "client",
		"team", "parent", "mom", "dad", "mother", "father", "wife", "husband", "teacher", "neighbor",
		"landlord", "roommate", "meeting", "email", "invite",
		"老板", "领导", "同事", "朋友", "客户", "父母", "伴侣", "老师", "家人",
	}
	toneMarkers = []string{
		"polite", "firm", "friendly", "formal", "casual", "assertive", "gentle", "kind", "professional",
		"diplomatic", "direct", "tactful",
		"礼貌", "委婉", "坚定", "正式", "友好", "客气",
	}
)

// MissingDetails reports which of goal, audience and tone the utterance leaves unstated.
func MissingDetails(utterance string) []string {
	var out []string
	if !utils.ContainsAny(utterance, goalMarkers...) {
		out = append(out, "goal")
	}
	if !utils.ContainsAny(utterance, audienceMarkers...) {
		out = append(out, "audience")
	}
	if !utils.ContainsAny(utterance, toneMarkers...) {
		out = append(out, "tone")
	}
	return out
}

// Coaching suggests alternative replies for a communication situation.
type Coaching struct {
	base
	retriever Retriever
}

// NewCoaching creates the orchestrator. retriever may be nil.
func NewCoaching(resolver Resolver, retriever Retriever, opts ...Option) *Coaching {
	return &Coaching{base: newBase(resolver, opts), retriever: retriever}
}

func (c *Coaching) RunTurn(ctx context.Context, sc models.SessionContext, window models.ConversationWindow, utterance string) (TurnResult, error) {
	gen, err := c.generator(ctx, sc)
	if err != nil {
		return TurnResult{}, err
	}
	grounding := c.retrieve(ctx, c.retriever, models.DomainCommunication, sc, utterance)
	system := coachPersona + "\n\nReference material:\n" + groundingText(grounding)

	var result models.CoachingResult
	raw, err := llm.GenerateJSON(ctx, gen, conversation(system, window, utterance), c.opts, &result)
	if err != nil {
		if raw == "" {
			return TurnResult{}, fmt.Errorf("generate coaching reply: %w", err)
		}
		if c.logger != nil {
			c.logger.Debug("coaching reply is not JSON, parsing text", utils.SessionField(sc.ID), zap.Error(err))
		}
		result = ParseCoachingText(raw)
	}

	result.Options = cleanOptions(result.Options)
	if len(result.Options) < MinOptions && err == nil {
		// Short JSON: take the remaining options from any list written around the object.
		text := ParseCoachingText(raw)
		result.Options = cleanOptions(append(result.Options, text.Options...))
		if result.SituationAnalysis == "" {
			result.SituationAnalysis = text.SituationAnalysis
		}
	}
	if len(result.Options) < MinOptions {
		return TurnResult{}, fmt.Errorf("coaching reply has %d response options, need at least %d", len(result.Options), MinOptions)
	}
	if len(result.Options) > MaxOptions {
		result.Options = result.Options[:MaxOptions]
	}
	if len(result.ClarifyingQuestions) == 0 {
		for _, d := range MissingDetails(utterance) {
			result.ClarifyingQuestions = append(result.ClarifyingQuestions, defaultQuestions[d])
		}
	}

	return TurnResult{
		Response: models.Response{
			SessionID:  sc.ID,
			Kind:       models.ResponseStructured,
			Text:       result.SituationAnalysis,
			Structured: result,
			Sources:    sourcesOf(grounding),
		},
		Next: sc.Clone(),
	}, nil
}

func cleanOptions(opts []models.ResponseOption) []models.ResponseOption {
	out := opts[:0]
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		o.Text = strings.TrimSpace(o.Text)
		o.Explanation = strings.TrimSpace(o.Explanation)
		if o.Text == "" || seen[o.Text] {
			continue
		}
		seen[o.Text] = true
		out = append(out, o)
	}
	return out
}

var (
	listItem    = regexp.MustCompile(`^\s*(?:\d+[.)、]|[-*•])\s+(.+)$`)
	boldLabel   = regexp.MustCompile(`^\*\*([^*]+)\*\*:?\s*`)
	explanation = regexp.MustCompile(`(?i)^(?:explanation|why|impact|tone|when to use|说明|解释)\s*[:：]\s*`)
)

type coachSection int

const (
	sectionNone coachSection = iota
	sectionSituation
	sectionOptions
	sectionQuestions
)

// ParseCoachingText extracts a coaching result from free text with headed sections and
// numbered or bulleted options. Numbered items outside any section are read as options.
func ParseCoachingText(text string) models.CoachingResult {
	var res models.CoachingResult
	var situation []string
	section := sectionNone
	var current *models.ResponseOption

	flush := func() {
		if current != nil && current.Text != "" {
			res.Options = append(res.Options, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s, ok := sectionHeader(line); ok {
			flush()
			section = s
			continue
		}

		item := listItem.FindStringSubmatch(line)
		switch {
		case section == sectionQuestions:
			q := line
			if item != nil {
				q = item[1]
			}
			if strings.HasSuffix(q, "?") || strings.HasSuffix(q, "？") {
				res.ClarifyingQuestions = append(res.ClarifyingQuestions, q)
			}
		case item != nil && (section == sectionOptions || section == sectionNone):
			flush()
			body := item[1]
			if m := explanation.FindStringIndex(body); m != nil && len(res.Options) > 0 {
				last := &res.Options[len(res.Options)-1]
				last.Explanation = strings.TrimSpace(last.Explanation + " " + body[m[1]:])
				continue
			}
			label := ""
			if m := boldLabel.FindStringSubmatch(body); m != nil {
				label = strings.TrimSpace(m[1])
				body = strings.TrimSpace(body[len(m[0]):])
			}
			if body == "" {
				body = label
			}
			current = &models.ResponseOption{Text: strings.Trim(body, `"“”`)}
		case current != nil:
			body := explanation.ReplaceAllString(line, "")
			current.Explanation = strings.TrimSpace(current.Explanation + " " + body)
		case section == sectionSituation || section == sectionNone:
			situation = append(situation, line)
		}
	}
	flush()
	res.SituationAnalysis = strings.Join(situation, " ")
	return res
}

func sectionHeader(line string) (coachSection, bool) {
	if listItem.MatchString(line) {
		return sectionNone, false
	}
	h := strings.ToLower(strings.Trim(line, "#*: ：\t"))
	if len([]rune(h)) > 40 {
		return sectionNone, false
	}
	isHeader := strings.HasPrefix(line, "#") || strings.HasSuffix(line, ":") || strings.HasSuffix(line, "：") ||
		(strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**"))
	if !isHeader {
		return sectionNone, false
	}
	switch {
	case utils.ContainsAny(h, "question", "reflect", "问题"):
		return sectionQuestions, true
	case utils.ContainsAny(h, "option", "response", "回复", "选项"):
		return sectionOptions, true
	case utils.ContainsAny(h, "situation", "analysis", "分析"):
		return sectionSituation, true
	}
	return sectionNone, false
}
