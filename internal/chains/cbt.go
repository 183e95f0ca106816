package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
)

// CBTStep describes one field of the thought record.
type CBTStep struct {
	Name     string
	Guidance string
}

// CBTSteps are the thought-record fields, in order.
var CBTSteps = []CBTStep{
	{"situation", "Guide the user to describe a specific situation that triggered negative emotions."},
	{"automatic_thought", "Guide the user to identify the automatic thoughts that came to mind in this situation."},
	{"evidence", "Help the user examine the evidence that supports and the evidence that contradicts the automatic thought."},
	{"balanced_alternative", "Help the user develop a more balanced, realistic alternative thought."},
}

const cbtPersona = `You guide users through a simplified Cognitive Behavioral Therapy thought record. You are NOT a therapist. Help the user identify and gently challenge negative thought patterns, one step at a time.

Common cognitive distortions: all-or-nothing thinking, overgeneralization, mental filtering, jumping to conclusions, catastrophizing, emotional reasoning, should statements, labeling, personalization.

Ask one clear question for the next step. Keep it short, warm and specific to what the user has shared. Reply in the language the user writes in.`

// CBT runs the thought-record exercise. Each call records the utterance into the current
// step's field and advances exactly one step.
type CBT struct {
	base
}

// NewCBT creates the orchestrator.
func NewCBT(resolver Resolver, opts ...Option) *CBT {
	return &CBT{base: newBase(resolver, opts)}
}

func (c *CBT) RunTurn(ctx context.Context, sc models.SessionContext, window models.ConversationWindow, utterance string) (TurnResult, error) {
	gen, err := c.generator(ctx, sc)
	if err != nil {
		return TurnResult{}, err
	}

	next := sc.Clone()
	if next.CBT.Completed || next.CBT.Step < 0 || next.CBT.Step >= len(CBTSteps) {
		next.CBT = models.CBTState{}
	}
	if next.CBT.Fields == nil {
		next.CBT.Fields = make(map[string]string, len(CBTSteps))
	}
	next.CBT.Fields[CBTSteps[next.CBT.Step].Name] = strings.TrimSpace(utterance)
	next.CBT.Step++

	record := models.CBTRecord{Step: next.CBT.Step, CollectedFields: copyFields(next.CBT.Fields)}
	if next.CBT.Step == len(CBTSteps) {
		summary, err := gen.Generate(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: cbtPersona},
			{Role: llm.RoleUser, Content: recordText(next.CBT.Fields) +
				"\nSummarize this thought record, highlight the progress made and encourage continued practice."},
		}, c.opts)
		if err != nil {
			return TurnResult{}, fmt.Errorf("generate CBT summary: %w", err)
		}
		next.CBT.Completed = true
		record.Completed = true
		record.StepName = "summary"
		record.Summary = strings.TrimSpace(summary)
		record.PromptToUser = record.Summary
	} else {
		step := CBTSteps[next.CBT.Step]
		system := cbtPersona + "\n\n" + recordText(next.CBT.Fields) + "\nNext step: " + step.Guidance
		prompt, err := gen.Generate(ctx, conversation(system, window, utterance), c.opts)
		if err != nil {
			return TurnResult{}, fmt.Errorf("generate CBT prompt: %w", err)
		}
		record.StepName = step.Name
		record.PromptToUser = strings.TrimSpace(prompt)
	}

	return TurnResult{
		Response: models.Response{
			SessionID:  sc.ID,
			Kind:       models.ResponseStructured,
			Text:       record.PromptToUser,
			Structured: record,
		},
		Next: next,
	}, nil
}

func recordText(fields map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Thought record so far:\n")
	for _, s := range CBTSteps {
		if v, ok := fields[s.Name]; ok {
			fmt.Fprintf(&sb, "- %s: %s\n", s.Name, v)
		}
	}
	return sb.String()
}

func copyFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
