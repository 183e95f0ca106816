package chains

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// Scenario is a practice conversation with a simulated counterpart.
type Scenario struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Character            string `json:"character"`
	CharacterDescription string `json:"character_description"`
	Description          string `json:"description"`
}

var scenarios = map[string]Scenario{
	"salary_negotiation": {
		ID:        "salary_negotiation",
		Name:      "Salary Negotiation",
		Character: "Manager",
		CharacterDescription: "You are a mid-level manager at a technology company. You value the employee but have budget constraints. " +
			"You are willing to negotiate but need to stay within company guidelines. You are busy and want to keep the conversation focused and professional.",
		Description: "The user has been with the company for two years and has consistently performed well. They are asking for a 15% raise, " +
			"above the company's standard 5% annual adjustment. The economic climate is challenging and the company is controlling costs.",
	},
	"difficult_feedback": {
		ID:        "difficult_feedback",
		Name:      "Giving Difficult Feedback",
		Character: "Colleague",
		CharacterDescription: "You are a colleague who feels unfairly criticized. You believe you have been pulling your weight and that some delays had " +
			"legitimate reasons. You are somewhat defensive but open to feedback delivered respectfully.",
		Description: "The user needs to give you feedback about missed deadlines on a joint project. It has caused problems with the client. " +
			"The user wants to keep the working relationship while getting the project back on track.",
	},
	"boundary_setting": {
		ID:        "boundary_setting",
		Name:      "Setting Boundaries",
		Character: "Friend",
		CharacterDescription: "You are a close friend used to asking for favors and emotional support at any time. You do not realize how your demands " +
			"affect the user. You are sensitive to rejection but can understand boundaries explained clearly.",
		Description: "The user needs to set boundaries with you: you often call late at night with personal problems and ask for time-consuming favors. " +
			"The user values the friendship but is burnt out.",
	},
	"conflict_resolution": {
		ID:        "conflict_resolution",
		Name:      "Conflict Resolution",
		Character: "Team Member",
		CharacterDescription: "You are a team member with strong opinions about the project direction and the technical expertise to back them. " +
			"You can be stubborn but respond to well-reasoned arguments, and you want your expertise respected.",
		Description: "There is significant disagreement about the project approach and the deadline is close. The user needs to resolve the " +
			"conflict with you so the team can move forward.",
	},
	"customer_complaint": {
		ID:        "customer_complaint",
		Name:      "Handling a Customer Complaint",
		Character: "Upset Customer",
		CharacterDescription: "You paid a premium price for a product that did not meet expectations and have already tried customer service several times. " +
			"You are not abusive, but you are clearly upset and want a solution, not excuses.",
		Description: "The user works in customer service and must de-escalate the situation and find an appropriate resolution.",
	},
}

// Scenarios returns the built-in scenarios sorted by ID.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupScenario returns the scenario with id or a ValidationError.
func LookupScenario(id string) (Scenario, error) {
	s, ok := scenarios[id]
	if !ok {
		return Scenario{}, &models.ValidationError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", id)}
	}
	return s, nil
}

var (
	endSignals      = []string{"end role play", "exit role play", "end roleplay", "exit roleplay", "结束角色扮演"}
	feedbackSignals = []string{"how did i do", "give me feedback", "给我反馈"}
)

// endFillers may surround an end signal without changing its meaning.
var endFillers = []string{"ok", "okay", "please", "thanks", "thank you", "now", "let s", "lets", "i want to", "i d like to", "can we", "好的", "好", "请", "吧", "谢谢"}

// IsEndSignal reports whether utterance asks to stop the role-play. The end phrase must be the
// whole utterance once punctuation and polite fillers are removed, so "I don't want to end role
// play yet" keeps the scene going.
func IsEndSignal(utterance string) bool {
	rest := trimFillers(normalizeUtterance(utterance))
	for _, sig := range endSignals {
		if rest == sig {
			return true
		}
	}
	return false
}

// normalizeUtterance lowercases s and collapses punctuation and whitespace runs to one space.
func normalizeUtterance(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func trimFillers(s string) string {
	for changed := true; changed; {
		changed = false
		for _, f := range endFillers {
			// Han fillers attach without a space.
			sep := " "
			if unicode.Is(unicode.Han, []rune(f)[0]) {
				sep = ""
			}
			if s == f {
				return ""
			}
			if t, ok := strings.CutPrefix(s, f+sep); ok {
				s, changed = strings.TrimSpace(t), true
			}
			if t, ok := strings.CutSuffix(s, sep+f); ok {
				s, changed = strings.TrimSpace(t), true
			}
		}
	}
	return s
}

const roleplayPersona = `You simulate a realistic conversation so the user can practice. You play %s in a "%s" scenario. Do not break character unless there is an ethical concern or the user asks to stop.

Your character:
%s

Scenario background:
%s

Stay in character with a fitting tone and perspective. Adapt to how the user interacts. Move the dialogue forward naturally and present realistic obstacles without being combative. If the conversation turns inappropriate, steer it back to the scenario. Reply in the language the user writes in.`

const summaryPrompt = `You have been role-playing as %s in a "%s" scenario. Step out of character and assess the user's communication in the conversation below.

%s
Respond with a JSON object only:
{
  "strengths": ["..."],
  "improvement_areas": ["..."],
  "suggested_strategies": ["..."]
}
Be specific and refer to moments from the conversation.`

// RolePlay plays the counterpart of a practice scenario.
type RolePlay struct {
	base
}

// NewRolePlay creates the orchestrator.
func NewRolePlay(resolver Resolver, opts ...Option) *RolePlay {
	return &RolePlay{base: newBase(resolver, opts)}
}

func (r *RolePlay) RunTurn(ctx context.Context, sc models.SessionContext, window models.ConversationWindow, utterance string) (TurnResult, error) {
	if sc.RolePlay.ScenarioID == "" || sc.RolePlay.Ended {
		return TurnResult{}, &models.ValidationError{Field: "scenario_id", Reason: "no active role-play; start a scenario first"}
	}
	scenario, err := LookupScenario(sc.RolePlay.ScenarioID)
	if err != nil {
		return TurnResult{}, err
	}
	gen, err := r.generator(ctx, sc)
	if err != nil {
		return TurnResult{}, err
	}

	next := sc.Clone()
	switch {
	case IsEndSignal(utterance):
		summary, err := r.summarize(ctx, gen, scenario, window, sc.RolePlay.Turn)
		if err != nil {
			return TurnResult{}, err
		}
		next.RolePlay.Ended = true
		return TurnResult{
			Response: models.Response{SessionID: sc.ID, Kind: models.ResponseStructured, Structured: summary,
				Text: fmt.Sprintf("Role-play \"%s\" ended after %d turns.", scenario.Name, summary.Turns)},
			Next: next,
		}, nil

	case utils.ContainsAny(utterance, feedbackSignals...):
		msgs := []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(
			"You have been role-playing as %s in a \"%s\" scenario. Here is the conversation so far:\n\n%s\n"+
				"Step out of character and give constructive feedback on the user's approach, clarity and empathy, with specific examples.",
			scenario.Character, scenario.Name, transcript(window, scenario.Character))}}
		text, err := gen.Generate(ctx, msgs, r.opts)
		if err != nil {
			return TurnResult{}, fmt.Errorf("generate role-play feedback: %w", err)
		}
		return TurnResult{
			Response: models.Response{SessionID: sc.ID, Kind: models.ResponseNormal, Text: strings.TrimSpace(text)},
			Next:     next,
		}, nil
	}

	system := fmt.Sprintf(roleplayPersona, scenario.Character, scenario.Name, scenario.CharacterDescription, scenario.Description)
	text, err := gen.Generate(ctx, conversation(system, window, utterance), r.opts)
	if err != nil {
		return TurnResult{}, fmt.Errorf("generate role-play reply: %w", err)
	}
	next.RolePlay.Turn++
	reply := models.RolePlayReply{
		ScenarioID: scenario.ID,
		Character:  scenario.Character,
		Turn:       next.RolePlay.Turn,
		Reply:      strings.TrimSpace(text),
	}
	return TurnResult{
		Response: models.Response{SessionID: sc.ID, Kind: models.ResponseStructured, Text: reply.Reply, Structured: reply},
		Next:     next,
	}, nil
}

func (r *RolePlay) summarize(ctx context.Context, gen llm.Generator, s Scenario, window models.ConversationWindow, turns int) (models.RolePlaySummary, error) {
	out := models.RolePlaySummary{ScenarioID: s.ID, Turns: turns}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(summaryPrompt, s.Character, s.Name, transcript(window, s.Character))}}
	raw, err := llm.GenerateJSON(ctx, gen, msgs, r.opts, &out)
	if err != nil {
		if raw == "" {
			return models.RolePlaySummary{}, fmt.Errorf("generate role-play summary: %w", err)
		}
		out.SuggestedStrategies = listItems(raw)
		if len(out.SuggestedStrategies) == 0 {
			out.SuggestedStrategies = []string{strings.TrimSpace(raw)}
		}
	}
	out.ScenarioID, out.Turns = s.ID, turns
	return out, nil
}

func transcript(window models.ConversationWindow, character string) string {
	var sb strings.Builder
	for _, t := range window {
		who := "User"
		if t.Role == models.RoleAssistant {
			who = character
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", who, t.Content)
	}
	return sb.String()
}

func listItems(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := listItem.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}
