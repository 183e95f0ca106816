package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/pkg/utils"
)

const empatheticPersona = `You are a compassionate, understanding and supportive assistant for mental health support. You provide a safe space for people to express their thoughts and feelings. You are not a replacement for professional therapy or medical advice, but you can offer emotional support and general guidance.

Your approach:
1. Listen actively and pay attention to the user's words, emotions and concerns.
2. Acknowledge and validate feelings without judgment.
3. Keep a calm, patient tone.
4. Ask open-ended questions when they help the user explore further.
5. Offer gentle encouragement and alternative viewpoints when helpful.
6. Suggest simple, evidence-based coping techniques.
7. Be honest about your limitations and encourage professional help when needed.

Guidelines:
- Do not diagnose conditions or prescribe treatments.
- Do not replace professional mental health services.
- If you do not know an answer, say so.
- Reply in the language the user writes in.`

// Empathetic is the supportive-listening orchestrator of the mental-health module.
type Empathetic struct {
	base
	retriever Retriever
}

// NewEmpathetic creates the orchestrator. retriever may be nil.
func NewEmpathetic(resolver Resolver, retriever Retriever, opts ...Option) *Empathetic {
	return &Empathetic{base: newBase(resolver, opts), retriever: retriever}
}

func (e *Empathetic) RunTurn(ctx context.Context, sc models.SessionContext, window models.ConversationWindow, utterance string) (TurnResult, error) {
	gen, err := e.generator(ctx, sc)
	if err != nil {
		return TurnResult{}, err
	}

	system := empatheticPersona
	var grounding models.RetrievalResult
	if IsInformational(utterance) {
		grounding = e.retrieve(ctx, e.retriever, models.DomainMentalHealth, sc, utterance)
		if !grounding.Empty() {
			system += "\n\nReference material (cite it only when relevant):\n" + groundingText(grounding)
		}
	}

	text, err := gen.Generate(ctx, conversation(system, window, utterance), e.opts)
	if err != nil {
		return TurnResult{}, fmt.Errorf("generate empathetic reply: %w", err)
	}
	return TurnResult{
		Response: models.Response{
			SessionID: sc.ID,
			Kind:      models.ResponseNormal,
			Text:      strings.TrimSpace(text),
			Sources:   sourcesOf(grounding),
		},
		Next: sc.Clone(),
	}, nil
}

var (
	interrogatives = []string{
		"what", "how", "why", "when", "where", "which", "who", "is", "are", "can", "could",
		"should", "does", "do", "will", "would",
	}
	hanInterrogatives = []string{"什么", "怎么", "如何", "为什么", "哪些", "哪里", "是否", "能否", "有没有", "吗"}
	distressMarkers   = []string{
		"i feel", "i'm feeling", "i am feeling", "i've been feeling", "i'm so", "i am so",
		"i can't stop", "i hate myself", "i'm scared", "i'm afraid", "i keep",
		"我感觉", "我觉得", "我很", "我好", "我受不了", "我一直", "我害怕",
	}
)

// IsInformational reports whether utterance asks for information rather than expressing the
// speaker's own distress. Only informational turns are grounded in the knowledge base.
func IsInformational(utterance string) bool {
	u := strings.TrimSpace(strings.ToLower(utterance))
	if u == "" || utils.ContainsAny(u, distressMarkers...) {
		return false
	}
	if strings.HasSuffix(u, "?") || strings.HasSuffix(u, "？") {
		return true
	}
	first, _, _ := strings.Cut(u, " ")
	for _, w := range interrogatives {
		if first == w {
			return true
		}
	}
	for _, w := range hanInterrogatives {
		if strings.Contains(u, w) {
			return true
		}
	}
	return false
}
