package crisis

import (
	"context"
	"strconv"
	"strings"

	"github.com/hyperjump/lumimind/internal/llm"
)

// SentimentAnalyzer estimates emotional distress in [0,1].
type SentimentAnalyzer interface {
	Distress(ctx context.Context, text string) (float64, error)
}

// Judgment is an auxiliary model's crisis verdict.
type Judgment struct {
	Crisis     bool
	Confidence float64
}

// Classifier asks an auxiliary model whether text indicates a crisis.
type Classifier interface {
	Judge(ctx context.Context, text string) (Judgment, error)
}

// SentimentFunc adapts a function to SentimentAnalyzer.
type SentimentFunc func(ctx context.Context, text string) (float64, error)

func (f SentimentFunc) Distress(ctx context.Context, text string) (float64, error) { return f(ctx, text) }

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Judgment, error)

func (f ClassifierFunc) Judge(ctx context.Context, text string) (Judgment, error) { return f(ctx, text) }

// number decodes a JSON number or a numeric string; models emit both.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return err
	}
	if strings.HasSuffix(s, "%") || v > 1 {
		v /= 100
	}
	*n = number(v)
	return nil
}

const emotionPrompt = `You are an emotion analysis expert helping to identify and understand emotional states.

Identify the primary emotion in the user's message, assess its intensity, and estimate how much
acute distress the person is in.

Respond with a JSON object only:
{
    "primary_emotion": "the main emotion detected",
    "intensity": number between 0 and 1,
    "distress": number between 0 and 1
}`

type emotionReply struct {
	PrimaryEmotion string  `json:"primary_emotion"`
	Intensity      number  `json:"intensity"`
	Distress       *number `json:"distress"`
}

// LLMSentiment scores distress with an emotion-analysis prompt.
type LLMSentiment struct {
	gen llm.Generator
}

// NewLLMSentiment creates a sentiment analyzer backed by gen.
func NewLLMSentiment(gen llm.Generator) *LLMSentiment {
	return &LLMSentiment{gen: gen}
}

// Distress returns the reported distress, or the intensity when distress is absent.
func (s *LLMSentiment) Distress(ctx context.Context, text string) (float64, error) {
	var reply emotionReply
	_, err := llm.GenerateJSON(ctx, s.gen, []llm.Message{
		{Role: llm.RoleSystem, Content: emotionPrompt},
		{Role: llm.RoleUser, Content: text},
	}, llm.Options{Temperature: 0.1, MaxTokens: 200}, &reply)
	if err != nil {
		return 0, err
	}
	if reply.Distress != nil {
		return float64(*reply.Distress), nil
	}
	return float64(reply.Intensity), nil
}

const judgePrompt = `You are a crisis detection system. Analyze the user's message for signs of suicidal ideation,
self-harm intentions, or severe psychological distress that requires immediate attention.

Consider explicit mentions of self-harm or suicide, strong expressions of hopelessness, references
to specific plans or methods, and isolation or withdrawal signals.

Respond with a JSON object only:
{
    "risk_level": "high" | "medium" | "low",
    "confidence": number between 0 and 1
}

Be conservative in your assessment. When in doubt, classify as higher risk.`

type judgeReply struct {
	RiskLevel  string `json:"risk_level"`
	Confidence number `json:"confidence"`
}

// yesConfidence is the confidence given to a bare YES verdict.
const yesConfidence = 0.8

// LLMClassifier asks a generation model for a crisis verdict.
type LLMClassifier struct {
	gen llm.Generator
}

// NewLLMClassifier creates a classifier backed by gen.
func NewLLMClassifier(gen llm.Generator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

// Judge treats high and medium risk as a crisis. A reply that is not JSON but reads YES or NO is
// accepted as well.
func (c *LLMClassifier) Judge(ctx context.Context, text string) (Judgment, error) {
	var reply judgeReply
	raw, err := llm.GenerateJSON(ctx, c.gen, []llm.Message{
		{Role: llm.RoleSystem, Content: judgePrompt},
		{Role: llm.RoleUser, Content: text},
	}, llm.Options{Temperature: 0.1, MaxTokens: 100}, &reply)
	if err != nil {
		switch strings.ToUpper(strings.Trim(strings.TrimSpace(raw), ".!\"")) {
		case "YES":
			return Judgment{Crisis: true, Confidence: yesConfidence}, nil
		case "NO":
			return Judgment{}, nil
		}
		return Judgment{}, err
	}
	switch strings.ToLower(strings.TrimSpace(reply.RiskLevel)) {
	case "high", "medium":
		return Judgment{Crisis: true, Confidence: float64(reply.Confidence)}, nil
	}
	return Judgment{Confidence: float64(reply.Confidence)}, nil
}

