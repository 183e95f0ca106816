package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hyperjump/lumimind/internal/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := parseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteRetrieval_empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, models.RetrievalResult{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No results found.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteRetrieval_text(t *testing.T) {
	res := models.RetrievalResult{
		Collection: "mental_health",
		Degraded:   true,
		Hits: []models.RetrievalHit{{
			Chunk:      models.Chunk{Content: "Box breathing: in for four, hold for four."},
			Score:      0.8123,
			Provenance: models.Provenance{Title: "Grounding", SourcePath: "/kb/grounding.md"},
		}},
	}
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"1 results from mental_health (lexical fallback)", "[1] Grounding | Score: 0.8123", "Source: /kb/grounding.md", "Box breathing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDecision(t *testing.T) {
	d := models.CrisisDecision{
		Escalate: true,
		Score:    0.9,
		Signals: []models.CrisisSignal{
			{Kind: models.SignalKeyword, Score: 0.9, Evidence: []string{"end it all"}},
			{Kind: models.SignalSentiment, Skipped: true},
		},
	}
	var buf bytes.Buffer
	if err := WriteDecision(&buf, d, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "escalate:  true") || !strings.Contains(out, "[end it all]") || !strings.Contains(out, "(skipped)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	buf.Reset()
	if err := WriteDecision(&buf, d, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"escalate": true`) {
		t.Errorf("json output = %s", buf.String())
	}
}

func TestWriteResponse(t *testing.T) {
	t.Run("intervention replaces text", func(t *testing.T) {
		var buf bytes.Buffer
		WriteResponse(&buf, &models.Response{
			Kind: models.ResponseEscalation,
			Text: "ignored",
			Intervention: &models.Intervention{
				Title:     "You are not alone",
				Message:   "Please reach out now.",
				Resources: []models.Resource{{Name: "Hotline", Contact: "400-161-9995"}},
			},
		})
		out := buf.String()
		if !strings.Contains(out, "You are not alone") || !strings.Contains(out, "Hotline: 400-161-9995") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if strings.Contains(out, "ignored") {
			t.Errorf("text printed alongside intervention:\n%s", out)
		}
	})

	t.Run("coaching options", func(t *testing.T) {
		var buf bytes.Buffer
		WriteResponse(&buf, &models.Response{
			Text: "Here are some ways to say it.",
			Structured: models.CoachingResult{
				Options: []models.ResponseOption{
					{Text: "I felt hurt when plans changed.", Explanation: "Names the feeling."},
				},
				ClarifyingQuestions: []string{"How close are you?"},
			},
			Sources: []models.Source{{SourcePath: "/kb/nvc.md", Score: 0.5}},
		})
		out := buf.String()
		for _, want := range []string{"1. I felt hurt when plans changed.", "? How close are you?", "/kb/nvc.md (0.50)"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})
}
