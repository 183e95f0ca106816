package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// OutputFormat selects text or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

func parseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes retrieval hits to w in the given format.
func WriteRetrieval(w io.Writer, res models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	if res.Empty() {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	note := ""
	if res.Degraded {
		note = " (lexical fallback)"
	}
	fmt.Fprintf(w, "\n%d results from %s%s\n\n", len(res.Hits), res.Collection, note)
	for i, h := range res.Hits {
		title := h.Provenance.Title
		if title == "" {
			title = h.Provenance.SourcePath
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s | Score: %.4f\n", i+1, title, h.Score)
		if h.Provenance.SourcePath != "" {
			fmt.Fprintf(w, "Source: %s\n", h.Provenance.SourcePath)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Chunk.Content, 200))
	}
	return nil
}

// WriteDecision writes a crisis decision.
func WriteDecision(w io.Writer, d models.CrisisDecision, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, d)
	}
	fmt.Fprintf(w, "escalate:  %t\n", d.Escalate)
	fmt.Fprintf(w, "score:     %.3f\n", d.Score)
	for _, s := range d.Signals {
		line := fmt.Sprintf("  %-15s %.3f", s.Kind, s.Score)
		if s.Skipped {
			line += "  (skipped)"
		}
		if len(s.Evidence) > 0 {
			line += "  [" + strings.Join(s.Evidence, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
	if len(d.Decisive) > 0 {
		fmt.Fprintf(w, "decisive:  %v\n", d.Decisive)
	}
	if len(d.Degraded) > 0 {
		fmt.Fprintf(w, "degraded:  %v\n", d.Degraded)
	}
	return nil
}

// WriteResponse renders one assistant turn for the terminal.
func WriteResponse(w io.Writer, resp *models.Response) {
	if resp.Intervention != nil {
		iv := resp.Intervention
		fmt.Fprintln(w, "═════════════════════════════════════════════════════════")
		fmt.Fprintf(w, "  %s\n\n", iv.Title)
		fmt.Fprintf(w, "  %s\n\n", iv.Message)
		for _, r := range iv.Resources {
			fmt.Fprintf(w, "  • %s: %s\n", r.Name, r.Contact)
		}
		if iv.Disclaimer != "" {
			fmt.Fprintf(w, "\n  %s\n", iv.Disclaimer)
		}
		fmt.Fprintln(w, "═════════════════════════════════════════════════════════")
		return
	}
	if resp.Text != "" {
		fmt.Fprintln(w, resp.Text)
	}
	switch s := resp.Structured.(type) {
	case models.CoachingResult:
		writeCoaching(w, s)
	case *models.CoachingResult:
		writeCoaching(w, *s)
	}
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range resp.Sources {
			title := src.Title
			if title == "" {
				title = src.SourcePath
			}
			fmt.Fprintf(w, "  - %s (%.2f)\n", title, src.Score)
		}
	}
}

func writeCoaching(w io.Writer, c models.CoachingResult) {
	for i, o := range c.Options {
		fmt.Fprintf(w, "\n%d. %s\n   %s\n", i+1, o.Text, o.Explanation)
	}
	if len(c.ClarifyingQuestions) > 0 {
		fmt.Fprintln(w, "\nTo tailor this further:")
		for _, q := range c.ClarifyingQuestions {
			fmt.Fprintf(w, "  ? %s\n", q)
		}
	}
}
