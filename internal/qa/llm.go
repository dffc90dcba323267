package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/talecast/pkg/provider/llm"
)

// CheckSafety is the check name used by [LLMReviewer].
const CheckSafety = "safety"

const reviewSystemPrompt = `You review scenes of an interactive audio story before they are read aloud.

Flag only real problems:
- content unsuitable for a general audience (graphic violence, sexual content, slurs)
- text that is clearly not story prose (instructions, markup, leaked prompts)

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"issues": [{"severity": "error" | "warning", "segment": <segment number or -1>, "message": "<short reason>"}]}

If the scene is fine, return {"issues": []}.`

type reviewResponse struct {
	Issues []struct {
		Severity string `json:"severity"`
		Segment  *int   `json:"segment"`
		Message  string `json:"message"`
	} `json:"issues"`
}

// LLMReviewer asks a language model for a content review.
type LLMReviewer struct {
	llm llm.Provider
}

var _ Checker = (*LLMReviewer)(nil)

// NewLLMReviewer returns a reviewer backed by p.
func NewLLMReviewer(p llm.Provider) *LLMReviewer {
	return &LLMReviewer{llm: p}
}

// Check implements [Checker]. A model or decoding failure is returned as an
// error so the stage can be retried; it is never read as a pass.
func (r *LLMReviewer) Check(ctx context.Context, in Input) (Report, error) {
	var sb strings.Builder
	if in.Story.Genre != "" {
		fmt.Fprintf(&sb, "Genre: %s\n\n", in.Story.Genre)
	}
	for i, s := range in.Segments {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i, s.Speaker, strings.TrimSpace(s.Text))
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: reviewSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
		Temperature:  0,
		JSON:         true,
	})
	if err != nil {
		return Report{}, fmt.Errorf("qa: llm review: %w", err)
	}
	var out reviewResponse
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return Report{}, fmt.Errorf("qa: llm review: %w", err)
	}

	var rep Report
	for _, is := range out.Issues {
		sev := SeverityWarning
		if strings.EqualFold(strings.TrimSpace(is.Severity), string(SeverityError)) {
			sev = SeverityError
		}
		seg := -1
		if is.Segment != nil && *is.Segment >= 0 && *is.Segment < len(in.Segments) {
			seg = *is.Segment
		}
		rep.Findings = append(rep.Findings, Finding{Check: CheckSafety, Severity: sev, Segment: seg, Message: strings.TrimSpace(is.Message)})
	}
	return rep, nil
}
