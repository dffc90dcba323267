package sfx

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/talecast/pkg/provider/llm"
	"github.com/MrWong99/talecast/pkg/types"
)

const defaultTemperature = 0.1

const systemPromptTemplate = `You are a sound designer for an audio drama.

Your task: pick sound effects that should play under the numbered segments of a scene.

Rules:
- Only suggest an effect when the text clearly describes a sound.
- Use ONLY effect names from this list:
%s
- At most one occurrence of an effect per segment.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"cues": [{"segment": <segment number>, "name": "<effect name>", "keyword": "<triggering word>"}]}

If no effect fits, return {"cues": []}.`

type llmResponse struct {
	Cues []Cue `json:"cues"`
}

// LLMOption configures an [LLMDetector].
type LLMOption func(*LLMDetector)

// WithFallback sets the detector used when the model call fails or its reply
// cannot be used. Without one, such failures are returned as errors.
func WithFallback(d Detector) LLMOption {
	return func(l *LLMDetector) { l.fallback = d }
}

// WithEffects restricts the model to the given effect names. Default: the
// names of [DefaultLexicon].
func WithEffects(names []string) LLMOption {
	return func(l *LLMDetector) {
		if len(names) > 0 {
			l.effects = slices.Clone(names)
		}
	}
}

// LLMDetector asks a language model for cues. It is safe for concurrent use.
type LLMDetector struct {
	llm      llm.Provider
	effects  []string
	fallback Detector
}

var _ Detector = (*LLMDetector)(nil)

// NewLLMDetector returns a detector backed by p.
func NewLLMDetector(p llm.Provider, opts ...LLMOption) *LLMDetector {
	d := &LLMDetector{llm: p, effects: NewKeywordDetector(nil).Names()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect implements [Detector]. Cues naming unknown effects or segments are
// dropped.
func (d *LLMDetector) Detect(ctx context.Context, segments []types.Segment) ([]Cue, error) {
	if len(segments) == 0 {
		return []Cue{}, nil
	}

	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, bulletList(d.effects)),
		Messages:     []llm.Message{{Role: "user", Content: numbered(segments)}},
		Temperature:  defaultTemperature,
		JSON:         true,
	})
	if err != nil {
		return d.fall(ctx, segments, fmt.Errorf("sfx: llm detect: %w", err))
	}

	var r llmResponse
	if err := llm.DecodeJSON(resp.Content, &r); err != nil {
		return d.fall(ctx, segments, fmt.Errorf("sfx: llm detect: %w", err))
	}

	cues := []Cue{}
	seen := make(map[Cue]bool)
	for _, c := range r.Cues {
		c.Name = strings.TrimSpace(c.Name)
		key := Cue{Name: c.Name, SegmentIndex: c.SegmentIndex}
		if c.SegmentIndex < 0 || c.SegmentIndex >= len(segments) || !slices.Contains(d.effects, c.Name) || seen[key] {
			slog.Debug("sfx: dropping llm cue", "name", c.Name, "segment", c.SegmentIndex)
			continue
		}
		seen[key] = true
		cues = append(cues, c)
	}
	slices.SortStableFunc(cues, func(a, b Cue) int { return a.SegmentIndex - b.SegmentIndex })
	return cues, nil
}

func (d *LLMDetector) fall(ctx context.Context, segments []types.Segment, err error) ([]Cue, error) {
	if d.fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	slog.Warn("sfx: llm detector failed, using fallback", "err", err)
	return d.fallback.Detect(ctx, segments)
}

func numbered(segments []types.Segment) string {
	var sb strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i, s.Speaker, strings.TrimSpace(s.Text))
	}
	return sb.String()
}

func bulletList(items []string) string {
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
