// Package qa checks a cast and synthesized scene before it is released for
// playback.
//
// [Structural] verifies the invariants the rest of the pipeline promises:
// narrator and character voices stay apart, every segment has a voice, and
// any pre-synthesized audio is complete with ordered word timings.
// [LLMReviewer] adds an optional content review by a language model. A
// [Report] with an error-severity finding fails the stage.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/talecast/internal/synth"
	"github.com/MrWong99/talecast/pkg/types"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one issue found by a check.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Segment is the index of the affected segment, or -1.
	Segment int `json:"segment"`
}

func (f Finding) String() string {
	if f.Segment >= 0 {
		return fmt.Sprintf("%s %s (segment %d): %s", f.Severity, f.Check, f.Segment, f.Message)
	}
	return fmt.Sprintf("%s %s: %s", f.Severity, f.Check, f.Message)
}

// Report is the outcome of one or more checks.
type Report struct {
	Findings []Finding `json:"findings"`
}

// Passed reports whether no finding has error severity.
func (r Report) Passed() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity findings.
func (r Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Summary renders the report on one line.
func (r Report) Summary() string {
	if len(r.Findings) == 0 {
		return "passed"
	}
	parts := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		parts[i] = f.String()
	}
	status := "passed"
	if !r.Passed() {
		status = "failed"
	}
	return status + ": " + strings.Join(parts, "; ")
}

// Input is everything a check may look at.
type Input struct {
	SessionID string
	Segments  []types.Segment

	// Voices maps speaker name → voice ID.
	Voices          map[string]string
	NarratorVoiceID string

	// Tracks holds the pre-synthesized parts. Empty when pre-synthesis is
	// disabled.
	Tracks []*synth.Track

	Story types.StoryContext
}

// Checker inspects a scene. A returned error means the check could not run;
// problems with the scene itself are findings.
type Checker interface {
	Check(ctx context.Context, in Input) (Report, error)
}

// Chain runs checkers in order and merges their findings.
type Chain []Checker

var _ Checker = Chain(nil)

// Check implements [Checker]. The first checker error stops the chain.
func (c Chain) Check(ctx context.Context, in Input) (Report, error) {
	var out Report
	for _, ch := range c {
		r, err := ch.Check(ctx, in)
		if err != nil {
			return out, err
		}
		out.Findings = append(out.Findings, r.Findings...)
	}
	return out, nil
}
