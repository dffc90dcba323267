package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/talecast/pkg/types"
)

// Check names used by [Structural].
const (
	CheckSegments        = "segments"
	CheckVoiceSeparation = "voice_separation"
	CheckVoiced          = "voiced"
	CheckAudio           = "audio"
	CheckTimings         = "timings"
)

// timingSlack is how far the last word may end past the audio. Provider
// alignments are rounded to their own frame size.
const timingSlack = 50 * time.Millisecond

// Structural verifies pipeline invariants without any external call.
type Structural struct{}

var _ Checker = Structural{}

// Check implements [Checker].
func (Structural) Check(_ context.Context, in Input) (Report, error) {
	var r Report
	add := func(check string, seg int, format string, args ...any) {
		r.Findings = append(r.Findings, Finding{Check: check, Severity: SeverityError, Segment: seg, Message: fmt.Sprintf(format, args...)})
	}

	if len(in.Segments) == 0 {
		add(CheckSegments, -1, "scene has no segments")
	}
	if in.NarratorVoiceID == "" {
		add(CheckVoiced, -1, "narrator has no voice")
	}

	reported := make(map[string]bool)
	for i, seg := range in.Segments {
		if seg.IsNarrator() || reported[seg.Speaker] {
			continue
		}
		v := in.Voices[seg.Speaker]
		switch {
		case v == "":
			reported[seg.Speaker] = true
			add(CheckVoiced, i, "speaker %q has no voice", seg.Speaker)
		case v == in.NarratorVoiceID:
			reported[seg.Speaker] = true
			add(CheckVoiceSeparation, i, "speaker %q uses the narrator voice %s", seg.Speaker, v)
		}
	}

	for p, tr := range in.Tracks {
		if tr == nil {
			continue
		}
		if !tr.Complete() || len(tr.Audio) == 0 {
			add(CheckAudio, -1, "part %d has no complete audio", p)
			continue
		}
		if i, ok := firstDisorder(tr.Timings, tr.Duration()); !ok {
			add(CheckTimings, -1, "part %d word %d (%q) is out of order", p, i, tr.Timings[i].Word)
		}
	}
	return r, nil
}

// firstDisorder returns the index of the first timing that starts before its
// predecessor, ends before it starts, or runs past total.
func firstDisorder(ts []types.TimedWord, total time.Duration) (int, bool) {
	limit := total + timingSlack
	for i, w := range ts {
		if w.End < w.Start || w.End > limit {
			return i, false
		}
		if i > 0 && w.Start < ts[i-1].Start {
			return i, false
		}
	}
	return 0, true
}
