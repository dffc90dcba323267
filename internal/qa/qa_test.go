package qa_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talecast/internal/qa"
	"github.com/MrWong99/talecast/internal/synth"
	"github.com/MrWong99/talecast/pkg/provider/llm"
	llmmock "github.com/MrWong99/talecast/pkg/provider/llm/mock"
	"github.com/MrWong99/talecast/pkg/types"
)

func input() qa.Input {
	return qa.Input{
		SessionID: "s1",
		Segments: []types.Segment{
			{Speaker: "Mira", Text: "Hello there", Type: types.SegmentDialogue},
			{Speaker: types.NarratorSpeaker, Text: " The door creaked.", Type: types.SegmentNarrator},
			{Speaker: "Mira", Text: "Who's there?", Type: types.SegmentDialogue},
		},
		Voices:          map[string]string{"Mira": "v-mira"},
		NarratorVoiceID: "v-narr",
	}
}

func track(timings ...types.TimedWord) *synth.Track {
	return &synth.Track{
		Audio:      make([]byte, 32000), // one second at 16 kHz
		SampleRate: 16000,
		Timings:    timings,
		Segments:   []synth.SegmentResult{{Done: true}},
	}
}

func checks(r qa.Report) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.Check)
	}
	return out
}

func TestStructural(t *testing.T) {
	t.Parallel()

	w := func(word string, start, end time.Duration) types.TimedWord {
		return types.TimedWord{Word: word, Start: start, End: end}
	}

	tests := []struct {
		name   string
		mutate func(in *qa.Input)
		want   []string
	}{
		{name: "clean", mutate: func(*qa.Input) {}},
		{name: "clean with audio", mutate: func(in *qa.Input) {
			in.Tracks = []*synth.Track{track(w("a", 0, 100*time.Millisecond), w("b", 100*time.Millisecond, time.Second))}
		}},
		{name: "no segments", mutate: func(in *qa.Input) { in.Segments = nil }, want: []string{qa.CheckSegments}},
		{name: "no narrator voice", mutate: func(in *qa.Input) { in.NarratorVoiceID = "" }, want: []string{qa.CheckVoiced}},
		{name: "speaker unvoiced once", mutate: func(in *qa.Input) { in.Voices = nil }, want: []string{qa.CheckVoiced}},
		{name: "narrator collision", mutate: func(in *qa.Input) { in.Voices["Mira"] = "v-narr" }, want: []string{qa.CheckVoiceSeparation}},
		{name: "incomplete track", mutate: func(in *qa.Input) {
			tr := track()
			tr.Segments = append(tr.Segments, synth.SegmentResult{})
			in.Tracks = []*synth.Track{nil, tr}
		}, want: []string{qa.CheckAudio}},
		{name: "timings out of order", mutate: func(in *qa.Input) {
			in.Tracks = []*synth.Track{track(w("a", 200*time.Millisecond, 300*time.Millisecond), w("b", 100*time.Millisecond, 150*time.Millisecond))}
		}, want: []string{qa.CheckTimings}},
		{name: "timings past audio", mutate: func(in *qa.Input) {
			in.Tracks = []*synth.Track{track(w("a", 0, 3*time.Second))}
		}, want: []string{qa.CheckTimings}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := input()
			tt.mutate(&in)
			r, err := qa.Structural{}.Check(context.Background(), in)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if got := checks(r); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("findings = %v, want %v", r.Findings, tt.want)
			}
			if r.Passed() != (len(tt.want) == 0) {
				t.Errorf("Passed = %v", r.Passed())
			}
		})
	}
}

func TestLLMReviewer(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"issues": [
		{"severity": "warning", "segment": 1, "message": "mild peril"},
		{"severity": "ERROR", "segment": 42, "message": "leaked instructions"}
	]}`}}
	r, err := qa.NewLLMReviewer(p).Check(context.Background(), input())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(r.Findings) != 2 {
		t.Fatalf("findings = %+v", r.Findings)
	}
	if f := r.Findings[0]; f.Severity != qa.SeverityWarning || f.Segment != 1 || f.Check != qa.CheckSafety {
		t.Errorf("first finding = %+v", f)
	}
	if f := r.Findings[1]; f.Severity != qa.SeverityError || f.Segment != -1 {
		t.Errorf("second finding = %+v", f)
	}
	if r.Passed() {
		t.Error("report with an error finding passed")
	}
	req := p.Calls()[0].Req
	if !req.JSON || !strings.Contains(req.Messages[0].Content, "2. [Mira] Who's there?") {
		t.Errorf("request = %+v", req)
	}
}

func TestLLMReviewer_Failures(t *testing.T) {
	t.Parallel()

	for _, p := range []*llmmock.Provider{
		{CompleteErr: errors.New("timeout")},
		{CompleteResponse: &llm.CompletionResponse{Content: "Looks fine to me!"}},
	} {
		if _, err := qa.NewLLMReviewer(p).Check(context.Background(), input()); err == nil {
			t.Error("expected error, failures must never pass review")
		}
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	clean := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"issues": []}`}}
	in := input()
	in.Voices["Mira"] = "v-narr"
	r, err := qa.Chain{qa.Structural{}, qa.NewLLMReviewer(clean)}.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r.Passed() || len(r.Errors()) != 1 {
		t.Errorf("report = %+v", r)
	}
	if !strings.HasPrefix(r.Summary(), "failed: error voice_separation (segment 0)") {
		t.Errorf("summary = %q", r.Summary())
	}

	broken := &llmmock.Provider{CompleteErr: errors.New("down")}
	if _, err := (qa.Chain{qa.Structural{}, qa.NewLLMReviewer(broken)}).Check(context.Background(), input()); err == nil {
		t.Error("chain swallowed checker error")
	}
}
