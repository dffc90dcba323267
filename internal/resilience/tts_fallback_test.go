package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/talecast/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talecast/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SampleRate: 24000}
	fb := NewTTSFallback("primary", primary, BreakerConfig{})
	fb.Add("secondary", secondary)

	res, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello", VoiceID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want the secondary's 24000", res.SampleRate)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestTTSFallback_AllFailKeepsCause(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{NoTimings: true}
	fb := NewTTSFallback("primary", primary, BreakerConfig{})
	fb.Add("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello", WantTimings: true})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, tts.ErrTimingsUnsupported) {
		t.Fatalf("err = %v, want ErrTimingsUnsupported in chain", err)
	}
}

func TestTTSFallback_MissingTimingsDoNotTrip(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{NoTimings: true}
	fb := NewTTSFallback("only", p, BreakerConfig{Threshold: 1})
	for range 3 {
		_, _ = fb.Synthesize(context.Background(), tts.Request{Text: "hi", WantTimings: true})
	}
	if got := fb.States()["only"]; got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if _, err := fb.Synthesize(context.Background(), tts.Request{Text: "hi"}); err != nil {
		t.Errorf("plain request after timing refusals: %v", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}, {ID: "v2", Name: "Bob"}}}
	fb := NewTTSFallback("primary", primary, BreakerConfig{})
	fb.Add("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Errorf("voices = %+v", voices)
	}
}
