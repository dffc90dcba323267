package tts

import (
	"fmt"

	"github.com/MrWong99/talecast/pkg/types"
)

// VoiceProfile describes one voice in a provider catalogue.
type VoiceProfile = types.VoiceProfile

// Style carries delivery parameters derived from the scene and segment.
// Providers map the fields they understand and ignore the rest.
type Style struct {
	// Emotion is the per-segment delivery hint (e.g. "whispering").
	Emotion string

	// Mood is the scene mood (e.g. "tense").
	Mood string

	// Genre is the story genre.
	Genre string

	// Speed adjusts speaking rate (0.25–4.0, 0 = provider default).
	Speed float64
}

// Instruction renders the style as a short natural-language direction for
// providers that accept free-form instructions. Returns "" for an empty style.
func (s Style) Instruction() string {
	switch {
	case s.Emotion != "" && s.Mood != "":
		return fmt.Sprintf("Speak %s, in a %s mood.", s.Emotion, s.Mood)
	case s.Emotion != "":
		return fmt.Sprintf("Speak %s.", s.Emotion)
	case s.Mood != "":
		return fmt.Sprintf("Read in a %s mood.", s.Mood)
	default:
		return ""
	}
}

// Request is a single synthesis call.
type Request struct {
	// Text is the prose to speak.
	Text string

	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// Style holds delivery parameters.
	Style Style

	// WantTimings requests word-level timings in the result.
	WantTimings bool
}

// Result is the output of a synthesis call.
type Result struct {
	// Audio is mono 16-bit little-endian PCM.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Timings holds per-word offsets relative to the start of Audio. Nil when
	// timings were not requested.
	Timings []types.TimedWord
}
