// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, OpenAI or
// Google Cloud TTS) and presents a uniform request/response interface. Each
// call synthesizes one span of text in one voice and returns mono 16-bit PCM,
// optionally with word-level timings.
//
// Every call is assumed to be fallible, rate-limited and individually billable.
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrTimingsUnsupported is returned by Synthesize when Request.WantTimings is
// set and the provider cannot produce word timings.
var ErrTimingsUnsupported = errors.New("tts: provider does not support word timings")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text in the voice req.VoiceID and returns the
	// complete audio buffer.
	//
	// When req.WantTimings is true the returned Result must carry Timings for
	// every spoken word; providers that cannot supply them return
	// [ErrTimingsUnsupported] instead of an untimed buffer.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns all voice profiles available from this provider. The list
	// reflects the provider's current catalogue and may change between calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
