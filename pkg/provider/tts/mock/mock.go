// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio to the synthesizer and to verify that
// the correct voice, style and text are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SampleRate:       16000,
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	res, _ := p.Synthesize(ctx, tts.Request{Text: "Hello", VoiceID: "v1"})
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talecast/pkg/provider/tts"
	"github.com/MrWong99/talecast/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
//
// By default Synthesize returns 2 bytes of silence per text rune at
// SampleRate (16 kHz when unset) and, when timings are requested, one evenly
// spaced TimedWord per whitespace-separated word.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SampleRate is reported in every Result. Default 16000.
	SampleRate int

	// SynthesizeErr, if non-nil, is returned from every Synthesize call.
	SynthesizeErr error

	// ErrByText maps a request text to an error returned for that text only.
	ErrByText map[string]error

	// FailTimes maps a request text to the number of leading calls that fail
	// with SynthesizeErr (or ErrByText) before succeeding.
	FailTimes map[string]int

	// NoTimings makes Synthesize return [tts.ErrTimingsUnsupported] when timings
	// are requested.
	NoTimings bool

	// OmitTimings makes Synthesize silently return no timings even when
	// requested, simulating a misbehaving backend.
	OmitTimings bool

	// Hook, if set, is called before each Synthesize returns. It can block to
	// control completion order in concurrency tests.
	Hook func(req tts.Request)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	attempts map[string]int
}

// Synthesize records the call and returns a synthetic result or the
// configured error.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})
	if p.attempts == nil {
		p.attempts = make(map[string]int)
	}
	p.attempts[req.Text]++
	attempt := p.attempts[req.Text]

	err := p.SynthesizeErr
	if e, ok := p.ErrByText[req.Text]; ok {
		err = e
	}
	if n, ok := p.FailTimes[req.Text]; ok && attempt > n {
		err = nil
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = 16000
	}
	noTimings, omitTimings, hook := p.NoTimings, p.OmitTimings, p.Hook
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	if req.WantTimings && noTimings {
		return nil, tts.ErrTimingsUnsupported
	}

	runes := len([]rune(req.Text))
	res := &tts.Result{
		Audio:      make([]byte, runes*2),
		SampleRate: rate,
	}
	if req.WantTimings && !omitTimings {
		res.Timings = evenTimings(req.Text, runes, rate)
	}
	return res, nil
}

// evenTimings spreads the words of text evenly over the synthetic buffer.
func evenTimings(text string, runes, rate int) []types.TimedWord {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	total := time.Duration(int64(runes) * int64(time.Second) / int64(rate))
	step := total / time.Duration(len(words))
	out := make([]types.TimedWord, len(words))
	for i, w := range words {
		out[i] = types.TimedWord{
			Word:  w,
			Start: time.Duration(i) * step,
			End:   time.Duration(i+1) * step,
		}
	}
	return out
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
	p.attempts = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
