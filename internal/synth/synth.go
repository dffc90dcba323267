// Package synth turns scene segments into one narrated audio track.
//
// Each segment is resolved to a voice and a delivery style and sent to the
// TTS provider as its own call. Calls run with bounded concurrency and are
// retried individually; a failing segment never disturbs the buffers of the
// others. Results are slotted by index so the merged track is always in
// document order.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talecast/internal/resilience"
	"github.com/MrWong99/talecast/pkg/audio"
	"github.com/MrWong99/talecast/pkg/provider/tts"
	"github.com/MrWong99/talecast/pkg/types"
)

const (
	// DefaultConcurrency is the number of provider calls in flight per track.
	DefaultConcurrency = 2

	// DefaultRetryAttempts is the number of provider calls per segment.
	DefaultRetryAttempts = 3

	// DefaultRetryBackoff is the delay before the first per-segment retry.
	DefaultRetryBackoff = 250 * time.Millisecond
)

var (
	// ErrCancelled is returned when the caller's cancellation predicate fired.
	// Any audio produced after that point is discarded.
	ErrCancelled = errors.New("synth: cancelled")

	// ErrNoVoice is returned when a segment's speaker has no voice.
	ErrNoVoice = errors.New("synth: no voice for speaker")

	// ErrTimingsMissing is returned when timings were required but the
	// provider returned none.
	ErrTimingsMissing = errors.New("synth: provider returned no timings")
)

// ProviderError is the failure of one segment after all retries.
type ProviderError struct {
	Index   int
	Speaker string
	VoiceID string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("synth: segment %d (%s, voice %s): %v", e.Index, e.Speaker, e.VoiceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PartialError reports that some segments failed. The accompanying [Track]
// holds every successful segment.
type PartialError struct {
	Total  int
	Failed []*ProviderError
}

func (e *PartialError) Error() string {
	idx := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		idx[i] = fmt.Sprint(f.Index)
	}
	return fmt.Sprintf("synth: %d of %d segments failed (%s): %v", len(e.Failed), e.Total, strings.Join(idx, ", "), e.Failed[0].Err)
}

// Unwrap exposes every segment failure to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f
	}
	return out
}

// FailedIndexes returns the indexes of the failed segments.
func (e *PartialError) FailedIndexes() []int {
	out := make([]int, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f.Index
	}
	return out
}

// SegmentResult is the synthesized audio of one segment.
type SegmentResult struct {
	Segment    types.Segment
	VoiceID    string
	Style      tts.Style
	Audio      []byte
	SampleRate int
	Timings    []types.TimedWord

	// Done is false for segments that failed or were never attempted.
	Done bool
}

// Track is a synthesized scene.
type Track struct {
	// Audio is the merged mono 16-bit PCM. Nil for a partial track.
	Audio []byte

	// SampleRate of Audio.
	SampleRate int

	// Timings are word offsets into Audio.
	Timings []types.TimedWord

	// Segments holds the per-segment results in document order.
	Segments []SegmentResult
}

// Complete reports whether every segment was synthesized.
func (t *Track) Complete() bool {
	if t == nil {
		return false
	}
	for _, s := range t.Segments {
		if !s.Done {
			return false
		}
	}
	return true
}

// Duration is the playback length of the merged audio.
func (t *Track) Duration() time.Duration {
	if t == nil {
		return 0
	}
	return audio.Duration(t.Audio, t.SampleRate)
}

// Options tunes a single Synthesize call.
type Options struct {
	// RequireTimings fails the call when the provider cannot return word
	// timings.
	RequireTimings bool

	// Story supplies mood and genre for style derivation.
	Story types.StoryContext

	// Speed is passed to the provider (0 = provider default).
	Speed float64

	// Reuse is a previous, possibly partial, track for the same source.
	// Segments whose text, voice and style are unchanged are taken from it
	// instead of being synthesized again.
	Reuse *Track

	// Cancelled is polled between segments and after each provider call.
	Cancelled func() bool
}

func (o Options) cancelled() bool {
	return o.Cancelled != nil && o.Cancelled()
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithConcurrency bounds the provider calls in flight. Default: 2.
func WithConcurrency(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetry sets the per-segment attempt count and initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Synthesizer) {
		if attempts > 0 {
			s.retry.Attempts = attempts
		}
		if backoff > 0 {
			s.retry.InitialBackoff = backoff
		}
	}
}

// Synthesizer drives a TTS provider segment by segment.
type Synthesizer struct {
	provider    tts.Provider
	concurrency int
	retry       resilience.RetryConfig
}

// New returns a Synthesizer calling p.
func New(p tts.Provider, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider:    p,
		concurrency: DefaultConcurrency,
		retry: resilience.RetryConfig{
			Attempts:       DefaultRetryAttempts,
			InitialBackoff: DefaultRetryBackoff,
			MaxBackoff:     4 * DefaultRetryBackoff,
			Retryable:      retryable,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// retryable excludes failures another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, tts.ErrTimingsUnsupported) &&
		!errors.Is(err, ErrTimingsMissing) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Synthesize produces the track for src.
//
// voices maps speaker name → voice ID; narrator segments use narratorVoiceID.
// When some segments fail the returned error is a [*PartialError] and the
// returned track holds the successful segments without merged audio.
func (s *Synthesizer) Synthesize(ctx context.Context, src SegmentSource, voices map[string]string, narratorVoiceID string, opts Options) (*Track, error) {
	segs, err := Segments(src)
	if err != nil {
		return nil, err
	}

	results := make([]SegmentResult, len(segs))
	for i, seg := range segs {
		v := narratorVoiceID
		if !seg.IsNarrator() {
			v = voices[seg.Speaker]
		}
		if v == "" {
			return nil, fmt.Errorf("%w: segment %d speaker %q", ErrNoVoice, i, seg.Speaker)
		}
		results[i] = SegmentResult{Segment: seg, VoiceID: v, Style: styleFor(seg, opts)}
	}
	if opts.cancelled() {
		return nil, ErrCancelled
	}

	reused := reuse(results, opts)

	failures := make([]*ProviderError, len(segs))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i := range results {
		if results[i].Done {
			continue
		}
		g.Go(func() error {
			if opts.cancelled() {
				return nil
			}
			res, err := s.call(ctx, i, results[i], opts.RequireTimings)
			if opts.cancelled() {
				return nil
			}
			if err != nil {
				failures[i] = &ProviderError{Index: i, Speaker: results[i].Segment.Speaker, VoiceID: results[i].VoiceID, Err: err}
				return nil
			}
			results[i].Audio = res.Audio
			results[i].SampleRate = res.SampleRate
			results[i].Timings = res.Timings
			results[i].Done = true
			return nil
		})
	}
	_ = g.Wait()

	if opts.cancelled() {
		return nil, ErrCancelled
	}

	track := &Track{Segments: results}
	var failed []*ProviderError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		slog.Warn("synth: partial track", "segments", len(segs), "failed", len(failed), "reused", reused)
		return track, &PartialError{Total: len(segs), Failed: failed}
	}

	merge(track)
	slog.Debug("synth: track complete", "segments", len(segs), "reused", reused, "duration", track.Duration())
	return track, nil
}

// call synthesizes one segment with retries.
func (s *Synthesizer) call(ctx context.Context, index int, seg SegmentResult, wantTimings bool) (*tts.Result, error) {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		slog.Warn("synth: retrying segment", "index", index, "voice", seg.VoiceID, "attempt", attempt, "err", err)
	}
	return resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) (*tts.Result, error) {
		res, err := s.provider.Synthesize(ctx, tts.Request{
			Text:        seg.Segment.Text,
			VoiceID:     seg.VoiceID,
			Style:       seg.Style,
			WantTimings: wantTimings,
		})
		if err != nil {
			return nil, err
		}
		if wantTimings && len(res.Timings) == 0 && strings.TrimSpace(seg.Segment.Text) != "" {
			return nil, ErrTimingsMissing
		}
		return res, nil
	})
}

// reuse copies finished segments from opts.Reuse into results and returns how
// many were taken.
func reuse(results []SegmentResult, opts Options) int {
	if opts.Reuse == nil || len(opts.Reuse.Segments) != len(results) {
		return 0
	}
	n := 0
	for i, prev := range opts.Reuse.Segments {
		cur := results[i]
		if !prev.Done || prev.Segment != cur.Segment || prev.VoiceID != cur.VoiceID || prev.Style != cur.Style {
			continue
		}
		if opts.RequireTimings && len(prev.Timings) == 0 {
			continue
		}
		results[i] = prev
		n++
	}
	return n
}

// styleFor derives delivery style: the segment emotion wins over the scene
// mood, genre is carried as-is.
func styleFor(seg types.Segment, opts Options) tts.Style {
	st := tts.Style{Emotion: seg.Emotion, Genre: opts.Story.Genre, Speed: opts.Speed}
	if st.Emotion == "" {
		st.Mood = opts.Story.Mood
	}
	return st
}

// merge concatenates the segment audio at the first segment's sample rate and
// shifts word timings by the running offset.
func merge(t *Track) {
	if len(t.Segments) == 0 {
		return
	}
	rate := t.Segments[0].SampleRate
	bufs := make([]audio.Buffer, len(t.Segments))
	var offset time.Duration
	for i, s := range t.Segments {
		bufs[i] = audio.Buffer{PCM: s.Audio, SampleRate: s.SampleRate}
		for _, w := range s.Timings {
			t.Timings = append(t.Timings, types.TimedWord{Word: w.Word, Start: w.Start + offset, End: w.End + offset})
		}
		offset += audio.Duration(s.Audio, s.SampleRate)
	}
	t.Audio = audio.Concat(rate, bufs)
	t.SampleRate = rate
}
