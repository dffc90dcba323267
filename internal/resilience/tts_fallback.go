package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/talecast/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] over a [Failover] of TTS backends.
//
// Voice IDs are provider specific, so a fallback backend only helps when it
// accepts the same IDs (for example a second region of the same vendor).
type TTSFallback struct {
	*Failover[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a failover group with primary as the preferred
// backend. A backend that cannot return word timings is tried past but not
// held against its breaker.
func NewTTSFallback(primaryName string, primary tts.Provider, cfg BreakerConfig) *TTSFallback {
	if cfg.IsFault == nil {
		cfg.IsFault = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, tts.ErrTimingsUnsupported)
		}
	}
	return &TTSFallback{NewFailover(primaryName, primary, cfg)}
}

// Synthesize renders req on the first healthy backend. When every backend
// fails, errors.Is still sees each backend's cause, including
// [tts.ErrTimingsUnsupported].
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	return Call(f.Failover, func(p tts.Provider) (*tts.Result, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the catalog of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Call(f.Failover, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
