package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talecast/internal/launch"
	"github.com/MrWong99/talecast/internal/observe"
	"github.com/MrWong99/talecast/internal/registry"
)

var (
	// ErrUnknownSession is returned for session IDs the registry does not hold.
	ErrUnknownSession = errors.New("app: unknown session")

	// ErrNoLaunch is returned when a session has no launch sequence to act on.
	ErrNoLaunch = errors.New("app: no launch sequence for session")

	// ErrNoNarratorVoice is returned when neither the caller nor the config
	// names a narrator voice.
	ErrNoNarratorVoice = errors.New("app: no narrator voice")
)

// Pipeline is the session-facing API: it admits sessions, runs their launch
// sequences under the registry's bounds, and hands out synthesized audio.
// All methods are safe for concurrent use.
type Pipeline struct {
	app *App
}

func newPipeline(a *App) *Pipeline {
	return &Pipeline{app: a}
}

// StartSession admits a new session. An empty narratorVoiceID selects the
// configured default.
func (p *Pipeline) StartSession(ctx context.Context, narratorVoiceID string) (registry.Session, error) {
	if narratorVoiceID == "" {
		narratorVoiceID = p.app.cfg.Voices.NarratorVoiceID
	}
	if narratorVoiceID == "" {
		return registry.Session{}, ErrNoNarratorVoice
	}
	s := registry.Session{
		ID:              uuid.NewString(),
		StartedAt:       time.Now().UTC(),
		NarratorVoiceID: narratorVoiceID,
	}
	if err := p.app.registry.AddSession(s); err != nil {
		return registry.Session{}, err
	}
	observe.Logger(ctx).InfoContext(ctx, "app: session started", "session_id", s.ID, "narrator_voice_id", narratorVoiceID)
	return s, nil
}

// EndSession removes a session and cancels its launch sequence. It reports
// whether the session existed.
func (p *Pipeline) EndSession(sessionID string) bool {
	ok := p.app.registry.RemoveSession(sessionID)
	if ok {
		slog.Info("app: session ended", "session_id", sessionID)
	}
	return ok
}

// Launch runs a new launch sequence for scene and blocks until it settles.
// Progress events go to updates when it is non-nil. A previous sequence of
// the same session is cancelled.
//
// A failed sequence stays registered so [Pipeline.RetryStage] can resume it.
// Pre-synthesis only starts when the pending audio map has room for every
// part; otherwise the Voices stage fails with the capacity error.
func (p *Pipeline) Launch(ctx context.Context, sessionID string, scene launch.Scene, updates chan<- launch.Event) (*launch.Result, error) {
	sess, ok := p.app.registry.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	opts := []launch.Option{
		launch.WithRequireTimings(p.app.cfg.Synth.RequireTimings),
		launch.WithAudioAdmission(func(parts []string) error {
			keys := make([]string, len(parts))
			for i, part := range parts {
				keys[i] = audioKey(sessionID, part)
			}
			return p.app.registry.CanAdmitPendingAudio(keys...)
		}),
	}
	if updates != nil {
		opts = append(opts, launch.WithUpdates(updates))
	}
	seq := launch.New(sessionID, p.app.deps, opts...)
	if err := p.app.registry.StartLaunch(seq); err != nil {
		return nil, err
	}

	err := seq.Run(ctx, scene, sess.NarratorVoiceID)
	return p.settle(ctx, seq, err)
}

// RetryStage resumes the session's failed sequence from stage.
func (p *Pipeline) RetryStage(ctx context.Context, sessionID string, stage launch.StageID) (*launch.Result, error) {
	seq, err := p.sequence(sessionID)
	if err != nil {
		return nil, err
	}
	err = seq.RetryStage(ctx, stage)
	return p.settle(ctx, seq, err)
}

// Cancel cancels the session's launch sequence. It reports whether there was
// one.
func (p *Pipeline) Cancel(sessionID string) bool {
	seq, err := p.sequence(sessionID)
	if err != nil {
		return false
	}
	seq.Cancel()
	p.app.registry.FinishLaunch(seq)
	return true
}

// Status returns the stage statuses and state of the session's sequence.
func (p *Pipeline) Status(sessionID string) (launch.Statuses, launch.State, error) {
	seq, err := p.sequence(sessionID)
	if err != nil {
		return launch.Statuses{}, 0, err
	}
	return seq.Statuses(), seq.State(), nil
}

// TakeAudio hands out a synthesized part once. Parts become available when a
// sequence with pre-synthesis reaches Ready.
func (p *Pipeline) TakeAudio(sessionID, part string) (registry.PendingAudio, bool) {
	return p.app.registry.TakePendingAudio(audioKey(sessionID, part))
}

func (p *Pipeline) sequence(sessionID string) (*launch.Sequence, error) {
	l, ok := p.app.registry.Launch(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLaunch, sessionID)
	}
	seq, ok := l.(*launch.Sequence)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLaunch, sessionID)
	}
	return seq, nil
}

// settle releases the registry slot of a finished sequence and publishes its
// audio. Failed sequences keep their slot until retried, cancelled, or swept.
// When the audio cannot be stored the Ready result is returned together with
// the capacity error, so the caller still holds the rendered parts.
func (p *Pipeline) settle(ctx context.Context, seq *launch.Sequence, err error) (*launch.Result, error) {
	switch seq.State() {
	case launch.StateReady:
		p.app.registry.FinishLaunch(seq)
		res := seq.Result()
		if err := p.publishAudio(ctx, res); err != nil {
			return res, err
		}
		return res, nil
	case launch.StateCancelled:
		p.app.registry.FinishLaunch(seq)
		if err == nil {
			err = launch.ErrCancelled
		}
		return nil, err
	default:
		return nil, err
	}
}

func (p *Pipeline) publishAudio(ctx context.Context, res *launch.Result) error {
	items := make(map[string]registry.PendingAudio, len(res.Audio))
	for _, part := range res.Audio {
		if part.Track == nil || part.Track.Audio == nil {
			continue
		}
		items[audioKey(res.SessionID, part.Name)] = registry.PendingAudio{
			SessionID:  res.SessionID,
			Part:       part.Name,
			Audio:      part.Track.Audio,
			SampleRate: part.Track.SampleRate,
		}
	}
	if len(items) == 0 {
		return nil
	}
	if err := p.app.registry.PutPendingAudioAll(items); err != nil {
		observe.Logger(ctx).ErrorContext(ctx, "app: pending audio rejected", "session_id", res.SessionID, "parts", len(items), "err", err)
		return fmt.Errorf("app: publish audio: %w", err)
	}
	return nil
}

func audioKey(sessionID, part string) string {
	return sessionID + "/" + part
}
