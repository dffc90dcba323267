// Package launch drives the post-generation stages of a scene: voice casting,
// sound-effect detection, cover art and quality checks.
//
// A [Sequence] runs the stages strictly in order. A failing stage halts the
// sequence and keeps the statuses already achieved so that [Sequence.RetryStage]
// can resume at the failed stage without repeating earlier work. Cancellation
// is cooperative: [Sequence.Cancel] sets a flag that is checked between stages
// and between synthesized segments, and any stage result that arrives after
// the flag is set is discarded.
//
// Progress is published as [Event] values on an optional channel.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talecast/internal/cover"
	"github.com/MrWong99/talecast/internal/observe"
	"github.com/MrWong99/talecast/internal/qa"
	"github.com/MrWong99/talecast/internal/reconcile"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/internal/sfx"
	"github.com/MrWong99/talecast/internal/synth"
	"github.com/MrWong99/talecast/internal/tags"
	"github.com/MrWong99/talecast/internal/voice"
	"github.com/MrWong99/talecast/pkg/types"
)

// cancelEmitTimeout bounds how long Cancel waits to publish the Cancelled
// event on an idle sequence.
const cancelEmitTimeout = 5 * time.Second

// Scene is the upstream input of a sequence.
type Scene struct {
	SceneID string

	// Prose is the scene text. Without a DialogueMap it carries inline speaker
	// tags.
	Prose string

	// DialogueMap attributes spans of untagged Prose to speakers. When set,
	// Prose is treated as plain text.
	DialogueMap []types.DialogueMapEntry

	// Hints name speakers that the generator introduced in this scene.
	Hints []types.CharacterHint

	// Intro is optional narrator text played before the scene.
	Intro string

	Story types.StoryContext
}

// Deps holds the collaborators of a sequence. Scenes, Reconciler and Voices
// are required.
type Deps struct {
	Scenes     roster.SceneStore
	Reconciler *reconcile.Reconciler
	Voices     *voice.Registry

	// Synth enables pre-synthesis of the intro and scene. Nil disables it.
	Synth *synth.Synthesizer

	// Sfx defaults to the keyword detector.
	Sfx sfx.Detector

	// Cover defaults to the placeholder provider.
	Cover cover.Provider

	// QA defaults to the structural checks.
	QA qa.Checker

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Option configures a [Sequence].
type Option func(*Sequence)

// WithUpdates publishes progress events on ch. Sends block until received
// or the running context is done, so ch should be buffered or drained.
func WithUpdates(ch chan<- Event) Option {
	return func(s *Sequence) { s.updates = ch }
}

// WithID sets the sequence ID. Default: a random UUID.
func WithID(id string) Option {
	return func(s *Sequence) { s.id = id }
}

// WithParser replaces the default tag parser.
func WithParser(p *tags.Parser) Option {
	return func(s *Sequence) { s.parser = p }
}

// WithRequireTimings makes pre-synthesis fail when the TTS provider cannot
// return word timings.
func WithRequireTimings(v bool) Option {
	return func(s *Sequence) { s.requireTimings = v }
}

// WithAudioAdmission installs a check run before pre-synthesis with the
// names of the parts about to be rendered. An error fails the Voices stage
// before any provider call is made.
func WithAudioAdmission(check func(parts []string) error) Option {
	return func(s *Sequence) { s.admitAudio = check }
}

// Sequence is the launch state machine of one session. All exported methods
// are safe for concurrent use; Run and RetryStage are mutually exclusive.
type Sequence struct {
	id             string
	sessionID      string
	deps           Deps
	metrics        *observe.Metrics
	parser         *tags.Parser
	updates        chan<- Event
	requireTimings bool
	admitAudio     func(parts []string) error
	createdAt      time.Time

	busy      atomic.Bool
	cancelled atomic.Bool

	mu              sync.Mutex
	started         bool
	state           State
	statuses        Statuses
	scene           Scene
	narratorVoiceID string
	startedAt       time.Time

	// Stage outputs, committed only when a stage succeeds before cancellation.
	segments []types.Segment
	cast     *casting
	audio    []AudioPart
	cues     []sfx.Cue
	cover    cover.Reference
	report   qa.Report
	result   *Result

	// reuse keeps partial tracks of failed parts for the next attempt.
	reuse map[string]*synth.Track
}

type casting struct {
	stats      CastingStats
	characters []types.Character
}

// stageFunc runs a stage. The returned commit stores the stage output and is
// called with the sequence mutex held.
type stageFunc func(ctx context.Context) (commit func(), err error)

// New creates an idle sequence for sessionID.
func New(sessionID string, deps Deps, opts ...Option) *Sequence {
	s := &Sequence{
		sessionID: sessionID,
		deps:      deps,
		createdAt: time.Now(),
		reuse:     make(map[string]*synth.Track),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.parser == nil {
		s.parser = tags.New()
	}
	if s.deps.Sfx == nil {
		s.deps.Sfx = sfx.NewKeywordDetector(nil)
	}
	if s.deps.Cover == nil {
		s.deps.Cover = cover.NewPlaceholder()
	}
	if s.deps.QA == nil {
		s.deps.QA = qa.Structural{}
	}
	s.metrics = deps.Metrics
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ID returns the sequence ID.
func (s *Sequence) ID() string { return s.id }

// SessionID returns the session the sequence belongs to.
func (s *Sequence) SessionID() string { return s.sessionID }

// CreatedAt returns when the sequence was created.
func (s *Sequence) CreatedAt() time.Time { return s.createdAt }

// State returns the overall state.
func (s *Sequence) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Statuses returns a snapshot of every stage's status.
func (s *Sequence) Statuses() Statuses {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses
}

// Result returns the aggregated result once the sequence is ready, else nil.
func (s *Sequence) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Cancelled reports whether Cancel has been called.
func (s *Sequence) Cancelled() bool { return s.cancelled.Load() }

// Cancel stops the sequence. A running stage finishes its in-flight provider
// call but its result is discarded. Cancel on a ready or already cancelled
// sequence is a no-op.
func (s *Sequence) Cancel() {
	if s.State() == StateReady || !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	// A running sequence finalizes itself at its next check.
	s.finalizeIfIdle()
}

// finalizeIfIdle publishes Cancelled for a cancelled sequence that no Run or
// RetryStage call is driving.
func (s *Sequence) finalizeIfIdle() {
	if !s.cancelled.Load() || s.State().terminal() || !s.busy.CompareAndSwap(false, true) {
		return
	}
	defer s.busy.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), cancelEmitTimeout)
	defer cancel()
	s.finishCancelled(ctx)
}

// release drops the busy flag taken by Run or RetryStage. A Cancel that
// raced with the tail of the call is finalized here.
func (s *Sequence) release() {
	s.busy.Store(false)
	s.finalizeIfIdle()
}

// Run executes every stage in order for scene. It returns nil once the
// sequence is ready, a [*StageError] when a stage fails, or [ErrCancelled].
func (s *Sequence) Run(ctx context.Context, scene Scene, narratorVoiceID string) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.release()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.state = StateRunning
	s.scene = scene
	s.narratorVoiceID = narratorVoiceID
	s.startedAt = time.Now()
	s.mu.Unlock()

	slog.Info("launch: sequence started", "session_id", s.sessionID, "sequence_id", s.id, "scene_id", scene.SceneID)
	return s.advance(ctx, StageVoices)
}

// RetryStage re-runs a failed stage and continues with the stages after it.
// Stages that already succeeded are never repeated.
func (s *Sequence) RetryStage(ctx context.Context, id StageID) error {
	if !id.valid() {
		return fmt.Errorf("launch: retry: invalid stage %d", int(id))
	}
	if s.cancelled.Load() {
		return ErrCancelled
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.release()

	s.mu.Lock()
	status := s.statuses[id]
	if !s.started || status != StatusError {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, status)
	}
	s.state = StateRunning
	s.mu.Unlock()

	slog.Info("launch: retrying stage", "session_id", s.sessionID, "sequence_id", s.id, "stage", id)
	return s.advance(ctx, id)
}

// advance runs the stages from 'from' onwards. Callers hold the busy flag.
func (s *Sequence) advance(ctx context.Context, from StageID) error {
	for _, id := range Stages()[from:] {
		if s.cancelled.Load() {
			s.finishCancelled(ctx)
			return ErrCancelled
		}
		if s.Statuses().Of(id) == StatusSuccess {
			continue
		}

		s.transition(ctx, id, StatusInProgress, "")
		start := time.Now()
		sctx, span := observe.StartStageSpan(ctx, s.sessionID, id.String())
		commit, err := s.handler(id)(sctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		elapsed := time.Since(start)

		if s.cancelled.Load() {
			s.metrics.RecordStage(ctx, id.String(), "cancelled", elapsed)
			s.finishCancelled(ctx)
			return ErrCancelled
		}
		if err != nil {
			s.metrics.RecordStage(ctx, id.String(), StatusError.String(), elapsed)
			return s.fail(ctx, id, err)
		}

		s.mu.Lock()
		commit()
		s.mu.Unlock()
		s.metrics.RecordStage(ctx, id.String(), StatusSuccess.String(), elapsed)
		slog.Info("launch: stage completed", "session_id", s.sessionID, "stage", id, "duration", elapsed)
		s.transition(ctx, id, StatusSuccess, "")
	}

	s.mu.Lock()
	s.state = StateReady
	res := s.buildResult()
	s.result = res
	s.mu.Unlock()

	s.metrics.RecordLaunchOutcome(ctx, StateReady.String())
	slog.Info("launch: sequence ready", "session_id", s.sessionID, "sequence_id", s.id, "elapsed", res.Elapsed)
	s.emit(ctx, Ready{SessionID: s.sessionID, Result: res})
	return nil
}

func (s *Sequence) fail(ctx context.Context, id StageID, err error) error {
	serr := &StageError{SessionID: s.sessionID, Stage: id, Err: err}
	s.transition(ctx, id, StatusError, err.Error())

	s.mu.Lock()
	s.state = StateFailed
	statuses := s.statuses
	s.mu.Unlock()

	s.metrics.RecordLaunchOutcome(ctx, StateFailed.String())
	slog.Warn("launch: stage failed", "session_id", s.sessionID, "stage", id, "err", err)
	s.emit(ctx, Failed{SessionID: s.sessionID, FailedStage: id, Statuses: statuses, Err: serr})
	return serr
}

// finishCancelled moves the sequence to Cancelled once.
func (s *Sequence) finishCancelled(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateCancelled {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	statuses := s.statuses
	s.mu.Unlock()

	s.metrics.RecordLaunchOutcome(ctx, StateCancelled.String())
	slog.Info("launch: sequence cancelled", "session_id", s.sessionID, "sequence_id", s.id, "statuses", statuses)
	s.emit(ctx, Cancelled{SessionID: s.sessionID, Statuses: statuses})
}

func (s *Sequence) transition(ctx context.Context, id StageID, status StageStatus, msg string) {
	s.mu.Lock()
	prev := s.statuses[id]
	s.statuses[id] = status
	all := s.statuses
	s.mu.Unlock()

	s.emit(ctx, StageUpdate{SessionID: s.sessionID, Stage: id, Status: status, Previous: prev, All: all, Message: msg})
}

func (s *Sequence) emit(ctx context.Context, ev Event) {
	if s.updates == nil {
		return
	}
	select {
	case s.updates <- ev:
	case <-ctx.Done():
		slog.Warn("launch: event dropped", "session_id", s.sessionID, "event", fmt.Sprintf("%T", ev), "err", ctx.Err())
	}
}

// handler maps every stage to its implementation.
func (s *Sequence) handler(id StageID) stageFunc {
	switch id {
	case StageVoices:
		return s.runVoices
	case StageSfx:
		return s.runSfx
	case StageCover:
		return s.runCover
	case StageQa:
		return s.runQa
	}
	panic(fmt.Sprintf("launch: no handler for stage %s", id))
}

// buildResult assembles the Ready payload. Callers hold s.mu.
func (s *Sequence) buildResult() *Result {
	res := &Result{
		SessionID: s.sessionID,
		SceneID:   s.scene.SceneID,
		Cues:      s.cues,
		Cover:     s.cover,
		QA:        s.report,
		Audio:     s.audio,
		Elapsed:   time.Since(s.startedAt),
	}
	if s.cast != nil {
		res.Casting = s.cast.stats
	}
	return res
}

// input returns the scene and narrator voice under the mutex.
func (s *Sequence) input() (Scene, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene, s.narratorVoiceID
}

// ── Stage: voices ──────────────────────────────────────────────────────────

const (
	partIntro = "intro"
	partScene = "scene"
)

func (s *Sequence) runVoices(ctx context.Context) (func(), error) {
	scene, narrator := s.input()

	segs, format, err := s.segmentsOf(scene)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("launch: scene %q has no text", scene.SceneID)
	}

	rec := roster.SceneRecord{
		SessionID:   s.sessionID,
		SceneID:     scene.SceneID,
		ProseFormat: format,
		Prose:       scene.Prose,
		DialogueMap: scene.DialogueMap,
	}
	if err := s.deps.Scenes.SaveScene(ctx, rec); err != nil {
		return nil, fmt.Errorf("launch: save scene: %w", err)
	}

	res, err := s.deps.Reconciler.Reconcile(ctx, s.sessionID, segs, nil, scene.Hints)
	if res != nil && len(res.Created) > 0 {
		s.metrics.CharactersCreated.Add(ctx, int64(len(res.Created)))
	}
	if err != nil {
		var unresolved *reconcile.UnresolvedSpeakerError
		if errors.As(err, &unresolved) {
			for _, u := range unresolved.Speakers {
				s.metrics.UnresolvedSpeakers.Add(ctx, 1, metricReason(string(u.Reason)))
			}
		}
		return nil, err
	}

	order := speakerOrder(segs)
	chars := make([]types.Character, 0, len(order))
	for _, name := range order {
		chars = append(chars, res.Mapping[name])
	}
	assigned, err := s.deps.Voices.Assign(ctx, s.sessionID, chars, narrator, scene.Story)
	if err != nil {
		return nil, err
	}

	stats := CastingStats{
		Speakers:        len(order),
		Voices:          make(map[string]string, len(order)),
		NarratorVoiceID: narrator,
	}
	for _, name := range order {
		stats.Voices[name] = assigned[res.Mapping[name].ID]
	}
	for _, c := range res.Created {
		stats.Created = append(stats.Created, c.Name)
	}

	audio, err := s.presynthesize(ctx, scene, segs, stats.Voices, narrator)
	if err != nil {
		return nil, err
	}

	return func() {
		s.segments = segs
		s.cast = &casting{stats: stats, characters: chars}
		s.audio = audio
	}, nil
}

// segmentsOf derives the scene's segments and the format they came from.
func (s *Sequence) segmentsOf(scene Scene) ([]types.Segment, roster.ProseFormat, error) {
	if len(scene.DialogueMap) > 0 {
		segs, err := synth.Segments(synth.OffsetBased{Text: scene.Prose, Entries: scene.DialogueMap})
		return segs, roster.ProseOffsets, err
	}
	parsed, err := s.parser.Parse(scene.Prose)
	if err != nil {
		return nil, roster.ProseTagged, err
	}
	return parsed.Segments, roster.ProseTagged, nil
}

// presynthesize renders the intro and scene concurrently. AudioReady events
// go out in part order. Partial tracks of failed parts are kept for reuse.
func (s *Sequence) presynthesize(ctx context.Context, scene Scene, segs []types.Segment, voices map[string]string, narrator string) ([]AudioPart, error) {
	if s.deps.Synth == nil {
		return nil, nil
	}

	s.mu.Lock()
	reuse := make(map[string]*synth.Track, len(s.reuse))
	for k, v := range s.reuse {
		reuse[k] = v
	}
	s.mu.Unlock()

	opts := func(part string) synth.Options {
		return synth.Options{
			RequireTimings: s.requireTimings,
			Story:          scene.Story,
			Reuse:          reuse[part],
			Cancelled:      s.cancelled.Load,
		}
	}

	var parts []synth.Part
	if intro := strings.TrimSpace(scene.Intro); intro != "" {
		parts = append(parts, synth.Part{
			Name:            partIntro,
			Source:          synth.TagBased{Segments: []types.Segment{{Speaker: types.NarratorSpeaker, Text: intro, Type: types.SegmentNarrator}}},
			NarratorVoiceID: narrator,
			Options:         opts(partIntro),
		})
	}
	parts = append(parts, synth.Part{
		Name:            partScene,
		Source:          synth.TagBased{Segments: segs},
		Voices:          voices,
		NarratorVoiceID: narrator,
		Options:         opts(partScene),
	})

	if s.admitAudio != nil {
		names := make([]string, len(parts))
		for i, p := range parts {
			names[i] = p.Name
		}
		if err := s.admitAudio(names); err != nil {
			return nil, fmt.Errorf("launch: admit audio: %w", err)
		}
	}

	results, err := s.deps.Synth.SynthesizeParts(ctx, parts, func(r synth.PartResult) {
		if r.Err != nil || s.cancelled.Load() {
			return
		}
		s.emit(ctx, AudioReady{SessionID: s.sessionID, Part: r.Name, Track: r.Track})
	})

	s.mu.Lock()
	for _, r := range results {
		switch {
		case r.Err == nil:
			delete(s.reuse, r.Name)
		case r.Track != nil:
			s.reuse[r.Name] = r.Track
		}
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([]AudioPart, len(results))
	for i, r := range results {
		out[i] = AudioPart{Name: r.Name, Track: r.Track}
	}
	return out, nil
}

func metricReason(reason string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("reason", reason))
}

// speakerOrder lists distinct non-narrator speakers by first appearance.
func speakerOrder(segs []types.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range segs {
		if seg.IsNarrator() || seen[seg.Speaker] {
			continue
		}
		seen[seg.Speaker] = true
		out = append(out, seg.Speaker)
	}
	return out
}

// ── Stage: sfx ─────────────────────────────────────────────────────────────

func (s *Sequence) runSfx(ctx context.Context) (func(), error) {
	s.mu.Lock()
	segs := s.segments
	s.mu.Unlock()

	cues, err := s.deps.Sfx.Detect(ctx, segs)
	if err != nil {
		return nil, err
	}
	return func() { s.cues = cues }, nil
}

// ── Stage: cover ───────────────────────────────────────────────────────────

// excerptRunes bounds the scene text handed to the cover provider.
const excerptRunes = 280

func (s *Sequence) runCover(ctx context.Context) (func(), error) {
	scene, _ := s.input()
	s.mu.Lock()
	segs := s.segments
	var chars []types.Character
	if s.cast != nil {
		chars = s.cast.characters
	}
	s.mu.Unlock()

	ref, err := s.deps.Cover.Cover(ctx, cover.Request{
		SessionID:  s.sessionID,
		SceneID:    scene.SceneID,
		Story:      scene.Story,
		Characters: chars,
		Excerpt:    excerpt(segs, excerptRunes),
	})
	if err != nil {
		return nil, err
	}
	return func() { s.cover = ref }, nil
}

func excerpt(segs []types.Segment, limit int) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteString(seg.Text)
	}
	r := []rune(strings.TrimSpace(b.String()))
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}

// ── Stage: qa ──────────────────────────────────────────────────────────────

func (s *Sequence) runQa(ctx context.Context) (func(), error) {
	scene, narrator := s.input()
	s.mu.Lock()
	in := qa.Input{
		SessionID:       s.sessionID,
		Segments:        s.segments,
		NarratorVoiceID: narrator,
		Story:           scene.Story,
	}
	if s.cast != nil {
		in.Voices = s.cast.stats.Voices
	}
	for _, p := range s.audio {
		in.Tracks = append(in.Tracks, p.Track)
	}
	s.mu.Unlock()

	report, err := s.deps.QA.Check(ctx, in)
	if err != nil {
		return nil, err
	}
	for _, f := range report.Findings {
		slog.Debug("launch: qa finding", "session_id", s.sessionID, "finding", f.String())
	}
	if !report.Passed() {
		return nil, fmt.Errorf("%w: %s", ErrQAFailed, report.Summary())
	}
	return func() { s.report = report }, nil
}
