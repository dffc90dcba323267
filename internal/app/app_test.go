package app_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talecast/internal/app"
	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/internal/launch"
	"github.com/MrWong99/talecast/internal/observe"
	"github.com/MrWong99/talecast/internal/registry"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/internal/resilience"
	"github.com/MrWong99/talecast/pkg/provider/llm"
	llmmock "github.com/MrWong99/talecast/pkg/provider/llm/mock"
	"github.com/MrWong99/talecast/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talecast/pkg/provider/tts/mock"
	"github.com/MrWong99/talecast/pkg/types"
)

const prose = "[SPEAKER:Mira]Who goes there?[/SPEAKER] The door creaked open."

// testConfig returns a minimal config with pre-synthesis enabled.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "mock"}},
		Voices:    config.VoicesConfig{NarratorVoiceID: "v-narr"},
		Synth:     config.SynthConfig{PreSynthesize: true},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	providers := &app.Providers{
		TTS: &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{{ID: "v-narr"}, {ID: "v-a"}, {ID: "v-b"}}},
	}
	opts = append([]app.Option{app.WithStore(roster.NewMemStore()), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func seed(t *testing.T, a *app.App, sessionID, name string) {
	t.Helper()
	if _, err := a.Store().CreateCharacter(context.Background(), sessionID, types.Character{Name: name, Role: types.RoleProtagonist}); err != nil {
		t.Fatalf("seed %q: %v", name, err)
	}
}

func TestNew_RequiresTTS(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("New without TTS provider returned nil error")
	}
}

func TestPipeline_LaunchReady(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	p := a.Pipeline()
	ctx := context.Background()

	sess, err := p.StartSession(ctx, "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.NarratorVoiceID != "v-narr" {
		t.Errorf("narrator = %q, want configured default", sess.NarratorVoiceID)
	}
	seed(t, a, sess.ID, "Mira")

	events := make(chan launch.Event, 64)
	res, err := p.Launch(ctx, sess.ID, launch.Scene{SceneID: "scene-1", Prose: prose}, events)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if res.Casting.Voices == nil || len(res.Cues) == 0 {
		t.Errorf("result = %+v", res)
	}
	if _, ok := a.Registry().Launch(sess.ID); ok {
		t.Error("ready sequence still holds a registry slot")
	}

	audio, ok := p.TakeAudio(sess.ID, "scene")
	if !ok || len(audio.Audio) == 0 || audio.SessionID != sess.ID {
		t.Fatalf("TakeAudio = %+v, %v", audio, ok)
	}
	if _, ok := p.TakeAudio(sess.ID, "scene"); ok {
		t.Error("audio handed out twice")
	}

	var ready bool
	for len(events) > 0 {
		if _, ok := (<-events).(launch.Ready); ok {
			ready = true
		}
	}
	if !ready {
		t.Error("no Ready event published")
	}
}

func TestPipeline_FailedLaunchIsRetryable(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	p := a.Pipeline()
	ctx := context.Background()
	sess, _ := p.StartSession(ctx, "v-narr")

	_, err := p.Launch(ctx, sess.ID, launch.Scene{SceneID: "scene-1", Prose: prose}, nil)
	var stageErr *launch.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != launch.StageVoices {
		t.Fatalf("Launch err = %v, want voices StageError", err)
	}
	statuses, state, err := p.Status(sess.ID)
	if err != nil || state != launch.StateFailed || statuses.Of(launch.StageVoices) != launch.StatusError {
		t.Fatalf("Status = %v %v %v", statuses, state, err)
	}

	seed(t, a, sess.ID, "Mira")
	if _, err := p.RetryStage(ctx, sess.ID, launch.StageVoices); err != nil {
		t.Fatalf("RetryStage: %v", err)
	}
	if _, _, err := p.Status(sess.ID); !errors.Is(err, app.ErrNoLaunch) {
		t.Errorf("Status after ready err = %v, want ErrNoLaunch", err)
	}
}

func TestPipeline_Errors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Voices.NarratorVoiceID = ""
	a := newApp(t, cfg)
	p := a.Pipeline()
	ctx := context.Background()

	if _, err := p.StartSession(ctx, ""); !errors.Is(err, app.ErrNoNarratorVoice) {
		t.Errorf("StartSession err = %v, want ErrNoNarratorVoice", err)
	}
	if _, err := p.Launch(ctx, "missing", launch.Scene{Prose: prose}, nil); !errors.Is(err, app.ErrUnknownSession) {
		t.Errorf("Launch err = %v, want ErrUnknownSession", err)
	}
	if _, err := p.RetryStage(ctx, "missing", launch.StageSfx); !errors.Is(err, app.ErrNoLaunch) {
		t.Errorf("RetryStage err = %v, want ErrNoLaunch", err)
	}
	if p.Cancel("missing") {
		t.Error("Cancel reported a sequence for an unknown session")
	}
	if p.EndSession("missing") {
		t.Error("EndSession reported an unknown session")
	}
}

func TestPipeline_SessionCapacity(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Registry.Sessions = config.LimitsConfig{Max: 1}
	a := newApp(t, cfg)
	p := a.Pipeline()

	if _, err := p.StartSession(context.Background(), ""); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	_, err := p.StartSession(context.Background(), "")
	var capErr *registry.CapacityExceededError
	if !errors.As(err, &capErr) || capErr.Map != registry.MapSessions {
		t.Errorf("err = %v, want sessions CapacityExceededError", err)
	}
}

func TestPipeline_CancelFailedSequence(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	p := a.Pipeline()
	ctx := context.Background()
	sess, _ := p.StartSession(ctx, "")
	_, _ = p.Launch(ctx, sess.ID, launch.Scene{SceneID: "scene-1", Prose: prose}, nil)

	if !p.Cancel(sess.ID) {
		t.Fatal("Cancel found no sequence")
	}
	if _, ok := a.Registry().Launch(sess.ID); ok {
		t.Error("cancelled sequence still registered")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cfg := testConfig()
	a := newApp(t, cfg, app.WithLogLevel(&level))

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Matching.Phonetic = true
	updated.Registry.Launches.Warn = 10
	a.ApplyConfig(config.Diff(cfg, updated))

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := a.Registry().Usage()[2].Warn; got != 10 {
		t.Errorf("launch warn = %d, want 10", got)
	}
}

func TestCheckers(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	for _, c := range a.Checkers() {
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("check %q: %v", c.Name, err)
		}
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterTTS("primary", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterTTS("backup", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLLM("model", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })

	cfg := testConfig()
	cfg.Providers = config.ProvidersConfig{
		TTS:          config.ProviderEntry{Name: "primary"},
		TTSFallbacks: []config.ProviderEntry{{Name: "backup"}},
		LLM:          config.ProviderEntry{Name: "model"},
	}
	p, err := app.BuildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := p.TTS.(*resilience.TTSFallback); !ok {
		t.Errorf("TTS = %T, want failover group", p.TTS)
	}
	if p.LLM == nil {
		t.Error("LLM not built")
	}

	cfg.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "missing"}}
	if _, err := app.BuildProviders(cfg, reg, testMetrics(t)); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestPipeline_PendingAudioFull(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Registry.PendingAudio = config.LimitsConfig{Max: 1}
	a := newApp(t, cfg)
	p := a.Pipeline()
	ctx := context.Background()

	first, _ := p.StartSession(ctx, "")
	seed(t, a, first.ID, "Mira")
	if _, err := p.Launch(ctx, first.ID, launch.Scene{SceneID: "scene-1", Prose: prose}, nil); err != nil {
		t.Fatalf("first Launch: %v", err)
	}

	second, _ := p.StartSession(ctx, "")
	seed(t, a, second.ID, "Mira")
	res, err := p.Launch(ctx, second.ID, launch.Scene{SceneID: "scene-1", Prose: prose}, nil)
	var capErr *registry.CapacityExceededError
	if !errors.As(err, &capErr) || capErr.Map != registry.MapPendingAudio {
		t.Fatalf("second Launch = %v, %v; want pending_audio CapacityExceededError", res, err)
	}
	var stageErr *launch.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != launch.StageVoices {
		t.Errorf("err = %v, want voices StageError", err)
	}
	if _, state, err := p.Status(second.ID); err != nil || state != launch.StateFailed {
		t.Errorf("second sequence state = %v, %v; want failed and retryable", state, err)
	}

	if _, ok := p.TakeAudio(first.ID, "scene"); !ok {
		t.Fatal("first session's audio missing")
	}
	if _, err := p.RetryStage(ctx, second.ID, launch.StageVoices); err != nil {
		t.Fatalf("RetryStage after room freed: %v", err)
	}
	if _, ok := p.TakeAudio(second.ID, "scene"); !ok {
		t.Error("second session's audio not published after retry")
	}
}
