// Package app wires the talecast subsystems into a running application.
//
// New builds every component from the config: the roster store, speaker
// reconciler, voice registry, synthesizer, launch collaborators, and session
// registry. Run starts background work and Shutdown tears it down in reverse
// order. [App.Pipeline] is the session-facing entry point.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// WithRegistryOptions). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/internal/cover"
	"github.com/MrWong99/talecast/internal/health"
	"github.com/MrWong99/talecast/internal/launch"
	"github.com/MrWong99/talecast/internal/namematch"
	"github.com/MrWong99/talecast/internal/observe"
	"github.com/MrWong99/talecast/internal/qa"
	"github.com/MrWong99/talecast/internal/reconcile"
	"github.com/MrWong99/talecast/internal/registry"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/internal/sfx"
	"github.com/MrWong99/talecast/internal/synth"
	"github.com/MrWong99/talecast/internal/voice"
	"github.com/MrWong99/talecast/pkg/provider/llm"
	"github.com/MrWong99/talecast/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. LLM may be nil.
type Providers struct {
	TTS tts.Provider
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store      roster.Store
	metrics    *observe.Metrics
	reconciler *reconcile.Reconciler
	voices     *voice.Registry
	synth      *synth.Synthesizer
	deps       launch.Deps
	registry   *registry.Registry
	pipeline   *Pipeline

	regOpts  []registry.Option
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a roster store instead of opening one from config. The
// caller keeps ownership; Shutdown does not close it.
func WithStore(s roster.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistryOptions passes extra options to the session registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(a *App) { a.regOpts = append(a.regOpts, opts...) }
}

// WithLogLevel lets config reloads adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers.TTS is
// required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: a TTS provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Roster store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Reconciler ────────────────────────────────────────────────────
	a.reconciler = reconcile.New(a.store, reconcile.WithMatcher(newMatcher(cfg.Matching)))

	// ── 3. Voice registry ────────────────────────────────────────────────
	a.initVoices()

	// ── 4. Synthesizer ───────────────────────────────────────────────────
	if cfg.Synth.PreSynthesize {
		var sopts []synth.Option
		if cfg.Synth.Concurrency > 0 {
			sopts = append(sopts, synth.WithConcurrency(cfg.Synth.Concurrency))
		}
		if cfg.Synth.RetryAttempts > 0 {
			sopts = append(sopts, synth.WithRetry(cfg.Synth.RetryAttempts, cfg.Synth.RetryBackoff))
		}
		a.synth = synth.New(providers.TTS, sopts...)
	}

	// ── 5. Launch collaborators ──────────────────────────────────────────
	a.deps = launch.Deps{
		Scenes:     a.store,
		Reconciler: a.reconciler,
		Voices:     a.voices,
		Synth:      a.synth,
		Sfx:        a.sfxDetector(),
		Cover:      a.coverProvider(),
		QA:         a.qaChecker(),
		Metrics:    a.metrics,
	}

	// ── 6. Session registry ──────────────────────────────────────────────
	regOpts := append([]registry.Option{registry.WithMetrics(a.metrics)}, a.regOpts...)
	a.registry = registry.New(registryConfig(cfg.Registry), regOpts...)
	a.closers = append(a.closers, func() error {
		a.registry.Stop()
		return nil
	})

	a.pipeline = newPipeline(a)

	slog.Info("app: initialised",
		"store", cfg.Store.Backend,
		"pre_synthesize", cfg.Synth.PreSynthesize,
		"sfx", cfg.Launch.Sfx,
		"llm", providers.LLM != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Backend {
	case config.StoreSQLite:
		s, err := roster.OpenSQLite(ctx, a.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorePostgres:
		s, err := roster.NewPostgresStore(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = roster.NewMemStore()
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) initVoices() {
	var vopts []voice.Option
	if len(a.cfg.Voices.Pins) > 0 {
		vopts = append(vopts, voice.WithStrategy(voice.NewPinned(a.cfg.Voices.Pins, nil)))
	}
	if a.cfg.Voices.CatalogTTL > 0 {
		vopts = append(vopts, voice.WithCatalogTTL(a.cfg.Voices.CatalogTTL))
	}
	a.voices = voice.New(a.providers.TTS, a.store, vopts...)
}

func (a *App) sfxDetector() sfx.Detector {
	keyword := sfx.NewKeywordDetector(nil)
	if a.cfg.Launch.Sfx == config.SfxLLM && a.providers.LLM != nil {
		return sfx.NewLLMDetector(a.providers.LLM,
			sfx.WithFallback(keyword),
			sfx.WithEffects(keyword.Names()),
		)
	}
	return keyword
}

func (a *App) coverProvider() cover.Provider {
	if a.cfg.Launch.CoverPrompts && a.providers.LLM != nil {
		return cover.NewPlaceholder(cover.WithPromptWriter(a.providers.LLM))
	}
	return cover.NewPlaceholder()
}

func (a *App) qaChecker() qa.Checker {
	if a.cfg.Launch.LLMReview && a.providers.LLM != nil {
		return qa.Chain{qa.Structural{}, qa.NewLLMReviewer(a.providers.LLM)}
	}
	return qa.Structural{}
}

func newMatcher(m config.MatchingConfig) *namematch.Matcher {
	opts := []namematch.Option{namematch.WithTokenOverlapThreshold(m.TokenOverlapThreshold)}
	if m.Phonetic {
		opts = append(opts, namematch.WithPhonetic(m.PhoneticThreshold))
	}
	return namematch.New(opts...)
}

func registryConfig(rc config.RegistryConfig) registry.Config {
	limits := func(l config.LimitsConfig) registry.Limits {
		return registry.Limits{Max: l.Max, Warn: l.Warn, TTL: l.TTL}
	}
	return registry.Config{
		Sessions:      limits(rc.Sessions),
		PendingAudio:  limits(rc.PendingAudio),
		Launches:      limits(rc.Launches),
		SweepInterval: rc.SweepInterval,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the session-facing API.
func (a *App) Pipeline() *Pipeline { return a.pipeline }

// Store returns the roster store.
func (a *App) Store() roster.Store { return a.store }

// Registry returns the session registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Voices returns the voice registry.
func (a *App) Voices() *voice.Registry { return a.voices }

// Checkers returns the readiness checks for /readyz. Providers that sit in a
// failover group also report whether any backend circuit is still usable.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.Ping("store", a.store),
		{Name: "registry", Check: a.registry.Ready},
	}
	type checker interface {
		Check(context.Context) error
	}
	if c, ok := a.providers.TTS.(checker); ok {
		checks = append(checks, health.Checker{Name: "tts", Check: c.Check})
	}
	if c, ok := a.providers.LLM.(checker); ok {
		checks = append(checks, health.Checker{Name: "llm", Check: c.Check})
	}
	return checks
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the registry sweeper and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.registry.Start(ctx)
	slog.Info("app: running")
	<-ctx.Done()
	return nil
}

// ApplyConfig applies the hot-reloadable part of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.MatchingChanged {
		a.reconciler.SetMatcher(newMatcher(d.NewMatching))
		slog.Info("app: matching thresholds changed",
			"token_overlap", d.NewMatching.TokenOverlapThreshold,
			"phonetic", d.NewMatching.Phonetic,
		)
	}
	if d.WarnChanged {
		a.registry.SetWarnThresholds(d.NewWarn[0], d.NewWarn[1], d.NewWarn[2])
		slog.Info("app: registry warn thresholds changed", "warn", d.NewWarn)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels in-flight launch sequences and closes subsystems in
// reverse-init order. If ctx expires first, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		a.registry.CancelLaunches(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
