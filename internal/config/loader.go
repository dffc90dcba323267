package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "openai", "google"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}

	// Features that need an LLM
	if cfg.Providers.LLM.Name == "" {
		if cfg.Launch.Sfx == SfxLLM {
			errs = append(errs, errors.New("launch.sfx \"llm\" requires providers.llm"))
		}
		if cfg.Launch.CoverPrompts {
			errs = append(errs, errors.New("launch.cover_prompts requires providers.llm"))
		}
		if cfg.Launch.LLMReview {
			errs = append(errs, errors.New("launch.llm_review requires providers.llm"))
		}
	}
	if cfg.Launch.Sfx != "" && !cfg.Launch.Sfx.IsValid() {
		errs = append(errs, fmt.Errorf("launch.sfx %q is invalid; valid values: keyword, llm", cfg.Launch.Sfx))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreMemory:
		slog.Warn("store.backend is memory; characters and voice assignments are lost on restart")
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Backend))
	}

	// Matching
	errs = append(errs, validateRatio("matching.token_overlap_threshold", cfg.Matching.TokenOverlapThreshold)...)
	errs = append(errs, validateRatio("matching.phonetic_threshold", cfg.Matching.PhoneticThreshold)...)

	// Voices
	if cfg.Voices.NarratorVoiceID == "" {
		slog.Warn("voices.narrator_voice_id is empty; every session must supply its own narrator voice")
	}
	if cfg.Voices.CatalogTTL < 0 {
		errs = append(errs, fmt.Errorf("voices.catalog_ttl %s must not be negative", cfg.Voices.CatalogTTL))
	}

	// Synth
	if cfg.Synth.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("synth.concurrency %d must not be negative", cfg.Synth.Concurrency))
	}
	if cfg.Synth.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("synth.retry_attempts %d must not be negative", cfg.Synth.RetryAttempts))
	}
	if cfg.Synth.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("synth.retry_backoff %s must not be negative", cfg.Synth.RetryBackoff))
	}

	// Registry
	for name, l := range map[string]LimitsConfig{
		"sessions":      cfg.Registry.Sessions,
		"pending_audio": cfg.Registry.PendingAudio,
		"launches":      cfg.Registry.Launches,
	} {
		prefix := "registry." + name
		if l.Max < 0 {
			errs = append(errs, fmt.Errorf("%s.max %d must not be negative", prefix, l.Max))
		}
		if l.TTL < 0 {
			errs = append(errs, fmt.Errorf("%s.ttl %s must not be negative", prefix, l.TTL))
		}
		if l.Warn < 0 || (l.Max > 0 && l.Warn > l.Max) {
			errs = append(errs, fmt.Errorf("%s.warn %d must be between 0 and max", prefix, l.Warn))
		}
	}
	if cfg.Registry.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("registry.sweep_interval %s must not be negative", cfg.Registry.SweepInterval))
	}

	return errors.Join(errs...)
}

// validateRatio rejects values outside [0, 1]. Zero means "use the default".
func validateRatio(field string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not in the
// known list for the given provider kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it may be registered at runtime",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
