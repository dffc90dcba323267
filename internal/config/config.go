// Package config provides the configuration schema, loader, and provider registry
// for the talecast narration pipeline.
package config

import "time"

// LogLevel controls log verbosity for the talecast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects where characters, voice assignments, and scenes persist.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// SfxDetector selects how sound-effect cues are found in a scene.
type SfxDetector string

const (
	SfxKeyword SfxDetector = "keyword"
	SfxLLM     SfxDetector = "llm"
)

// IsValid reports whether d is a recognised detector.
func (d SfxDetector) IsValid() bool {
	return d == SfxKeyword || d == SfxLLM
}

// Config is the root configuration structure for talecast.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Matching  MatchingConfig  `yaml:"matching"`
	Voices    VoicesConfig    `yaml:"voices"`
	Synth     SynthConfig     `yaml:"synth"`
	Launch    LaunchConfig    `yaml:"launch"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP address for health probes and metrics.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig enables TLS on the HTTP listener.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig names the external services the pipeline talks to.
type ProvidersConfig struct {
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// LLM is optional. Without it the LLM-backed sfx detector, cover prompt
	// writer, and QA reviewer are unavailable.
	LLM ProviderEntry `yaml:"llm"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block for any provider.
type ProviderEntry struct {
	// Name selects the registered factory, e.g. "elevenlabs" or "openai".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options carries provider-specific settings not covered above.
	Options map[string]any `yaml:"options"`
}

// StoreConfig selects and configures the roster store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MatchingConfig tunes fuzzy speaker-name resolution. All fields are
// hot-reloadable.
type MatchingConfig struct {
	// TokenOverlapThreshold is the minimum token overlap ratio for a fuzzy
	// match. Zero selects 0.6.
	TokenOverlapThreshold float64 `yaml:"token_overlap_threshold"`

	// Phonetic enables the Jaro-Winkler fallback for near-miss spellings.
	Phonetic bool `yaml:"phonetic"`

	// PhoneticThreshold is the minimum similarity for a phonetic match.
	// Zero selects 0.88.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// VoicesConfig controls voice assignment.
type VoicesConfig struct {
	// NarratorVoiceID is used when a session starts without its own narrator
	// voice.
	NarratorVoiceID string `yaml:"narrator_voice_id"`

	// Pins maps character names to fixed voice IDs.
	Pins map[string]string `yaml:"pins"`

	// CatalogTTL is how long the provider's voice list is cached. Zero selects
	// ten minutes.
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
}

// SynthConfig tunes audio synthesis.
type SynthConfig struct {
	// Concurrency bounds parallel TTS requests per scene. Zero selects the
	// synthesizer default.
	Concurrency int `yaml:"concurrency"`

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`

	// RequireTimings fails synthesis when the provider returns no word timings.
	RequireTimings bool `yaml:"require_timings"`

	// PreSynthesize renders intro and scene audio during the voices stage.
	PreSynthesize bool `yaml:"pre_synthesize"`
}

// LaunchConfig selects the collaborators of the launch stages.
type LaunchConfig struct {
	Sfx SfxDetector `yaml:"sfx"`

	// CoverPrompts asks the LLM to write the cover prompt.
	CoverPrompts bool `yaml:"cover_prompts"`

	// LLMReview adds an LLM review after the structural QA checks.
	LLMReview bool `yaml:"llm_review"`
}

// RegistryConfig bounds the in-memory session maps.
type RegistryConfig struct {
	Sessions     LimitsConfig `yaml:"sessions"`
	PendingAudio LimitsConfig `yaml:"pending_audio"`
	Launches     LimitsConfig `yaml:"launches"`

	// SweepInterval is how often expired entries are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsConfig bounds a single map. Zero fields select the registry defaults.
type LimitsConfig struct {
	Max int           `yaml:"max"`
	TTL time.Duration `yaml:"ttl"`

	// Warn is hot-reloadable.
	Warn int `yaml:"warn"`
}

const (
	defaultListenAddr            = ":8080"
	defaultTokenOverlapThreshold = 0.6
	defaultPhoneticThreshold     = 0.88
)

// ApplyDefaults fills zero fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Matching.TokenOverlapThreshold == 0 {
		cfg.Matching.TokenOverlapThreshold = defaultTokenOverlapThreshold
	}
	if cfg.Matching.PhoneticThreshold == 0 {
		cfg.Matching.PhoneticThreshold = defaultPhoneticThreshold
	}
	if cfg.Launch.Sfx == "" {
		cfg.Launch.Sfx = SfxKeyword
	}
}
