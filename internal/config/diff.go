package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged is true when any fuzzy-match tuning changed.
	MatchingChanged bool
	NewMatching     MatchingConfig

	// WarnChanged is true when any registry warn threshold changed.
	WarnChanged bool
	NewWarn     [3]int // sessions, pending_audio, launches

	// RestartRequired lists changed fields that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MatchingChanged && !d.WarnChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching != new.Matching {
		d.MatchingChanged = true
		d.NewMatching = new.Matching
	}

	oldWarn := warnOf(old.Registry)
	newWarn := warnOf(new.Registry)
	if oldWarn != newWarn {
		d.WarnChanged = true
		d.NewWarn = newWarn
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || (old.Server.TLS == nil) != (new.Server.TLS == nil) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if !sameVoices(old.Voices, new.Voices) {
		d.RestartRequired = append(d.RestartRequired, "voices")
	}
	if old.Synth != new.Synth {
		d.RestartRequired = append(d.RestartRequired, "synth")
	}
	if old.Launch != new.Launch {
		d.RestartRequired = append(d.RestartRequired, "launch")
	}
	if !sameLimits(old.Registry, new.Registry) {
		d.RestartRequired = append(d.RestartRequired, "registry")
	}

	return d
}

func warnOf(r RegistryConfig) [3]int {
	return [3]int{r.Sessions.Warn, r.PendingAudio.Warn, r.Launches.Warn}
}

// sameLimits compares everything except the warn thresholds.
func sameLimits(a, b RegistryConfig) bool {
	strip := func(r RegistryConfig) RegistryConfig {
		r.Sessions.Warn, r.PendingAudio.Warn, r.Launches.Warn = 0, 0, 0
		return r
	}
	return strip(a) == strip(b)
}

func sameVoices(a, b VoicesConfig) bool {
	return a.NarratorVoiceID == b.NarratorVoiceID &&
		a.CatalogTTL == b.CatalogTTL &&
		maps.Equal(a.Pins, b.Pins)
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.TTS, b.TTS) || !sameEntry(a.LLM, b.LLM) {
		return false
	}
	if len(a.TTSFallbacks) != len(b.TTSFallbacks) || len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	for i := range a.TTSFallbacks {
		if !sameEntry(a.TTSFallbacks[i], b.TTSFallbacks[i]) {
			return false
		}
	}
	for i := range a.LLMFallbacks {
		if !sameEntry(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry ignores Options, which are not comparable.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
