package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/talecast/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "elevenlabs"}},
		Voices:    config.VoicesConfig{Pins: map[string]string{"Mira": "v-a"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, updated := baseConfig(), baseConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Matching.Phonetic = true
	updated.Registry.Launches.Warn = 10

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.MatchingChanged || !d.NewMatching.Phonetic {
		t.Errorf("matching diff = %v %+v", d.MatchingChanged, d.NewMatching)
	}
	if !d.WarnChanged || d.NewWarn != [3]int{0, 0, 10} {
		t.Errorf("warn diff = %v %v", d.WarnChanged, d.NewWarn)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required for hot-reloadable fields: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, updated := baseConfig(), baseConfig()
	updated.Providers.TTS.Model = "turbo"
	updated.Store.Backend = config.StoreSQLite
	updated.Voices.Pins["Mira"] = "v-b"
	updated.Registry.Sessions.Max = 10

	d := config.Diff(old, updated)
	for _, section := range []string{"providers", "store", "voices", "registry"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, section)
		}
	}
	if d.WarnChanged {
		t.Error("max change reported as warn change")
	}
}
