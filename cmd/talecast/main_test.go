package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/internal/tags"
	ttsmock "github.com/MrWong99/talecast/pkg/provider/tts/mock"
	"github.com/MrWong99/talecast/pkg/types"
)

func init() {
	color.NoColor = true
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderTable(&buf, []string{"ID", "Count"}, [][]string{{"a", "1"}, {"long-id"}}, 1)
	out := buf.String()
	for _, want := range []string{"ID", "Count", "long-id", "╭"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderTable(&buf, nil, [][]string{{"x"}})
	if buf.Len() != 0 {
		t.Errorf("headerless table rendered %q", buf.String())
	}
}

func TestPrintSegments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	prose := `The wind rose. [SPEAKER:Mira|whispering]Who's there?[/SPEAKER] Nobody answered.`
	if err := printSegments(&buf, prose, 0); err != nil {
		t.Fatalf("printSegments: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Mira (whispering)", `"Who's there?"`, "narrator", "3 segments, 1 speakers"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSegments_Imbalanced(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := printSegments(&buf, "[SPEAKER:Mira]Who goes there?", 0)
	var imbalance *tags.TagImbalanceError
	if !errors.As(err, &imbalance) {
		t.Fatalf("err = %v, want TagImbalanceError", err)
	}
	if !strings.Contains(buf.String(), "✗") {
		t.Errorf("issues not printed: %q", buf.String())
	}
}

func TestParseCommand_Stdin(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("[SPEAKER:Bren]Run![/SPEAKER] They ran."))
	cmd.SetArgs([]string{"parse", "--strip"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Run! They ran." {
		t.Errorf("stripped = %q", got)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{
		{ID: "v-narr", Name: "Deep", Provider: "mock"},
		{ID: "v-1", Name: "Bright", Provider: "mock", Metadata: map[string]string{"gender": "female", "age": "young"}},
	}}
	vc := config.VoicesConfig{NarratorVoiceID: "v-narr", Pins: map[string]string{"Mira": "v-1"}}

	var buf bytes.Buffer
	if err := listVoices(context.Background(), &buf, p, vc); err != nil {
		t.Fatalf("listVoices: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"(narrator)", "Mira", "age=young gender=female", "2 voices"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sc   config.StoreConfig
		want string
	}{
		{name: "memory", sc: config.StoreConfig{Backend: config.StoreMemory}, want: "nothing to migrate"},
		{name: "sqlite", sc: config.StoreConfig{Backend: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "roster.db")}, want: "sqlite schema is up to date"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := migrate(context.Background(), &buf, tc.sc); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("output = %q, want %q", buf.String(), tc.want)
			}
		})
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.Names()
	if got := strings.Join(names["tts"], ","); got != "elevenlabs,google,openai" {
		t.Errorf("tts names = %s", got)
	}
	if !slices.Contains(names["llm"], "openai") || !slices.Contains(names["llm"], "ollama") {
		t.Errorf("llm names = %v", names["llm"])
	}

	for _, name := range []string{"elevenlabs", "openai"} {
		if _, err := reg.CreateTTS(config.ProviderEntry{Name: name, APIKey: "test-key"}); err != nil {
			t.Errorf("CreateTTS(%q): %v", name, err)
		}
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "test-key", Model: "gpt-4o-mini"}); err != nil {
		t.Errorf("CreateLLM(openai): %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown provider err = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		var lvl slog.LevelVar
		newLogger(tc.level, &lvl)
		if lvl.Level() != tc.want {
			t.Errorf("newLogger(%q) level = %v, want %v", tc.level, lvl.Level(), tc.want)
		}
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "en-GB", "rate": 24000}
	if got := optString(opts, "language"); got != "en-GB" {
		t.Errorf("language = %q", got)
	}
	if got := optString(opts, "rate"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("nil map = %q, want empty", got)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.TTS = config.ProviderEntry{Name: "elevenlabs", Model: "eleven_multilingual_v2"}
	config.ApplyDefaults(cfg)

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()
	if !strings.Contains(out, "elevenlabs / ele…") {
		t.Errorf("long provider not truncated:\n%s", out)
	}
	if !strings.Contains(out, "(not configured)") {
		t.Errorf("missing LLM placeholder:\n%s", out)
	}
}
