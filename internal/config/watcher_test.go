package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/talecast/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  tts:
    name: elevenlabs
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  tts:
    name: elevenlabs
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and bumps the mtime past any previous write so
// change detection does not depend on filesystem timestamp resolution.
func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "talecast.yaml")
	writeFile(t, path, watcherValidYAML, time.Now())

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "talecast.yaml")
	writeFile(t, path, watcherInvalidYAML, time.Now())

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

const watcherCommentedYAML = `
# narrator settings live under voices
server:
  log_level: info
providers:
  tts:
    name: elevenlabs
`

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "talecast.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, watcherValidYAML, base)

	var diffs []config.ConfigDiff
	w, err := config.NewWatcher(path, func(d config.ConfigDiff) { diffs = append(diffs, d) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	initial := w.Current()

	steps := []struct {
		name    string
		content string
		applied bool
		level   config.LogLevel
	}{
		{name: "touched but identical", content: watcherValidYAML, level: config.LogInfo},
		{name: "invalid keeps previous", content: watcherInvalidYAML, level: config.LogInfo},
		{name: "comment only", content: watcherCommentedYAML, level: config.LogInfo},
		{name: "level change", content: watcherUpdatedYAML, applied: true, level: config.LogDebug},
	}
	for i, step := range steps {
		writeFile(t, path, step.content, base.Add(time.Duration(i+1)*time.Second))
		d, applied := w.Check()
		if applied != step.applied {
			t.Fatalf("%s: applied = %v, want %v", step.name, applied, step.applied)
		}
		if got := w.Current().Server.LogLevel; got != step.level {
			t.Fatalf("%s: current log level = %q, want %q", step.name, got, step.level)
		}
		if applied && (!d.LogLevelChanged || d.NewLogLevel != config.LogDebug) {
			t.Errorf("%s: diff = %+v", step.name, d)
		}
	}

	if len(diffs) != 1 {
		t.Fatalf("callback calls = %d, want 1", len(diffs))
	}
	if w.Current() == initial {
		t.Error("Current still returns the initial config")
	}
}

func TestWatcher_StartPolls(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "talecast.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, watcherValidYAML, base)

	called := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff) {
		select {
		case called <- d:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeFile(t, path, watcherUpdatedYAML, base.Add(time.Second))
	select {
	case d := <-called:
		if d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	w.Stop()
	w.Stop()
}
