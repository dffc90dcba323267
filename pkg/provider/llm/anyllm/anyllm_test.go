package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talecast/pkg/provider/llm"
)

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{"empty backend", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unsupported provider", "fakecloud", "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		provider string
		opts     []anyllmlib.Option
	}{
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"OLLAMA", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(tt.provider, "some-model", tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != "some-model" || p.name != strings.ToLower(tt.provider) {
				t.Errorf("provider = %+v", p)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if len(got) != 9 || !slices.IsSorted(got) || !slices.Contains(got, "llamafile") {
		t.Errorf("Backends() = %v", got)
	}
}

// ── completionParams ──────────────────────────────────────────────────────────

func TestCompletionParams(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	req := llm.UserPrompt("You review stories.", "Review this.")
	req.Temperature = 0.2
	req.MaxTokens = 300

	params, err := p.completionParams(req)
	if err != nil {
		t.Fatalf("completionParams: %v", err)
	}
	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You review stories." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "Review this." {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestCompletionParams_JSONMode(t *testing.T) {
	p := &Provider{model: "llama3"}
	params, err := p.completionParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "cues?"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("completionParams: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if params.Messages[0].ContentString() != llm.JSONInstruction {
		t.Errorf("system = %q", params.Messages[0].ContentString())
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero values must leave provider defaults")
	}
}

func TestCompletionParams_Empty(t *testing.T) {
	p := &Provider{model: "llama3"}
	if _, err := p.completionParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("empty request accepted")
	}
}
