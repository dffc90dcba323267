package cover_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/talecast/internal/cover"
	"github.com/MrWong99/talecast/pkg/provider/llm"
	llmmock "github.com/MrWong99/talecast/pkg/provider/llm/mock"
	"github.com/MrWong99/talecast/pkg/types"
)

func request() cover.Request {
	return cover.Request{
		SessionID: "s1",
		SceneID:   "scene-1",
		Story:     types.StoryContext{Genre: "Gothic Horror", Mood: "tense"},
		Characters: []types.Character{
			{Name: "Mira", Role: types.RoleProtagonist},
			{Name: "Guard", Role: types.RoleMinor},
			{Name: "Narrator", IsNarrator: true},
		},
		Excerpt: "The door creaked.",
	}
}

func TestPlaceholder_Deterministic(t *testing.T) {
	t.Parallel()

	ph := cover.NewPlaceholder()
	a, err := ph.Cover(context.Background(), request())
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	b, _ := ph.Cover(context.Background(), request())
	if a != b {
		t.Errorf("references differ: %+v vs %+v", a, b)
	}
	if !a.Placeholder || !strings.HasPrefix(a.URI, "placeholder://cover/gothic-horror/") {
		t.Errorf("reference = %+v", a)
	}
	if a.Prompt != "Gothic Horror illustration, tense mood, featuring Mira" {
		t.Errorf("prompt = %q", a.Prompt)
	}

	other := request()
	other.SceneID = "scene-2"
	c, _ := ph.Cover(context.Background(), other)
	if c.URI == a.URI {
		t.Error("different scenes share a URI")
	}
}

func TestPlaceholder_PromptWriter(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  A candlelit hallway, a door ajar.\n"}}
	ref, err := cover.NewPlaceholder(cover.WithPromptWriter(p)).Cover(context.Background(), request())
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if ref.Prompt != "A candlelit hallway, a door ajar." {
		t.Errorf("prompt = %q", ref.Prompt)
	}
	if msg := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(msg, "The door creaked.") {
		t.Errorf("user message = %q", msg)
	}
}

func TestPlaceholder_PromptWriterFailure(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("down")}
	ref, err := cover.NewPlaceholder(cover.WithPromptWriter(p)).Cover(context.Background(), request())
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if ref.Prompt != cover.TemplatePrompt(request()) {
		t.Errorf("prompt = %q, want template", ref.Prompt)
	}
}

func TestPlaceholder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cover.NewPlaceholder().Cover(ctx, request()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
