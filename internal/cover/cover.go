// Package cover produces the cover reference for a scene.
//
// Image generation itself is an external collaborator. This package defines
// the [Provider] seam the launch sequence calls and ships [Placeholder], which
// returns a deterministic reference and, when a language model is configured,
// an art prompt an image service can render later.
package cover

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/MrWong99/talecast/pkg/provider/llm"
	"github.com/MrWong99/talecast/pkg/types"
)

// Request describes the scene a cover is wanted for.
type Request struct {
	SessionID  string
	SceneID    string
	Story      types.StoryContext
	Characters []types.Character

	// Excerpt is a short piece of the scene prose.
	Excerpt string
}

// Reference points at a cover image.
type Reference struct {
	// URI locates the image. Placeholder references use the
	// "placeholder://" scheme.
	URI string `json:"uri"`

	// Prompt is the art prompt the image was or should be made from.
	Prompt string `json:"prompt,omitempty"`

	// Placeholder is true when no real image exists yet.
	Placeholder bool `json:"placeholder"`
}

// Provider returns a cover for a scene.
type Provider interface {
	Cover(ctx context.Context, req Request) (Reference, error)
}

// Option configures a [Placeholder].
type Option func(*Placeholder)

// WithPromptWriter lets p write the art prompt. Prompt failures are logged and
// fall back to the template prompt.
func WithPromptWriter(p llm.Provider) Option {
	return func(ph *Placeholder) { ph.llm = p }
}

// Placeholder is a [Provider] that never renders an image.
type Placeholder struct {
	llm llm.Provider
}

var _ Provider = (*Placeholder)(nil)

// NewPlaceholder returns a Placeholder.
func NewPlaceholder(opts ...Option) *Placeholder {
	ph := &Placeholder{}
	for _, o := range opts {
		o(ph)
	}
	return ph
}

// Cover implements [Provider]. The URI depends only on the session, scene and
// genre, so repeated calls agree.
func (ph *Placeholder) Cover(ctx context.Context, req Request) (Reference, error) {
	if err := ctx.Err(); err != nil {
		return Reference{}, err
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s", req.SessionID, req.SceneID)
	genre := slug(req.Story.Genre)
	if genre == "" {
		genre = "story"
	}

	ref := Reference{
		URI:         fmt.Sprintf("placeholder://cover/%s/%016x", genre, h.Sum64()),
		Prompt:      TemplatePrompt(req),
		Placeholder: true,
	}
	if ph.llm != nil {
		prompt, err := ph.writePrompt(ctx, req)
		switch {
		case err != nil:
			slog.Warn("cover: prompt writer failed, using template", "session_id", req.SessionID, "err", err)
		case prompt != "":
			ref.Prompt = prompt
		}
	}
	return ref, nil
}

const promptSystem = `You write prompts for an illustrator. Describe one cover image for the scene in a single sentence of at most 40 words. No text or lettering in the image. Reply with the prompt only.`

func (ph *Placeholder) writePrompt(ctx context.Context, req Request) (string, error) {
	resp, err := ph.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: promptSystem,
		Messages:     []llm.Message{{Role: "user", Content: TemplatePrompt(req) + "\n\n" + req.Excerpt}},
		MaxTokens:    120,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// TemplatePrompt builds an art prompt from the story context and the
// prominent characters.
func TemplatePrompt(req Request) string {
	var parts []string
	if req.Story.Genre != "" {
		parts = append(parts, req.Story.Genre+" illustration")
	} else {
		parts = append(parts, "Story illustration")
	}
	if req.Story.Mood != "" {
		parts = append(parts, req.Story.Mood+" mood")
	}
	var names []string
	for _, c := range req.Characters {
		if c.IsNarrator || c.Role == types.RoleMinor {
			continue
		}
		names = append(names, c.Name)
	}
	if len(names) > 0 {
		parts = append(parts, "featuring "+strings.Join(names, ", "))
	}
	return strings.Join(parts, ", ")
}

func slug(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(s))
}
