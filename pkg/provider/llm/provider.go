// Package llm defines the Provider interface for Large Language Model backends.
//
// The pipeline uses an LLM for three optional, best-effort jobs: spotting
// sound-effect cues in prose, reviewing a finished scene for content issues,
// and writing cover-art prompts. None of them needs streaming or tool calls,
// so the interface is a single blocking completion.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// JSONInstruction is appended to the system prompt by backends that have no
// native JSON response mode.
const JSONInstruction = "Respond with a single JSON object and nothing else."

// ErrEmptyConversation is returned for requests without messages.
var ErrEmptyConversation = errors.New("llm: request has no messages")

// Message is one turn of the conversation sent to the model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to answer.
type CompletionRequest struct {
	// SystemPrompt is prepended as a "system" message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation. At least one is required.
	Messages []Message

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// JSON asks the backend for a JSON object response. Backends without a
	// JSON mode ignore it; callers must still validate the output.
	JSON bool
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full response. It returns promptly
	// with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Transcript returns the messages to send, with the system prompt first.
// When inlineJSON is set and the request asks for JSON, [JSONInstruction] is
// folded into the system prompt. Unknown roles are rejected.
func (r CompletionRequest) Transcript(inlineJSON bool) ([]Message, error) {
	if len(r.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	system := r.SystemPrompt
	if inlineJSON && r.JSON {
		system = strings.TrimSpace(system + "\n" + JSONInstruction)
	}

	out := make([]Message, 0, len(r.Messages)+1)
	if system != "" {
		out = append(out, Message{Role: RoleSystem, Content: system})
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("llm: message %d: unknown role %q", i, m.Role)
		}
		out = append(out, m)
	}
	return out, nil
}

// UserPrompt is shorthand for a request holding one user message.
func UserPrompt(system, user string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: user}},
	}
}

// DecodeJSON unmarshals a model reply into v. Markdown code fences that some
// models wrap around JSON output are stripped first.
func DecodeJSON(content string, v any) error {
	if err := json.Unmarshal([]byte(stripMarkdown(content)), v); err != nil {
		return fmt.Errorf("llm: decode json reply: %w", err)
	}
	return nil
}

// stripMarkdown removes optional ```json ... ``` fences.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
