// Package types defines the shared value types used across all Talecast packages.
//
// These types form the lingua franca between the tag parser, the speaker
// reconciler, the voice registry, the synthesizer and the launch sequence.
// Each package defines its own domain types; cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// NarratorSpeaker is the speaker name attached to every segment that is not
// inside a speaker tag.
const NarratorSpeaker = "narrator"

// Role classifies a character's weight in the story. Voice strategies use it to
// give the most prominent characters first pick of the catalogue.
type Role string

const (
	RoleProtagonist Role = "protagonist"
	RoleSupporting  Role = "supporting"
	RoleMinor       Role = "minor"
	RoleNarrator    Role = "narrator"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleProtagonist, RoleSupporting, RoleMinor, RoleNarrator:
		return true
	}
	return false
}

// Rank orders roles by prominence, lowest first.
func (r Role) Rank() int {
	switch r {
	case RoleProtagonist:
		return 0
	case RoleSupporting:
		return 1
	case RoleMinor:
		return 2
	default:
		return 3
	}
}

// Character is a member of a session's cast.
//
// Characters are never deleted during a session. Once voiced, only the voice
// link (held by the voice registry, not here) may change.
type Character struct {
	// ID is the stable identifier assigned at creation.
	ID string

	// Name is the display name used in speaker tags.
	Name string

	// Role is the character's prominence in the story.
	Role Role

	// IsNarrator marks the narrator pseudo-character.
	IsNarrator bool

	// Gender is an optional casting hint ("female", "male", "neutral").
	Gender string

	// AgeGroup is an optional casting hint ("child", "young", "adult", "elder").
	AgeGroup string

	// Description is free-form text from the outline generator.
	Description string

	// CreatedAt is when the character entered the roster.
	CreatedAt time.Time
}

// CharacterHint is supplied by the upstream scene generator when it introduces
// a speaker that is not yet on the roster. Hinted characters always join the
// roster as [RoleMinor].
type CharacterHint struct {
	Name        string
	Gender      string
	AgeGroup    string
	Description string
}

// SegmentType distinguishes narration from character dialogue.
type SegmentType int

const (
	// SegmentNarrator is prose spoken by the narrator voice.
	SegmentNarrator SegmentType = iota

	// SegmentDialogue is prose attributed to a named character.
	SegmentDialogue
)

// String returns the human-readable name of the segment type.
func (t SegmentType) String() string {
	switch t {
	case SegmentNarrator:
		return "narrator"
	case SegmentDialogue:
		return "dialogue"
	default:
		return "unknown"
	}
}

// Segment is one contiguous span of prose attributed to a single speaker.
type Segment struct {
	// Speaker is the character name, or [NarratorSpeaker].
	Speaker string

	// Text is the exact prose of the span, tag markup removed.
	Text string

	// Type is narrator or dialogue.
	Type SegmentType

	// Emotion is an optional delivery hint (e.g. "whispering").
	Emotion string
}

// IsNarrator reports whether the segment is spoken by the narrator voice.
func (s Segment) IsNarrator() bool {
	return s.Type == SegmentNarrator
}

// DialogueMapEntry attributes a span of plain prose to a speaker by offset.
// Offsets count Unicode code points, EndOffset is exclusive.
type DialogueMapEntry struct {
	Speaker     string `json:"speaker"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

// TimedWord is a word with its position inside a synthesized track.
type TimedWord struct {
	Word  string
	Start time.Duration
	End   time.Duration
}

// StoryContext carries the scene-level metadata consumed by voice strategies
// and style derivation.
type StoryContext struct {
	// Genre is the story genre ("fantasy", "mystery", ...).
	Genre string

	// Mood is the scene mood ("tense", "cheerful", ...).
	Mood string

	// ActiveSpeakers holds the character IDs speaking in the current scene.
	ActiveSpeakers []string
}

// VoiceProfile describes one voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Attr returns the lower-cased metadata value for key, or "".
func (v VoiceProfile) Attr(key string) string {
	if v.Metadata == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(v.Metadata[key]))
}
