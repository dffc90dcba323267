package voice

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/talecast/pkg/types"
)

// IssueKind classifies an invalid voice assignment.
type IssueKind int

const (
	// IssueMissing is a character without a voice.
	IssueMissing IssueKind = iota

	// IssueNarratorCollision is a character voiced with the narrator voice.
	IssueNarratorCollision

	// IssueSharedVoice is an active speaker sharing a voice with another
	// active speaker while enough distinct voices exist.
	IssueSharedVoice

	// IssueUnavailable is a voice the provider no longer offers.
	IssueUnavailable
)

// String returns the human-readable name of the issue kind.
func (k IssueKind) String() string {
	switch k {
	case IssueMissing:
		return "missing"
	case IssueNarratorCollision:
		return "narrator collision"
	case IssueSharedVoice:
		return "shared voice"
	case IssueUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Issue is one invalid assignment. CharacterID is the character whose
// assignment must be repaired.
type Issue struct {
	Kind        IssueKind
	CharacterID string
	VoiceID     string

	// SharedWith is the character that keeps the voice for IssueSharedVoice.
	SharedWith string
}

func (i Issue) String() string {
	if i.SharedWith != "" {
		return fmt.Sprintf("%s: %s (voice %q, kept by %s)", i.Kind, i.CharacterID, i.VoiceID, i.SharedWith)
	}
	return fmt.Sprintf("%s: %s (voice %q)", i.Kind, i.CharacterID, i.VoiceID)
}

// AssignmentSet is the input to [Validate].
type AssignmentSet struct {
	// Characters to check. Narrator characters are skipped.
	Characters []types.Character

	// Voices maps character ID → voice ID.
	Voices map[string]string

	// ActiveSpeakers holds the IDs of characters speaking simultaneously. Empty
	// means every character is active.
	ActiveSpeakers []string

	// Available lists the voice IDs the provider offers, narrator voice
	// excluded. Nil skips the availability check and disables degraded mode.
	Available []string
}

// ValidationResult is the outcome of [Validate].
type ValidationResult struct {
	Issues []Issue

	// Degraded is set when there are more active speakers than distinct
	// voices, so sharing among them is tolerated.
	Degraded bool

	// Shared lists voice ID → character IDs for every voice shared by active
	// speakers in degraded mode.
	Shared map[string][]string
}

// Valid reports whether no assignment needs repair.
func (r ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Invalid returns the distinct IDs of characters needing repair, in issue
// order.
func (r ValidationResult) Invalid() []string {
	var out []string
	for _, is := range r.Issues {
		if !slices.Contains(out, is.CharacterID) {
			out = append(out, is.CharacterID)
		}
	}
	return out
}

func (r ValidationResult) String() string {
	parts := make([]string, len(r.Issues))
	for i, is := range r.Issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

// Validate checks set against the voice invariants:
//
//  1. every character has a non-empty voice
//  2. no character uses narratorVoiceID
//  3. no two active speakers share a voice unless there are more active
//     speakers than available voices
//
// It also flags voices absent from set.Available. Validate is pure and never
// mutates set.
func Validate(set AssignmentSet, narratorVoiceID string) ValidationResult {
	var res ValidationResult

	chars := castOrder(set.Characters)
	var available map[string]bool
	if set.Available != nil {
		available = make(map[string]bool, len(set.Available))
		for _, v := range set.Available {
			if v != narratorVoiceID {
				available[v] = true
			}
		}
	}

	active := make(map[string]bool, len(set.ActiveSpeakers))
	for _, id := range set.ActiveSpeakers {
		active[id] = true
	}
	isActive := func(id string) bool { return len(active) == 0 || active[id] }

	var activeCount int
	for _, c := range chars {
		if isActive(c.ID) {
			activeCount++
		}
	}
	res.Degraded = available != nil && activeCount > len(available)

	owner := make(map[string]string)
	for _, c := range chars {
		v := set.Voices[c.ID]
		switch {
		case v == "":
			res.Issues = append(res.Issues, Issue{Kind: IssueMissing, CharacterID: c.ID})
			continue
		case narratorVoiceID != "" && v == narratorVoiceID:
			res.Issues = append(res.Issues, Issue{Kind: IssueNarratorCollision, CharacterID: c.ID, VoiceID: v})
			continue
		case available != nil && !available[v]:
			res.Issues = append(res.Issues, Issue{Kind: IssueUnavailable, CharacterID: c.ID, VoiceID: v})
			continue
		}

		if !isActive(c.ID) {
			continue
		}
		first, taken := owner[v]
		if !taken {
			owner[v] = c.ID
			continue
		}
		if res.Degraded {
			if res.Shared == nil {
				res.Shared = make(map[string][]string)
			}
			if len(res.Shared[v]) == 0 {
				res.Shared[v] = []string{first}
			}
			res.Shared[v] = append(res.Shared[v], c.ID)
			continue
		}
		res.Issues = append(res.Issues, Issue{Kind: IssueSharedVoice, CharacterID: c.ID, VoiceID: v, SharedWith: first})
	}
	return res
}

// castOrder returns the non-narrator characters ordered by role prominence,
// then name, then ID. The first character in this order keeps a contested
// voice.
func castOrder(chars []types.Character) []types.Character {
	out := make([]types.Character, 0, len(chars))
	for _, c := range chars {
		if c.IsNarrator || c.Role == types.RoleNarrator {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b types.Character) int {
		if d := a.Role.Rank() - b.Role.Rank(); d != 0 {
			return d
		}
		if d := strings.Compare(a.Name, b.Name); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
