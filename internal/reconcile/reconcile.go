// Package reconcile maps the speaker names found in a scene onto the session's
// character roster.
//
// Every distinct non-narrator speaker is matched against the roster with the
// tiered scoring of [namematch]. A speaker that matches nothing is added as a
// minor character only when the scene generator explicitly hinted it as new.
// Anything else is reported as unresolved: the reconciler never guesses and
// never falls back to the narrator.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/talecast/internal/keyedmu"
	"github.com/MrWong99/talecast/internal/namematch"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/pkg/types"
)

// Reason explains why a speaker could not be resolved.
type Reason string

const (
	// ReasonUnknown means no roster character matched and no hint was given.
	ReasonUnknown Reason = "unknown"

	// ReasonAmbiguous means several roster characters matched equally well.
	ReasonAmbiguous Reason = "ambiguous"
)

// UnresolvedSpeaker is a speaker name the reconciler refused to map.
type UnresolvedSpeaker struct {
	Name   string
	Reason Reason

	// Candidates lists the tied roster names for [ReasonAmbiguous].
	Candidates []string
}

func (u UnresolvedSpeaker) String() string {
	if len(u.Candidates) > 0 {
		return fmt.Sprintf("%s (%s: %s)", u.Name, u.Reason, strings.Join(u.Candidates, ", "))
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.Reason)
}

// UnresolvedSpeakerError is returned when at least one speaker could not be
// mapped. It is fatal to voice casting until the roster changes.
type UnresolvedSpeakerError struct {
	SessionID string
	Speakers  []UnresolvedSpeaker
}

func (e *UnresolvedSpeakerError) Error() string {
	parts := make([]string, len(e.Speakers))
	for i, s := range e.Speakers {
		parts[i] = s.String()
	}
	return fmt.Sprintf("reconcile: session %s: unresolved speakers: %s", e.SessionID, strings.Join(parts, "; "))
}

// Names returns the unresolved speaker names in scene order.
func (e *UnresolvedSpeakerError) Names() []string {
	out := make([]string, len(e.Speakers))
	for i, s := range e.Speakers {
		out[i] = s.Name
	}
	return out
}

// Result is the outcome of [Reconciler.Reconcile].
type Result struct {
	// Mapping holds speaker name → roster character for every resolved speaker.
	Mapping map[string]types.Character

	// Created lists the characters added to the roster by this call.
	Created []types.Character

	// Unresolved lists the speakers that could not be mapped.
	Unresolved []UnresolvedSpeaker
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithMatcher replaces the default name matcher.
func WithMatcher(m *namematch.Matcher) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.matcher.Store(m)
		}
	}
}

// Reconciler resolves speakers against a [roster.CharacterStore]. Calls for the
// same session are serialized; different sessions proceed in parallel.
type Reconciler struct {
	store   roster.CharacterStore
	matcher atomic.Pointer[namematch.Matcher]
	locks   keyedmu.Mutex
}

// New returns a Reconciler persisting new characters to store.
func New(store roster.CharacterStore, opts ...Option) *Reconciler {
	r := &Reconciler{store: store}
	r.matcher.Store(namematch.New())
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetMatcher swaps the name matcher. Calls already in progress keep the
// previous one.
func (r *Reconciler) SetMatcher(m *namematch.Matcher) {
	if m != nil {
		r.matcher.Store(m)
	}
}

// Reconcile resolves the speakers of segments.
//
// known is the caller's view of the roster; it is merged with the persisted
// roster so that repeating a call for the same scene never creates a
// character twice. Characters created from hints are persisted before
// Reconcile returns, even when other speakers stay unresolved.
//
// When any speaker is unresolved the returned error is a
// [*UnresolvedSpeakerError] and the result is still populated.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, segments []types.Segment, known []types.Character, hints []types.CharacterHint) (*Result, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	cast, err := r.loadRoster(ctx, sessionID, known)
	if err != nil {
		return nil, err
	}

	res := &Result{Mapping: make(map[string]types.Character)}
	for _, speaker := range distinctSpeakers(segments) {
		ch, unresolved, err := r.resolve(ctx, sessionID, speaker, &cast, hints, res)
		if err != nil {
			return nil, err
		}
		if unresolved != nil {
			res.Unresolved = append(res.Unresolved, *unresolved)
			continue
		}
		res.Mapping[speaker] = ch
	}

	if len(res.Unresolved) > 0 {
		return res, &UnresolvedSpeakerError{SessionID: sessionID, Speakers: res.Unresolved}
	}
	return res, nil
}

// resolve maps one speaker, creating a character from a hint when allowed.
func (r *Reconciler) resolve(ctx context.Context, sessionID, speaker string, cast *[]types.Character, hints []types.CharacterHint, res *Result) (types.Character, *UnresolvedSpeaker, error) {
	names := namesOf(*cast)

	hint, hinted := r.hintFor(speaker, hints)

	m := r.matcher.Load().Best(speaker, names)
	if m.Index >= 0 {
		ch := (*cast)[m.Index]
		switch {
		case hinted:
			slog.Warn("reconcile: hinted character already on roster, reusing it",
				"session_id", sessionID, "speaker", speaker, "character", ch.Name, "tier", m.Score.Tier)
		case m.Score.Tier != namematch.TierExact:
			slog.Debug("reconcile: fuzzy speaker match",
				"session_id", sessionID, "speaker", speaker, "character", ch.Name, "tier", m.Score.Tier, "score", m.Score.Value)
		}
		return ch, nil, nil
	}
	if len(m.Ambiguous) > 0 {
		return types.Character{}, ambiguous(speaker, names, m.Ambiguous), nil
	}
	if !hinted {
		return types.Character{}, &UnresolvedSpeaker{Name: speaker, Reason: ReasonUnknown}, nil
	}

	created, err := r.store.CreateCharacter(ctx, sessionID, types.Character{
		Name:        speaker,
		Role:        types.RoleMinor,
		Gender:      hint.Gender,
		AgeGroup:    hint.AgeGroup,
		Description: hint.Description,
	})
	if errors.Is(err, roster.ErrDuplicateCharacter) {
		// Created concurrently through another path; adopt the stored one.
		fresh, lerr := r.store.ListCharacters(ctx, sessionID)
		if lerr != nil {
			return types.Character{}, nil, fmt.Errorf("reconcile: reload roster: %w", lerr)
		}
		for _, c := range fresh {
			if strings.EqualFold(c.Name, speaker) {
				*cast = append(*cast, c)
				return c, nil, nil
			}
		}
	}
	if err != nil {
		return types.Character{}, nil, fmt.Errorf("reconcile: create character %q: %w", speaker, err)
	}

	slog.Info("reconcile: created minor character", "session_id", sessionID, "name", created.Name, "id", created.ID)
	*cast = append(*cast, created)
	res.Created = append(res.Created, created)
	return created, nil, nil
}

// hintFor returns the hint naming speaker, compared after normalization.
func (r *Reconciler) hintFor(speaker string, hints []types.CharacterHint) (types.CharacterHint, bool) {
	for _, h := range hints {
		if strings.EqualFold(h.Name, speaker) {
			return h, true
		}
	}
	norm := namematch.Normalize(speaker)
	for _, h := range hints {
		if namematch.Normalize(h.Name) == norm {
			return h, true
		}
	}
	return types.CharacterHint{}, false
}

// loadRoster merges the caller's roster with the persisted one, keyed by ID.
// Narrator characters are excluded from matching.
func (r *Reconciler) loadRoster(ctx context.Context, sessionID string, known []types.Character) ([]types.Character, error) {
	stored, err := r.store.ListCharacters(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load roster: %w", err)
	}

	seen := make(map[string]bool, len(stored)+len(known))
	cast := make([]types.Character, 0, len(stored)+len(known))
	for _, list := range [][]types.Character{stored, known} {
		for _, c := range list {
			if c.IsNarrator || c.Role == types.RoleNarrator || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			cast = append(cast, c)
		}
	}
	return cast, nil
}

func distinctSpeakers(segments []types.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segments {
		if s.IsNarrator() || s.Speaker == "" || strings.EqualFold(s.Speaker, types.NarratorSpeaker) || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

func namesOf(cast []types.Character) []string {
	out := make([]string, len(cast))
	for i, c := range cast {
		out[i] = c.Name
	}
	return out
}

func ambiguous(speaker string, names []string, idx []int) *UnresolvedSpeaker {
	u := &UnresolvedSpeaker{Name: speaker, Reason: ReasonAmbiguous}
	for _, i := range idx {
		u.Candidates = append(u.Candidates, names[i])
	}
	return u
}
