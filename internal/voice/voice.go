// Package voice assigns and maintains one synthetic voice per character.
//
// The [Registry] loads a session's persisted assignments, validates them with
// [Validate] and repairs only the invalid subset through a pluggable
// [Strategy]. Valid assignments are never rewritten. When no voice can be
// produced the registry fails with [*AssignmentFailure]; it never falls back
// to the narrator voice.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talecast/internal/keyedmu"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/pkg/types"
)

// DefaultCatalogTTL is how long a fetched voice catalog is reused.
const DefaultCatalogTTL = 10 * time.Minute

// CatalogSource lists the voices a TTS provider offers. Every tts.Provider
// satisfies it.
type CatalogSource interface {
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// AssignmentFailure reports that voices could not be assigned. It is fatal to
// the Voices stage and retryable only through an explicit stage retry.
type AssignmentFailure struct {
	SessionID    string
	CharacterIDs []string
	Reason       string
	Err          error
}

func (e *AssignmentFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "voice: session %s: assignment failed: %s", e.SessionID, e.Reason)
	if len(e.CharacterIDs) > 0 {
		fmt.Fprintf(&b, " (characters %s)", strings.Join(e.CharacterIDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AssignmentFailure) Unwrap() error { return e.Err }

// Option configures a [Registry].
type Option func(*Registry)

// WithStrategy sets the strategy used for new and repaired assignments.
// Default: [Heuristic].
func WithStrategy(s Strategy) Option {
	return func(r *Registry) {
		if s != nil {
			r.strategy = s
		}
	}
}

// WithCatalogTTL sets how long the provider catalog is cached. A zero TTL
// fetches on every call.
func WithCatalogTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.catalogTTL = d
		}
	}
}

// Registry assigns voices to characters and keeps them valid.
type Registry struct {
	source     CatalogSource
	store      roster.VoiceStore
	strategy   Strategy
	catalogTTL time.Duration
	now        func() time.Time
	locks      keyedmu.Mutex

	mu        sync.Mutex
	catalog   []types.VoiceProfile
	fetchedAt time.Time
}

// New returns a Registry reading voices from source and persisting
// assignments to store.
func New(source CatalogSource, store roster.VoiceStore, opts ...Option) *Registry {
	r := &Registry{
		source:     source,
		store:      store,
		strategy:   Heuristic{},
		catalogTTL: DefaultCatalogTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Catalog returns the provider's voices, cached for the configured TTL.
func (r *Registry) Catalog(ctx context.Context) ([]types.VoiceProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil && r.now().Sub(r.fetchedAt) < r.catalogTTL {
		return r.catalog, nil
	}
	voices, err := r.source.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	r.catalog = voices
	r.fetchedAt = r.now()
	return voices, nil
}

// InvalidateCatalog forces the next call to refetch the catalog.
func (r *Registry) InvalidateCatalog() {
	r.mu.Lock()
	r.catalog = nil
	r.mu.Unlock()
}

// Assign returns character ID → voice ID for every non-narrator character.
//
// Persisted assignments are validated first. If they are valid they are
// returned without any write. Otherwise only the invalid subset is cleared
// and re-chosen by the strategy, and the repaired map is validated again
// before it is persisted.
func (r *Registry) Assign(ctx context.Context, sessionID string, characters []types.Character, narratorVoiceID string, story types.StoryContext) (map[string]string, error) {
	if narratorVoiceID == "" {
		return nil, &AssignmentFailure{SessionID: sessionID, Reason: "no narrator voice configured"}
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	cast := castOrder(characters)
	if len(cast) == 0 {
		return map[string]string{}, nil
	}

	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, &AssignmentFailure{SessionID: sessionID, Reason: "list voices", Err: err}
	}
	selectable := make([]types.VoiceProfile, 0, len(catalog))
	available := make([]string, 0, len(catalog))
	for _, v := range catalog {
		if v.ID == "" || v.ID == narratorVoiceID {
			continue
		}
		selectable = append(selectable, v)
		available = append(available, v.ID)
	}

	persisted, err := r.store.VoiceAssignments(ctx, sessionID)
	if err != nil {
		return nil, &AssignmentFailure{SessionID: sessionID, Reason: "load assignments", Err: err}
	}
	current := make(map[string]string, len(cast))
	for _, c := range cast {
		if v, ok := persisted[c.ID]; ok {
			current[c.ID] = v
		}
	}

	set := AssignmentSet{Characters: cast, Voices: current, ActiveSpeakers: story.ActiveSpeakers, Available: available}
	res := Validate(set, narratorVoiceID)
	if res.Valid() {
		logDegraded(sessionID, res)
		return current, nil
	}

	invalid := res.Invalid()
	slog.Info("voice: repairing assignments", "session_id", sessionID, "invalid", len(invalid), "issues", res.String())

	if len(selectable) == 0 {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: invalid, Reason: "provider offers no voice besides the narrator"}
	}

	kept := maps.Clone(current)
	var toClear []string
	for _, id := range invalid {
		if _, ok := persisted[id]; ok {
			toClear = append(toClear, id)
		}
		delete(kept, id)
	}

	chosen, err := r.strategy.Choose(ctx, Request{
		Characters: charactersByID(cast, invalid),
		Catalog:    selectable,
		InUse:      kept,
		Story:      story,
	})
	if err != nil {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: invalid, Reason: "strategy", Err: err}
	}

	repaired := maps.Clone(kept)
	fresh := make(map[string]string, len(invalid))
	var missing []string
	for _, id := range invalid {
		v := chosen[id]
		if v == "" {
			missing = append(missing, id)
			continue
		}
		repaired[id] = v
		fresh[id] = v
	}
	if len(missing) > 0 {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: missing, Reason: "strategy produced no voice"}
	}

	set.Voices = repaired
	check := Validate(set, narratorVoiceID)
	if !check.Valid() {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: check.Invalid(), Reason: "repaired assignments still invalid: " + check.String()}
	}
	logDegraded(sessionID, check)

	if err := r.store.ClearVoiceAssignments(ctx, sessionID, toClear); err != nil {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: toClear, Reason: "clear assignments", Err: err}
	}
	if err := r.store.PutVoiceAssignments(ctx, sessionID, fresh); err != nil {
		return nil, &AssignmentFailure{SessionID: sessionID, CharacterIDs: invalid, Reason: "persist assignments", Err: err}
	}
	return repaired, nil
}

func logDegraded(sessionID string, res ValidationResult) {
	if !res.Degraded || len(res.Shared) == 0 {
		return
	}
	for voiceID, chars := range res.Shared {
		slog.Warn("voice: degraded mode, active speakers share a voice",
			"session_id", sessionID, "voice", voiceID, "characters", chars)
	}
}

func charactersByID(cast []types.Character, ids []string) []types.Character {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]types.Character, 0, len(ids))
	for _, c := range cast {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
