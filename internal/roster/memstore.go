package roster

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talecast/pkg/types"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
type MemStore struct {
	mu         sync.RWMutex
	characters map[string][]types.Character
	voices     map[string]map[string]string
	scenes     map[sceneKey]SceneRecord
}

type sceneKey struct{ session, scene string }

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		characters: make(map[string][]types.Character),
		voices:     make(map[string]map[string]string),
		scenes:     make(map[sceneKey]SceneRecord),
	}
}

// ListCharacters implements [CharacterStore].
func (s *MemStore) ListCharacters(_ context.Context, sessionID string) ([]types.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.characters[sessionID]), nil
}

// CreateCharacter implements [CharacterStore].
func (s *MemStore) CreateCharacter(_ context.Context, sessionID string, c types.Character) (types.Character, error) {
	c = prepareCharacter(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.characters[sessionID] {
		if existing.ID == c.ID || strings.EqualFold(existing.Name, c.Name) {
			return types.Character{}, ErrDuplicateCharacter
		}
	}
	s.characters[sessionID] = append(s.characters[sessionID], c)
	return c, nil
}

// VoiceAssignments implements [VoiceStore].
func (s *MemStore) VoiceAssignments(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.voices[sessionID]))
	maps.Copy(out, s.voices[sessionID])
	return out, nil
}

// PutVoiceAssignments implements [VoiceStore].
func (s *MemStore) PutVoiceAssignments(_ context.Context, sessionID string, assignments map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.voices[sessionID]
	for charID := range assignments {
		if _, ok := live[charID]; ok {
			return ErrAssignmentExists
		}
	}
	if live == nil {
		live = make(map[string]string, len(assignments))
		s.voices[sessionID] = live
	}
	maps.Copy(live, assignments)
	return nil
}

// ClearVoiceAssignments implements [VoiceStore].
func (s *MemStore) ClearVoiceAssignments(_ context.Context, sessionID string, characterIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range characterIDs {
		delete(s.voices[sessionID], id)
	}
	return nil
}

// SaveScene implements [SceneStore].
func (s *MemStore) SaveScene(_ context.Context, rec SceneRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.DialogueMap = slices.Clone(rec.DialogueMap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[sceneKey{rec.SessionID, rec.SceneID}] = rec
	return nil
}

// Scene implements [SceneStore].
func (s *MemStore) Scene(_ context.Context, sessionID, sceneID string) (SceneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.scenes[sceneKey{sessionID, sceneID}]
	if !ok {
		return SceneRecord{}, ErrNotFound
	}
	rec.DialogueMap = slices.Clone(rec.DialogueMap)
	return rec, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store]. It is a no-op.
func (s *MemStore) Close() error { return nil }

// prepareCharacter fills a generated ID and creation time when missing.
func prepareCharacter(c types.Character) types.Character {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Role == "" {
		c.Role = types.RoleMinor
	}
	return c
}
