// Package roster persists the per-session cast, voice assignments and scene
// records.
//
// Three implementations are provided: [MemStore] for tests and ephemeral
// deployments, [PostgresStore] backed by pgx, and [SQLiteStore] backed by
// modernc.org/sqlite for single-node installs and the CLI.
//
// All implementations must be safe for concurrent use.
package roster

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talecast/pkg/types"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("roster: not found")

// ErrDuplicateCharacter is returned by CreateCharacter when the session
// already holds a character with the same ID or the same case-insensitive name.
var ErrDuplicateCharacter = errors.New("roster: character already exists")

// ErrAssignmentExists is returned by PutVoiceAssignments when a character
// already has a live voice assignment. Replacing one requires clearing it
// first.
var ErrAssignmentExists = errors.New("roster: voice assignment already exists")

// CharacterStore holds the cast of each session.
type CharacterStore interface {
	// ListCharacters returns the session's characters in creation order.
	ListCharacters(ctx context.Context, sessionID string) ([]types.Character, error)

	// CreateCharacter adds c to the session's roster. An empty ID is replaced
	// with a generated one and a zero CreatedAt with the current time.
	// Returns [ErrDuplicateCharacter] on an ID or name clash.
	CreateCharacter(ctx context.Context, sessionID string, c types.Character) (types.Character, error)
}

// VoiceStore holds the live voice assignment of each character.
type VoiceStore interface {
	// VoiceAssignments returns characterID → voiceID for the session. An
	// unknown session yields an empty, non-nil map.
	VoiceAssignments(ctx context.Context, sessionID string) (map[string]string, error)

	// PutVoiceAssignments inserts all assignments atomically. If any character
	// already has one, nothing is written and [ErrAssignmentExists] is
	// returned.
	PutVoiceAssignments(ctx context.Context, sessionID string, assignments map[string]string) error

	// ClearVoiceAssignments removes the assignments of the given characters.
	// Missing assignments are ignored.
	ClearVoiceAssignments(ctx context.Context, sessionID string, characterIDs []string) error
}

// ProseFormat identifies how a scene's speakers are encoded.
type ProseFormat string

const (
	// ProseTagged is prose with inline speaker tags.
	ProseTagged ProseFormat = "tagged"

	// ProseOffsets is plain prose with a separate dialogue map.
	ProseOffsets ProseFormat = "offsets"
)

// SceneRecord is the persisted source of a scene. It holds enough to
// re-derive the scene's segments.
type SceneRecord struct {
	SessionID   string
	SceneID     string
	ProseFormat ProseFormat
	Prose       string
	DialogueMap []types.DialogueMapEntry
	CreatedAt   time.Time
}

// SceneStore holds scene records.
type SceneStore interface {
	// SaveScene inserts or replaces the record keyed by (SessionID, SceneID).
	SaveScene(ctx context.Context, rec SceneRecord) error

	// Scene returns the record, or [ErrNotFound].
	Scene(ctx context.Context, sessionID, sceneID string) (SceneRecord, error)
}

// Store combines every persistence contract with lifecycle management.
type Store interface {
	CharacterStore
	VoiceStore
	SceneStore

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
