package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/talecast/internal/resilience"
	"github.com/MrWong99/talecast/pkg/types"
)

// Compile-time assertion that SQLiteStore satisfies the Store interface.
var _ Store = (*SQLiteStore)(nil)

const (
	sqliteBusyCode = 5

	sqliteSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id           TEXT     PRIMARY KEY,
    session_id   TEXT     NOT NULL,
    name         TEXT     NOT NULL COLLATE NOCASE,
    role         TEXT     NOT NULL,
    is_narrator  INTEGER  NOT NULL DEFAULT 0,
    gender       TEXT     NOT NULL DEFAULT '',
    age_group    TEXT     NOT NULL DEFAULT '',
    description  TEXT     NOT NULL DEFAULT '',
    created_at   TEXT     NOT NULL,
    UNIQUE (session_id, name)
);

CREATE TABLE IF NOT EXISTS voice_assignments (
    session_id    TEXT  NOT NULL,
    character_id  TEXT  NOT NULL,
    voice_id      TEXT  NOT NULL,
    assigned_at   TEXT  NOT NULL,
    PRIMARY KEY (session_id, character_id)
);

CREATE TABLE IF NOT EXISTS scenes (
    session_id    TEXT  NOT NULL,
    scene_id      TEXT  NOT NULL,
    prose_format  TEXT  NOT NULL,
    prose         TEXT  NOT NULL,
    dialogue_map  TEXT  NOT NULL DEFAULT '[]',
    created_at    TEXT  NOT NULL,
    PRIMARY KEY (session_id, scene_id)
);
`
)

var busyRetry = resilience.RetryConfig{
	Attempts:       5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
	Retryable:      isSQLiteBusy,
}

// SQLiteStore is a [Store] backed by a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path, applies connection
// pragmas and initialises the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("roster sqlite: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("roster sqlite: apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("roster sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// ListCharacters implements [CharacterStore].
func (s *SQLiteStore) ListCharacters(ctx context.Context, sessionID string) ([]types.Character, error) {
	const q = `
		SELECT id, name, role, is_narrator, gender, age_group, description, created_at
		FROM   characters
		WHERE  session_id = ?
		ORDER  BY rowid`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("roster sqlite: list characters: %w", err)
	}
	defer rows.Close()

	chars := []types.Character{}
	for rows.Next() {
		var (
			c         types.Character
			role      string
			narrator  int
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &role, &narrator, &c.Gender, &c.AgeGroup, &c.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("roster sqlite: scan character: %w", err)
		}
		c.Role = types.Role(role)
		c.IsNarrator = narrator != 0
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("roster sqlite: character %s: %w", c.ID, err)
		}
		chars = append(chars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster sqlite: list characters: %w", err)
	}
	return chars, nil
}

// CreateCharacter implements [CharacterStore].
func (s *SQLiteStore) CreateCharacter(ctx context.Context, sessionID string, c types.Character) (types.Character, error) {
	c = prepareCharacter(c)

	const q = `
		INSERT INTO characters
		    (id, session_id, name, role, is_narrator, gender, age_group, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.exec(ctx, q,
		c.ID, sessionID, c.Name, string(c.Role), boolToInt(c.IsNarrator),
		c.Gender, c.AgeGroup, c.Description, formatTime(c.CreatedAt),
	)
	if isSQLiteConstraint(err) {
		return types.Character{}, ErrDuplicateCharacter
	}
	if err != nil {
		return types.Character{}, fmt.Errorf("roster sqlite: create character: %w", err)
	}
	return c, nil
}

// VoiceAssignments implements [VoiceStore].
func (s *SQLiteStore) VoiceAssignments(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT character_id, voice_id FROM voice_assignments WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("roster sqlite: voice assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var charID, voiceID string
		if err := rows.Scan(&charID, &voiceID); err != nil {
			return nil, fmt.Errorf("roster sqlite: scan voice assignment: %w", err)
		}
		out[charID] = voiceID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster sqlite: voice assignments: %w", err)
	}
	return out, nil
}

// PutVoiceAssignments implements [VoiceStore].
func (s *SQLiteStore) PutVoiceAssignments(ctx context.Context, sessionID string, assignments map[string]string) error {
	if len(assignments) == 0 {
		return nil
	}
	now := formatTime(time.Now().UTC())
	err := resilience.Retry(ctx, busyRetry, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for charID, voiceID := range assignments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO voice_assignments (session_id, character_id, voice_id, assigned_at) VALUES (?, ?, ?, ?)`,
				sessionID, charID, voiceID, now,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if isSQLiteConstraint(err) {
		return ErrAssignmentExists
	}
	if err != nil {
		return fmt.Errorf("roster sqlite: put voice assignments: %w", err)
	}
	return nil
}

// ClearVoiceAssignments implements [VoiceStore].
func (s *SQLiteStore) ClearVoiceAssignments(ctx context.Context, sessionID string, characterIDs []string) error {
	if len(characterIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(characterIDs)+1)
	args = append(args, sessionID)
	for _, id := range characterIDs {
		args = append(args, id)
	}
	q := `DELETE FROM voice_assignments WHERE session_id = ? AND character_id IN (` + makePlaceholders(len(characterIDs)) + `)`
	if err := s.exec(ctx, q, args...); err != nil {
		return fmt.Errorf("roster sqlite: clear voice assignments: %w", err)
	}
	return nil
}

// SaveScene implements [SceneStore].
func (s *SQLiteStore) SaveScene(ctx context.Context, rec SceneRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	dm, err := encodeDialogueMap(rec.DialogueMap)
	if err != nil {
		return fmt.Errorf("roster sqlite: save scene: %w", err)
	}

	const q = `
		INSERT INTO scenes (session_id, scene_id, prose_format, prose, dialogue_map, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, scene_id) DO UPDATE
		    SET prose_format = excluded.prose_format,
		        prose        = excluded.prose,
		        dialogue_map = excluded.dialogue_map`

	if err := s.exec(ctx, q, rec.SessionID, rec.SceneID, string(rec.ProseFormat), rec.Prose, string(dm), formatTime(rec.CreatedAt)); err != nil {
		return fmt.Errorf("roster sqlite: save scene: %w", err)
	}
	return nil
}

// Scene implements [SceneStore].
func (s *SQLiteStore) Scene(ctx context.Context, sessionID, sceneID string) (SceneRecord, error) {
	const q = `
		SELECT prose_format, prose, dialogue_map, created_at
		FROM   scenes
		WHERE  session_id = ? AND scene_id = ?`

	rec := SceneRecord{SessionID: sessionID, SceneID: sceneID}
	var format, dm, createdAt string
	err := s.db.QueryRowContext(ctx, q, sessionID, sceneID).Scan(&format, &rec.Prose, &dm, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SceneRecord{}, ErrNotFound
	}
	if err != nil {
		return SceneRecord{}, fmt.Errorf("roster sqlite: scene: %w", err)
	}
	rec.ProseFormat = ProseFormat(format)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return SceneRecord{}, fmt.Errorf("roster sqlite: scene: %w", err)
	}
	if rec.DialogueMap, err = decodeDialogueMap([]byte(dm)); err != nil {
		return SceneRecord{}, fmt.Errorf("roster sqlite: scene: %w", err)
	}
	return rec, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	return resilience.Retry(ctx, busyRetry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func makePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}
