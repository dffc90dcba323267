package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/talecast/pkg/types"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const pgSchema = `
CREATE TABLE IF NOT EXISTS characters (
    seq          BIGSERIAL    PRIMARY KEY,
    id           TEXT         NOT NULL UNIQUE,
    session_id   TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    is_narrator  BOOLEAN      NOT NULL DEFAULT false,
    gender       TEXT         NOT NULL DEFAULT '',
    age_group    TEXT         NOT NULL DEFAULT '',
    description  TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_characters_session_name
    ON characters (session_id, lower(name));

CREATE TABLE IF NOT EXISTS voice_assignments (
    session_id    TEXT         NOT NULL,
    character_id  TEXT         NOT NULL,
    voice_id      TEXT         NOT NULL,
    assigned_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, character_id)
);

CREATE TABLE IF NOT EXISTS scenes (
    session_id    TEXT         NOT NULL,
    scene_id      TEXT         NOT NULL,
    prose_format  TEXT         NOT NULL,
    prose         TEXT         NOT NULL,
    dialogue_map  JSONB        NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, scene_id)
);
`

// PostgresStore is a [Store] backed by a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the connection
// and runs [MigratePostgres].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("roster postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("roster postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("roster postgres: ping: %w", err)
	}

	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// MigratePostgres creates the roster tables if they do not exist. It is
// idempotent and safe to call on every start.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("roster postgres: migrate: %w", err)
	}
	return nil
}

// ListCharacters implements [CharacterStore].
func (s *PostgresStore) ListCharacters(ctx context.Context, sessionID string) ([]types.Character, error) {
	const q = `
		SELECT id, name, role, is_narrator, gender, age_group, description, created_at
		FROM   characters
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("roster postgres: list characters: %w", err)
	}
	chars, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Character, error) {
		var (
			c    types.Character
			role string
		)
		if err := row.Scan(&c.ID, &c.Name, &role, &c.IsNarrator, &c.Gender, &c.AgeGroup, &c.Description, &c.CreatedAt); err != nil {
			return types.Character{}, err
		}
		c.Role = types.Role(role)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("roster postgres: scan characters: %w", err)
	}
	if chars == nil {
		chars = []types.Character{}
	}
	return chars, nil
}

// CreateCharacter implements [CharacterStore].
func (s *PostgresStore) CreateCharacter(ctx context.Context, sessionID string, c types.Character) (types.Character, error) {
	c = prepareCharacter(c)

	const q = `
		INSERT INTO characters
		    (id, session_id, name, role, is_narrator, gender, age_group, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		c.ID, sessionID, c.Name, string(c.Role), c.IsNarrator,
		c.Gender, c.AgeGroup, c.Description, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return types.Character{}, ErrDuplicateCharacter
	}
	if err != nil {
		return types.Character{}, fmt.Errorf("roster postgres: create character: %w", err)
	}
	return c, nil
}

// VoiceAssignments implements [VoiceStore].
func (s *PostgresStore) VoiceAssignments(ctx context.Context, sessionID string) (map[string]string, error) {
	const q = `SELECT character_id, voice_id FROM voice_assignments WHERE session_id = $1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("roster postgres: voice assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var charID, voiceID string
		if err := rows.Scan(&charID, &voiceID); err != nil {
			return nil, fmt.Errorf("roster postgres: scan voice assignment: %w", err)
		}
		out[charID] = voiceID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster postgres: voice assignments: %w", err)
	}
	return out, nil
}

// PutVoiceAssignments implements [VoiceStore].
func (s *PostgresStore) PutVoiceAssignments(ctx context.Context, sessionID string, assignments map[string]string) error {
	if len(assignments) == 0 {
		return nil
	}
	const q = `
		INSERT INTO voice_assignments (session_id, character_id, voice_id)
		VALUES ($1, $2, $3)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for charID, voiceID := range assignments {
			if _, err := tx.Exec(ctx, q, sessionID, charID, voiceID); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrAssignmentExists
	}
	if err != nil {
		return fmt.Errorf("roster postgres: put voice assignments: %w", err)
	}
	return nil
}

// ClearVoiceAssignments implements [VoiceStore].
func (s *PostgresStore) ClearVoiceAssignments(ctx context.Context, sessionID string, characterIDs []string) error {
	if len(characterIDs) == 0 {
		return nil
	}
	const q = `DELETE FROM voice_assignments WHERE session_id = $1 AND character_id = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, sessionID, characterIDs); err != nil {
		return fmt.Errorf("roster postgres: clear voice assignments: %w", err)
	}
	return nil
}

// SaveScene implements [SceneStore].
func (s *PostgresStore) SaveScene(ctx context.Context, rec SceneRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	dm, err := encodeDialogueMap(rec.DialogueMap)
	if err != nil {
		return fmt.Errorf("roster postgres: save scene: %w", err)
	}

	const q = `
		INSERT INTO scenes (session_id, scene_id, prose_format, prose, dialogue_map, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, scene_id) DO UPDATE
		    SET prose_format = EXCLUDED.prose_format,
		        prose        = EXCLUDED.prose,
		        dialogue_map = EXCLUDED.dialogue_map`

	if _, err := s.pool.Exec(ctx, q, rec.SessionID, rec.SceneID, string(rec.ProseFormat), rec.Prose, dm, rec.CreatedAt); err != nil {
		return fmt.Errorf("roster postgres: save scene: %w", err)
	}
	return nil
}

// Scene implements [SceneStore].
func (s *PostgresStore) Scene(ctx context.Context, sessionID, sceneID string) (SceneRecord, error) {
	const q = `
		SELECT prose_format, prose, dialogue_map, created_at
		FROM   scenes
		WHERE  session_id = $1 AND scene_id = $2`

	rec := SceneRecord{SessionID: sessionID, SceneID: sceneID}
	var (
		format string
		dm     []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID, sceneID).Scan(&format, &rec.Prose, &dm, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SceneRecord{}, ErrNotFound
	}
	if err != nil {
		return SceneRecord{}, fmt.Errorf("roster postgres: scene: %w", err)
	}
	rec.ProseFormat = ProseFormat(format)
	if rec.DialogueMap, err = decodeDialogueMap(dm); err != nil {
		return SceneRecord{}, fmt.Errorf("roster postgres: scene: %w", err)
	}
	return rec, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func encodeDialogueMap(entries []types.DialogueMapEntry) ([]byte, error) {
	if entries == nil {
		entries = []types.DialogueMapEntry{}
	}
	return json.Marshal(entries)
}

func decodeDialogueMap(raw []byte) ([]types.DialogueMapEntry, error) {
	var entries []types.DialogueMapEntry
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode dialogue map: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}
