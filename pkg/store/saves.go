package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
)

// SaveState is a local snapshot record.
type SaveState struct {
	ID        string
	GameID    string
	Title     string
	CreatedAt time.Time
	Data      []byte
}

// SaveStore keeps the save states of the unauthenticated user.
type SaveStore struct {
	db *database
}

var savesSchema = []string{
	`CREATE TABLE IF NOT EXISTS save_states (
		id        TEXT PRIMARY KEY,
		game_id   TEXT NOT NULL,
		title     TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		data      BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS save_states_game_id ON save_states (game_id)`,
}

func NewSaveStore(path string, log *logger.Logger) *SaveStore {
	return &SaveStore{db: newDatabase(path, savesSchema, log)}
}

func (s *SaveStore) Get(ctx context.Context, id string) (SaveState, error) {
	db, err := s.db.conn(ctx)
	if err != nil {
		return SaveState{}, err
	}
	var st SaveState
	var ts int64
	err = db.QueryRowContext(ctx, `SELECT id, game_id, title, timestamp, data FROM save_states WHERE id = ?`, id).
		Scan(&st.ID, &st.GameID, &st.Title, &ts, &st.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveState{}, ErrNotFound
	}
	if err != nil {
		return SaveState{}, err
	}
	st.CreatedAt = time.UnixMilli(ts)
	return st, nil
}

// GetAll returns every save state with data ordered by creation time.
func (s *SaveStore) GetAll(ctx context.Context) ([]SaveState, error) {
	return s.list(ctx, `SELECT id, game_id, title, timestamp, data FROM save_states ORDER BY timestamp, id`)
}

// ListForGame returns the save states of one game ordered by creation time.
func (s *SaveStore) ListForGame(ctx context.Context, gameID string) ([]SaveState, error) {
	return s.list(ctx, `SELECT id, game_id, title, timestamp, data FROM save_states WHERE game_id = ? ORDER BY timestamp, id`, gameID)
}

func (s *SaveStore) list(ctx context.Context, query string, args ...any) ([]SaveState, error) {
	db, err := s.db.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var states []SaveState
	for rows.Next() {
		var st SaveState
		var ts int64
		if err := rows.Scan(&st.ID, &st.GameID, &st.Title, &ts, &st.Data); err != nil {
			return nil, err
		}
		st.CreatedAt = time.UnixMilli(ts)
		states = append(states, st)
	}
	return states, rows.Err()
}

// Put inserts or replaces the save state.
func (s *SaveStore) Put(ctx context.Context, st SaveState) error {
	db, err := s.db.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO save_states (id, game_id, title, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.GameID, st.Title, st.CreatedAt.UnixMilli(), st.Data)
	return err
}

// Delete removes the save state, a missing one is not an error.
func (s *SaveStore) Delete(ctx context.Context, id string) error {
	db, err := s.db.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM save_states WHERE id = ?`, id)
	return err
}

func (s *SaveStore) Close() error { return s.db.close() }
