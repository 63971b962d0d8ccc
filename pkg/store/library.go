package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
)

// Game is a program in the library.
type Game struct {
	ID           string
	Title        string
	LastPlayedAt time.Time
	// ROM is empty for the entries that keep the image elsewhere.
	ROM []byte
}

// LibraryStore keeps the program metadata and images.
type LibraryStore struct {
	db *database
}

var librarySchema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id        TEXT PRIMARY KEY,
		title     TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		rom       BLOB
	)`,
}

func NewLibraryStore(path string, log *logger.Logger) *LibraryStore {
	return &LibraryStore{db: newDatabase(path, librarySchema, log)}
}

func (s *LibraryStore) Get(ctx context.Context, id string) (Game, error) {
	db, err := s.db.conn(ctx)
	if err != nil {
		return Game{}, err
	}
	var g Game
	var ts int64
	err = db.QueryRowContext(ctx, `SELECT id, title, timestamp, rom FROM games WHERE id = ?`, id).
		Scan(&g.ID, &g.Title, &ts, &g.ROM)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrNotFound
	}
	if err != nil {
		return Game{}, err
	}
	g.LastPlayedAt = time.UnixMilli(ts)
	return g, nil
}

// GetAll returns all the games without their images,
// the most recently played first.
func (s *LibraryStore) GetAll(ctx context.Context) ([]Game, error) {
	db, err := s.db.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, title, timestamp FROM games ORDER BY timestamp DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var games []Game
	for rows.Next() {
		var g Game
		var ts int64
		if err := rows.Scan(&g.ID, &g.Title, &ts); err != nil {
			return nil, err
		}
		g.LastPlayedAt = time.UnixMilli(ts)
		games = append(games, g)
	}
	return games, rows.Err()
}

// Put inserts or replaces the game.
func (s *LibraryStore) Put(ctx context.Context, g Game) error {
	db, err := s.db.conn(ctx)
	if err != nil {
		return err
	}
	var rom any
	if len(g.ROM) > 0 {
		rom = g.ROM
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO games (id, title, timestamp, rom) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, timestamp = excluded.timestamp, rom = excluded.rom`,
		g.ID, g.Title, g.LastPlayedAt.UnixMilli(), rom)
	return err
}

// Touch updates the last played time of the game.
func (s *LibraryStore) Touch(ctx context.Context, id string, t time.Time) error {
	db, err := s.db.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE games SET timestamp = ? WHERE id = ?`, t.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the game, a missing game is not an error.
func (s *LibraryStore) Delete(ctx context.Context, id string) error {
	db, err := s.db.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	return err
}

func (s *LibraryStore) Close() error { return s.db.close() }
