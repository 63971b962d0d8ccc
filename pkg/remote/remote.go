// Package remote keeps the save states of the authenticated users
// in a cloud object store.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRemoteCallFailed wraps any failure of the remote side,
	// the calls of unauthenticated callers included.
	ErrRemoteCallFailed = errors.New("remote call failed")
	ErrNotFound         = errors.New("save not found")
)

// EntryMetadata describes one save.
type EntryMetadata struct {
	ID          string
	GameID      string
	Title       string
	Description string
	Timestamp   time.Time
}

type GameSaveState struct {
	Metadata EntryMetadata
	Data     []byte
}

// Gateway is the remote save API, all the calls are scoped
// to the authenticated caller.
type Gateway interface {
	AddEntry(ctx context.Context, gameID, saveID string, meta EntryMetadata, data []byte) error
	// GetAllSavesForGame returns the saves of the game ordered by time, without data.
	GetAllSavesForGame(ctx context.Context, gameID string) ([]EntryMetadata, error)
	GetSaveForGame(ctx context.Context, gameID, saveID string) (GameSaveState, error)
	DeleteSaveForGame(ctx context.Context, gameID, saveID string) error
	GetLatestSaveForGame(ctx context.Context, gameID string) (GameSaveState, error)
	// GetAllEntriesByTimestamp returns the saves of all the games, newest first.
	GetAllEntriesByTimestamp(ctx context.Context) ([]EntryMetadata, error)
}

// Caller tells who makes the calls.
type Caller interface {
	Principal() (string, bool)
}
