// Package saves routes the save states of a game either to the device
// or to the remote storage depending on whether the user is logged in.
package saves

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/remote"
	"github.com/retroplay/retroplay/pkg/store"
)

var (
	ErrNotFound         = errors.New("save not found")
	ErrEmptyPayload     = errors.New("empty save payload")
	ErrRemoteCallFailed = remote.ErrRemoteCallFailed
	ErrStoreUnavailable = store.ErrStoreUnavailable
)

// Mode is the storage backend of a call.
type Mode int

const (
	Local Mode = iota
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// AuthStatus tells whether the user is logged in.
type AuthStatus interface {
	IsAuthenticated() bool
}

// LocalStore is the device storage of the save states.
type LocalStore interface {
	Get(ctx context.Context, id string) (store.SaveState, error)
	Put(ctx context.Context, st store.SaveState) error
	Delete(ctx context.Context, id string) error
	ListForGame(ctx context.Context, gameID string) ([]store.SaveState, error)
	GetAll(ctx context.Context) ([]store.SaveState, error)
}

// SaveEntry is a save state of some game.
// Payload is set only when the save is loaded.
type SaveEntry struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   []byte    `json:"-"`
}

// Coordinator picks the backend on each call, there is no
// fallback from one backend to another.
type Coordinator struct {
	auth    AuthStatus
	local   LocalStore
	gateway remote.Gateway
	log     *logger.Logger
	now     func() time.Time
}

func NewCoordinator(auth AuthStatus, local LocalStore, gateway remote.Gateway, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{auth: auth, local: local, gateway: gateway, log: log.Module("saves"), now: time.Now}
}

// Mode returns the backend the next call would use.
func (c *Coordinator) Mode() Mode {
	if c.auth.IsAuthenticated() {
		return Remote
	}
	return Local
}

func (c *Coordinator) CreateSave(ctx context.Context, gameID, title string, payload []byte) (SaveEntry, error) {
	if len(payload) == 0 {
		return SaveEntry{}, ErrEmptyPayload
	}
	now := c.now()
	entry := SaveEntry{ID: NewSaveID(now), GameID: gameID, Title: title, CreatedAt: now}

	mode := c.Mode()
	var err error
	switch mode {
	case Remote:
		meta := remote.EntryMetadata{ID: entry.ID, GameID: gameID, Title: title, Timestamp: now}
		err = c.gateway.AddEntry(ctx, gameID, entry.ID, meta, payload)
	default:
		err = c.local.Put(ctx, store.SaveState{ID: entry.ID, GameID: gameID, Title: title, CreatedAt: now, Data: payload})
	}
	if err = c.done(mode, "create", err); err != nil {
		return SaveEntry{}, err
	}
	c.log.Info().Str("mode", mode.String()).Str("game", gameID).Str("id", entry.ID).Msg("save created")
	return entry, nil
}

// ListSaves returns the saves of the game in the current backend
// ordered by their creation time. The entries have no payload.
func (c *Coordinator) ListSaves(ctx context.Context, gameID string) ([]SaveEntry, error) {
	mode := c.Mode()
	entries := make([]SaveEntry, 0)
	switch mode {
	case Remote:
		list, err := c.gateway.GetAllSavesForGame(ctx, gameID)
		if err = c.done(mode, "list", err); err != nil {
			return nil, err
		}
		for _, m := range list {
			entries = append(entries, fromMeta(m))
		}
	default:
		list, err := c.local.ListForGame(ctx, gameID)
		if err = c.done(mode, "list", err); err != nil {
			return nil, err
		}
		for _, st := range list {
			entries = append(entries, fromState(st, false))
		}
	}
	sortEntries(entries)
	return entries, nil
}

// AllSaves returns the saves of every game in the current backend,
// the newest first. The entries have no payload.
func (c *Coordinator) AllSaves(ctx context.Context) ([]SaveEntry, error) {
	mode := c.Mode()
	entries := make([]SaveEntry, 0)
	if mode == Remote {
		list, err := c.gateway.GetAllEntriesByTimestamp(ctx)
		if err = c.done(mode, "all", err); err != nil {
			return nil, err
		}
		for _, m := range list {
			entries = append(entries, fromMeta(m))
		}
		return entries, nil
	}

	list, err := c.local.GetAll(ctx)
	if err = c.done(mode, "all", err); err != nil {
		return nil, err
	}
	for _, st := range list {
		entries = append(entries, fromState(st, false))
	}
	sortEntries(entries)
	slices.Reverse(entries)
	return entries, nil
}

// LoadSave returns the payload of the save.
func (c *Coordinator) LoadSave(ctx context.Context, gameID, saveID string) ([]byte, error) {
	e, err := c.load(ctx, c.Mode(), gameID, saveID)
	if err != nil {
		return nil, err
	}
	return e.Payload, nil
}

// LatestSave returns the most recent save of the game with its payload.
func (c *Coordinator) LatestSave(ctx context.Context, gameID string) (SaveEntry, error) {
	mode := c.Mode()
	if mode == Remote {
		st, err := c.gateway.GetLatestSaveForGame(ctx, gameID)
		if err = c.done(mode, "latest", err); err != nil {
			return SaveEntry{}, err
		}
		e := fromMeta(st.Metadata)
		e.Payload = st.Data
		return e, nil
	}

	list, err := c.local.ListForGame(ctx, gameID)
	if err = c.done(mode, "latest", err); err != nil {
		return SaveEntry{}, err
	}
	if len(list) == 0 {
		return SaveEntry{}, ErrNotFound
	}
	entries := make([]SaveEntry, 0, len(list))
	for _, st := range list {
		entries = append(entries, fromState(st, true))
	}
	sortEntries(entries)
	return entries[len(entries)-1], nil
}

// DeleteSave removes the save from the current backend,
// a missing save is not an error.
func (c *Coordinator) DeleteSave(ctx context.Context, gameID, saveID string) error {
	mode := c.Mode()
	var err error
	switch mode {
	case Remote:
		err = c.gateway.DeleteSaveForGame(ctx, gameID, saveID)
	default:
		var st store.SaveState
		st, err = c.local.Get(ctx, saveID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && st.GameID != gameID) {
			return c.done(mode, "delete", nil)
		}
		if err == nil {
			err = c.local.Delete(ctx, saveID)
		}
	}
	if err = c.done(mode, "delete", err); err != nil {
		return err
	}
	c.log.Info().Str("mode", mode.String()).Str("game", gameID).Str("id", saveID).Msg("save deleted")
	return nil
}

func (c *Coordinator) load(ctx context.Context, mode Mode, gameID, saveID string) (SaveEntry, error) {
	if mode == Remote {
		st, err := c.gateway.GetSaveForGame(ctx, gameID, saveID)
		if err = c.done(mode, "load", err); err != nil {
			return SaveEntry{}, err
		}
		e := fromMeta(st.Metadata)
		e.Payload = st.Data
		return e, nil
	}
	st, err := c.local.Get(ctx, saveID)
	if err == nil && st.GameID != gameID {
		err = store.ErrNotFound
	}
	if err = c.done(mode, "load", err); err != nil {
		return SaveEntry{}, err
	}
	return fromState(st, true), nil
}

// done maps the backend errors and counts the call.
func (c *Coordinator) done(mode Mode, op string, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		c.log.Error().Err(err).Str("mode", mode.String()).Str("op", op).Msg("save call failed")
	}
	calls.WithLabelValues(mode.String(), op, result(err)).Inc()
	return err
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

// NewSaveID makes a unique save id: save-<unix ms>-<9 base36 chars>.
func NewSaveID(t time.Time) string {
	u := uuid.Must(uuid.NewV4())
	r := strconv.FormatUint(binary.BigEndian.Uint64(u[8:]), 36)
	if len(r) < 9 {
		r = strings.Repeat("0", 9-len(r)) + r
	}
	return fmt.Sprintf("save-%d-%s", t.UnixMilli(), r[len(r)-9:])
}

func fromMeta(m remote.EntryMetadata) SaveEntry {
	return SaveEntry{ID: m.ID, GameID: m.GameID, Title: m.Title, CreatedAt: m.Timestamp}
}

func fromState(st store.SaveState, withData bool) SaveEntry {
	e := SaveEntry{ID: st.ID, GameID: st.GameID, Title: st.Title, CreatedAt: st.CreatedAt}
	if withData {
		e.Payload = st.Data
	}
	return e
}

func sortEntries(entries []SaveEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
