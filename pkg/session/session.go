// Package session binds one game from the library to a runtime,
// the input router and the save coordinator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/retroplay/retroplay/pkg/emulator"
	"github.com/retroplay/retroplay/pkg/input"
	"github.com/retroplay/retroplay/pkg/library"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/saves"
	"github.com/retroplay/retroplay/pkg/store"
)

var ErrClosed = errors.New("session is closed")

// Env is everything a session needs.
type Env struct {
	Library *library.Library
	Saves   *saves.Coordinator
	Router  *input.Router
	Surface *emulator.Surface
	// NewCore makes a fresh emulation core for each session.
	NewCore func() emulator.Core
	Fps     float64
	Buffer  int
	Log     *logger.Logger
}

type Session struct {
	game    store.Game
	rt      *emulator.Runtime
	saves   *saves.Coordinator
	release func()
	log     *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Open loads the game into a new runtime bound to the env surface
// and attaches the input router to it. The game isn't started.
func Open(ctx context.Context, env Env, gameID string) (*Session, error) {
	log := env.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.Module("session")

	game, err := env.Library.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("game %v: %w", gameID, err)
	}

	rt, err := emulator.New(env.NewCore(), env.Surface,
		emulator.WithFps(env.Fps),
		emulator.WithInputBuffer(env.Buffer),
		emulator.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if err = rt.LoadImage(game.ROM); err != nil {
		rt.Cleanup()
		return nil, err
	}
	release := env.Router.Attach(rt.Inputs())

	if err := env.Library.Touch(ctx, gameID); err != nil {
		log.Warn().Err(err).Str("game", gameID).Msg("couldn't update the last played time")
	}
	game.ROM = nil
	log.Info().Str("game", gameID).Str("title", game.Title).Msg("opened")

	return &Session{
		game:    game,
		rt:      rt,
		saves:   env.Saves,
		release: release,
		log:     log.Extend(log.With().Str("game", gameID)),
		closed:  make(chan struct{}),
	}, nil
}

func (s *Session) Game() store.Game           { return s.game }
func (s *Session) Runtime() *emulator.Runtime { return s.rt }

// Close detaches the input and releases the runtime with its surface.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.release()
		s.rt.Cleanup()
		s.log.Info().Msg("closed")
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Save snapshots the runtime and stores it as a new save.
func (s *Session) Save(ctx context.Context, title string) (saves.SaveEntry, error) {
	if s.isClosed() {
		return saves.SaveEntry{}, ErrClosed
	}
	return s.saves.CreateSave(ctx, s.game.ID, title, s.rt.ExportSnapshot())
}

// Load restores the runtime from a save, the runtime status is kept.
func (s *Session) Load(ctx context.Context, saveID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	data, err := s.saves.LoadSave(ctx, s.game.ID, saveID)
	if err != nil {
		return err
	}
	s.rt.ImportSnapshot(data)
	return nil
}

// LoadLatest restores the runtime from the most recent save.
func (s *Session) LoadLatest(ctx context.Context) (saves.SaveEntry, error) {
	if s.isClosed() {
		return saves.SaveEntry{}, ErrClosed
	}
	e, err := s.saves.LatestSave(ctx, s.game.ID)
	if err != nil {
		return saves.SaveEntry{}, err
	}
	s.rt.ImportSnapshot(e.Payload)
	e.Payload = nil
	return e, nil
}

func (s *Session) Saves(ctx context.Context) ([]saves.SaveEntry, error) {
	return s.saves.ListSaves(ctx, s.game.ID)
}

func (s *Session) Delete(ctx context.Context, saveID string) error {
	return s.saves.DeleteSave(ctx, s.game.ID, saveID)
}
