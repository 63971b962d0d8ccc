// Package library manages the program images known to the app.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/store"
	"github.com/rs/xid"
)

var ErrEmptyROM = errors.New("empty ROM")

const untitled = "Untitled"

// Store is the persistent part of the library.
type Store interface {
	Get(ctx context.Context, id string) (store.Game, error)
	GetAll(ctx context.Context) ([]store.Game, error)
	Put(ctx context.Context, g store.Game) error
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, t time.Time) error
}

type Library struct {
	store Store
	x     extractor
	conf  config.Library
	log   *logger.Logger
	now   func() time.Time
}

func New(st Store, conf config.Library, log *logger.Logger) *Library {
	if log == nil {
		log = logger.Nop()
	}
	if conf.MaxRomSize <= 0 {
		conf.MaxRomSize = 64 << 20
	}
	if len(conf.Extensions) == 0 {
		conf.Extensions = []string{".nes", ".sfc", ".smc", ".gb", ".gbc", ".gba", ".md", ".bin"}
	}
	return &Library{
		store: st,
		x:     extractor{extensions: conf.Extensions, maxSize: conf.MaxRomSize},
		conf:  conf,
		log:   log.Module("library"),
		now:   time.Now,
	}
}

// Import adds a ROM file or an archive with a ROM to the library.
// An empty title is taken from the ROM file name.
// Data that is not an archive is stored as a ROM whatever its name is.
func (l *Library) Import(ctx context.Context, title, filename string, data []byte) (store.Game, error) {
	if len(data) == 0 {
		return store.Game{}, ErrEmptyROM
	}
	rom, name, err := l.x.extract(filename, data)
	if err != nil {
		return store.Game{}, err
	}
	if len(rom) == 0 {
		return store.Game{}, ErrEmptyROM
	}
	if title = strings.TrimSpace(title); title == "" && name != "" && name != "." {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if title == "" {
		title = untitled
	}
	return l.Add(ctx, title, rom)
}

// ImportFile imports a ROM or an archive file from the disk,
// other files are ErrUnsupportedFormat.
func (l *Library) ImportFile(ctx context.Context, path string) (store.Game, error) {
	if !l.x.isROM(path) && !isArchive(path) {
		return store.Game{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return store.Game{}, err
	}
	// archives get some room for their headers
	if info.Size() > 2*l.conf.MaxRomSize {
		return store.Game{}, ErrFileTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Game{}, err
	}
	return l.Import(ctx, "", filepath.Base(path), data)
}

// Add stores the ROM as a new game.
func (l *Library) Add(ctx context.Context, title string, rom []byte) (store.Game, error) {
	g := store.Game{ID: xid.New().String(), Title: title, LastPlayedAt: l.now(), ROM: rom}
	if err := l.store.Put(ctx, g); err != nil {
		return store.Game{}, fmt.Errorf("add %v: %w", title, err)
	}
	l.log.Info().Str("id", g.ID).Str("title", title).Int("size", len(rom)).Msg("game added")
	return g, nil
}

// List returns the games without their images, the most recently played first.
func (l *Library) List(ctx context.Context) ([]store.Game, error) { return l.store.GetAll(ctx) }

func (l *Library) Get(ctx context.Context, id string) (store.Game, error) {
	return l.store.Get(ctx, id)
}

// Remove deletes the game, its saves stay where they are.
func (l *Library) Remove(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.log.Info().Str("id", id).Msg("game removed")
	return nil
}

// Touch marks the game as just played.
func (l *Library) Touch(ctx context.Context, id string) error {
	return l.store.Touch(ctx, id, l.now())
}

// Watch imports the new files appearing in the watch directory
// until the context is done. Files already there are not imported.
func (l *Library) Watch(ctx context.Context) error {
	dir := l.conf.WatchDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	l.log.Info().Str("dir", dir).Msg("watching for new ROMs")

	go func() {
		defer func() { _ = watcher.Close() }()
		pending := newDebouncer(watchSettleTime)
		defer pending.stop()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				name := event.Name
				if !l.x.isROM(name) && !isArchive(name) {
					continue
				}
				pending.do(name, func() {
					g, err := l.ImportFile(ctx, name)
					if err != nil {
						l.log.Error().Err(err).Str("file", name).Msg("import failed")
						return
					}
					l.log.Info().Str("file", name).Str("id", g.ID).Msg("imported")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Error().Err(err).Msg("watch error")
			case <-ctx.Done():
				l.log.Info().Msg("watch has ended")
				return
			}
		}
	}()
	return nil
}

// files are imported after they don't change for a while
const watchSettleTime = 500 * time.Millisecond

type debouncer struct {
	wait time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer(wait time.Duration) *debouncer {
	return &debouncer{wait: wait, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) do(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		if d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
}
