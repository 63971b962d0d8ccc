// Package store keeps the program library and the local save states
// in two sqlite databases on the device.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/os"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrStoreUnavailable means the database couldn't be opened.
	ErrStoreUnavailable = errors.New("local store is unavailable")
	ErrNotFound         = errors.New("not found")
)

// database is a lazily opened sqlite file guarded by a device lock.
// It has a single connection so all the queries run in call order.
type database struct {
	path   string
	schema []string
	log    *logger.Logger

	mu   sync.Mutex
	db   *sql.DB
	lock *os.Flock
}

func newDatabase(path string, schema []string, log *logger.Logger) *database {
	if log == nil {
		log = logger.Nop()
	}
	return &database{path: path, schema: schema, log: log.Module("store")}
}

// conn opens the database on the first call and then keeps it open.
// A failed open is not remembered, the next call tries again.
func (d *database) conn(ctx context.Context) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return d.db, nil
	}
	db, err := d.open(ctx)
	if err != nil {
		d.log.Error().Err(err).Str("path", d.path).Msg("open failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	d.db = db
	d.log.Debug().Str("path", d.path).Msg("opened")
	return db, nil
}

func (d *database) open(ctx context.Context) (_ *sql.DB, err error) {
	if err = os.CheckCreateDir(filepath.Dir(d.path)); err != nil {
		return nil, err
	}
	lock, err := os.NewFileLock(d.path + ".lock")
	if err != nil {
		return nil, err
	}
	if err = lock.TryLock(); err != nil {
		return nil, fmt.Errorf("%v: %w", lock.Path(), err)
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	db, err := sql.Open("sqlite3", "file:"+d.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	if err = db.PingContext(ctx); err != nil {
		return nil, err
	}
	for _, stmt := range d.schema {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			return nil, err
		}
	}
	d.lock = lock
	return db, nil
}

func (d *database) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := errors.Join(d.db.Close(), d.lock.Unlock())
	d.db, d.lock = nil, nil
	return err
}
