// Package app wires the services of the host application.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/retroplay/retroplay/pkg/auth"
	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/emulator"
	"github.com/retroplay/retroplay/pkg/emulator/demo"
	"github.com/retroplay/retroplay/pkg/input"
	"github.com/retroplay/retroplay/pkg/library"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/monitoring"
	ros "github.com/retroplay/retroplay/pkg/os"
	"github.com/retroplay/retroplay/pkg/remote"
	"github.com/retroplay/retroplay/pkg/saves"
	"github.com/retroplay/retroplay/pkg/server"
	"github.com/retroplay/retroplay/pkg/service"
	"github.com/retroplay/retroplay/pkg/session"
	"github.com/retroplay/retroplay/pkg/settings"
	"github.com/retroplay/retroplay/pkg/store"
)

type App struct {
	conf     config.Config
	services service.Group
	library  *library.Library
	srv      *server.Server
	closers  []func() error
	cancel   context.CancelFunc
	log      *logger.Logger
}

func New(conf config.Config, log *logger.Logger) (*App, error) {
	app := &App{conf: conf, log: log}
	if err := ros.CheckCreateDir(conf.Data.Path); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	libStore := store.NewLibraryStore(conf.Data.DataFile(conf.Data.LibraryDB), log)
	saveStore := store.NewSaveStore(conf.Data.DataFile(conf.Data.SavesDB), log)
	app.closers = append(app.closers, libStore.Close, saveStore.Close)

	objects, err := remote.NewObjectStore(conf.Remote, log)
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("remote saves: %w", err)
	}
	app.closers = append(app.closers, objects.Close)

	identity := auth.NewIdentity(log)
	gateway := remote.NewBucketGateway(objects, identity, log)
	coordinator := saves.NewCoordinator(identity, saveStore, gateway, log)
	identity.OnChange(func(bool) {
		log.Info().Str("mode", coordinator.Mode().String()).Msg("save mode")
	})

	prefs := settings.NewManager(conf.Data.DataFile(conf.Data.Settings), log)
	if _, err := prefs.Load(); err != nil {
		log.Warn().Err(err).Msg("settings are not loaded, using defaults")
	}

	app.library = library.New(libStore, conf.Library, log)
	api := server.NewApi(server.Deps{
		Env: session.Env{
			Library: app.library,
			Saves:   coordinator,
			Router:  input.NewRouter(conf.Input.Keys, log),
			Surface: emulator.NewSurface(conf.Runtime.Surface, conf.Runtime.Width, conf.Runtime.Height),
			NewCore: func() emulator.Core { return demo.New() },
			Fps:     conf.Runtime.Fps,
			Buffer:  conf.Runtime.InputBuffer,
			Log:     log,
		},
		Identity:  identity,
		Settings:  prefs,
		MaxUpload: 2 * conf.Library.MaxRomSize,
	}, log)

	srv, err := server.New(conf.Server, api, log)
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("http server: %w", err)
	}
	app.srv = srv
	app.services.Add(srv)

	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, log)
		if err != nil {
			_ = app.close()
			return nil, err
		}
		app.services.Add(mon)
	}
	return app, nil
}

// Start runs all the services and the drop folder watcher.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if err := a.library.Watch(ctx); err != nil {
		a.log.Error().Err(err).Msg("drop folder watch has failed")
	}
	a.services.Start()
	return nil
}

// Shutdown stops the services and closes the databases.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return errors.Join(a.services.Shutdown(ctx), a.close())
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
