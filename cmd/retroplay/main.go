package main

import (
	"context"
	"time"

	"github.com/retroplay/retroplay/pkg/app"
	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/os"
)

var Version = "?"

func main() {
	conf, err := config.NewConfig()
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config load")
	}
	conf.ParseFlags()

	log := logger.NewConsole(conf.Debug, "rp", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf.Redacted())
	}
	a, err := app.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	if err = a.Start(); err != nil {
		log.Fatal().Err(err).Msg("start")
	}

	<-os.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
