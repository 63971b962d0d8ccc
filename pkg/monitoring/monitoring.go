package monitoring

import (
	"context"
	"fmt"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/network/httpx"
)

type Monitoring struct {
	conf   config.Monitoring
	server *httpx.Server
	log    *logger.Logger
}

// New creates new monitoring service.
func New(conf config.Monitoring, log *logger.Logger) (*Monitoring, error) {
	log = log.Module("monitoring")
	serv, err := httpx.NewServer(
		fmt.Sprintf(":%d", conf.Port),
		func(serv *httpx.Server) httpx.Handler {
			h := httpx.NewServeMux(conf.URLPrefix)

			if conf.ProfilingEnabled {
				log.Info().Msgf("Profiling is enabled at %v%v/debug/pprof", serv.Addr, conf.URLPrefix)
				h.HandleFunc("/debug/pprof/", pprof.Index)
				h.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
				h.HandleFunc("/debug/pprof/profile", pprof.Profile)
				h.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
				h.HandleFunc("/debug/pprof/trace", pprof.Trace)
				// pprof handler for custom pprof path needs to be explicitly specified
				for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
					h.Handle("/debug/pprof/"+name, pprof.Handler(name))
				}
			}

			if conf.MetricEnabled {
				log.Info().Msgf("Prometheus metrics are enabled at %v%v/metrics", serv.Addr, conf.URLPrefix)
				h.Handle("/metrics", promhttp.Handler())
			}

			return h
		},
		httpx.WithPortRoll(true),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("monitoring server: %w", err)
	}
	return &Monitoring{conf: conf, server: serv, log: log}, nil
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.server.Addr)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
