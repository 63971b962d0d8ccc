package server

import (
	"context"

	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/network/httpx"
)

// Server runs the API on the host HTTP(S) server.
type Server struct {
	api  *Api
	http *httpx.Server
	log  *logger.Logger
}

func New(conf config.Server, api *Api, log *logger.Logger) (*Server, error) {
	log = log.Module("http")
	srv, err := httpx.NewServer(
		conf.Address,
		func(*httpx.Server) httpx.Handler { return api.Handler() },
		httpx.WithServerConfig(conf),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &Server{api: api, http: srv, log: log}, nil
}

func (s *Server) Run() { s.http.Run() }

// Shutdown disconnects the control channel clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.api.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) Addr() string   { return s.http.Addr }
func (s *Server) String() string { return s.http.GetProtocol() + "://" + s.http.Addr }
