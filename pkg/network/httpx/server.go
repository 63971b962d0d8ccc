package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

// certCache is where Let's Encrypt certificates are kept between restarts.
const certCache = "cert"

// Server serves HTTP or HTTPS on a listener opened in NewServer,
// so the final address is known before Run.
type Server struct {
	http.Server

	https     bool
	cert, key string
	listener  *Listener
	log       *logger.Logger
}

type (
	// Mux is http.ServeMux with all the patterns under a path prefix.
	Mux struct {
		*http.ServeMux
		prefix string
	}
	Handler        = http.Handler
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

func NewServeMux(prefix string) *Mux { return &Mux{ServeMux: http.NewServeMux(), prefix: prefix} }

// Handle registers the handler, a method in the pattern goes before the prefix.
func (m *Mux) Handle(pattern string, handler Handler) *Mux {
	m.ServeMux.Handle(m.pattern(pattern), handler)
	return m
}

func (m *Mux) HandleFunc(pattern string, handler func(ResponseWriter, *Request)) *Mux {
	m.ServeMux.HandleFunc(m.pattern(pattern), handler)
	return m
}

func (m *Mux) pattern(p string) string {
	if m.prefix == "" {
		return p
	}
	i := strings.IndexByte(p, '/')
	if i < 0 {
		return m.prefix + p
	}
	return p[:i] + m.prefix + p[i:]
}

// NewServer opens the listener for the address and builds the handler.
// The handler gets the server with its final address.
func NewServer(address string, handler func(*Server) Handler, options ...Option) (*Server, error) {
	opts := Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
	}
	opts.override(options...)
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	addr := address
	if addr == "" {
		addr = ":http"
		if opts.Https {
			addr = ":https"
		}
		log.Warn().Msgf("Empty server address has been changed to %v", addr)
	}
	listener, err := NewListener(addr, opts.PortRoll)
	if err != nil {
		return nil, err
	}

	server := &Server{
		Server: http.Server{
			Addr:         buildAddress(address, *listener),
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		https:    opts.Https,
		cert:     opts.HttpsCert,
		key:      opts.HttpsKey,
		listener: listener,
		log:      log,
	}
	if opts.Https && opts.IsAutoHttpsCert() {
		server.TLSConfig = autoCert(opts.HttpsDomain).TLSConfig()
	}
	server.Handler = handler(server)
	log.Info().Msgf("httpx %v (%v)", server.Addr, address)
	return server, nil
}

// autoCert gets Let's Encrypt certificates with the TLS-ALPN challenge
// on the server port, no plain HTTP listener is needed.
func autoCert(domain string) *autocert.Manager {
	m := autocert.Manager{Prompt: autocert.AcceptTOS, Cache: autocert.DirCache(certCache)}
	if domain != "" {
		m.HostPolicy = autocert.HostWhitelist(domain)
	}
	return &m
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.https {
		err = s.ServeTLS(*s.listener, s.cert, s.key)
	} else {
		err = s.Serve(*s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Debug().Msgf("%s server was closed", protocol)
		return
	}
	s.log.Error().Err(err).Msgf("%s server has failed", protocol)
}

// Shutdown stops the server gracefully, it closes the listener
// even when the server was never run.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Server) GetProtocol() string {
	if s.https {
		return "https"
	}
	return "http"
}
