package httpx

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
)

func TestMuxPrefix(t *testing.T) {
	tests := []struct {
		prefix  string
		pattern string
		want    string
	}{
		{pattern: "/metrics", want: "/metrics"},
		{prefix: "/mon", pattern: "/metrics", want: "/mon/metrics"},
		{prefix: "/mon", pattern: "GET /metrics", want: "GET /mon/metrics"},
		{prefix: "/api", pattern: "DELETE /games/{id}", want: "DELETE /api/games/{id}"},
	}
	for _, test := range tests {
		if got := NewServeMux(test.prefix).pattern(test.pattern); got != test.want {
			t.Errorf("pattern(%q, %q) = %q, want %q", test.prefix, test.pattern, got, test.want)
		}
	}
}

func TestServerRunShutdown(t *testing.T) {
	var addr string
	srv, err := NewServer("127.0.0.1:0", func(s *Server) Handler {
		addr = s.Addr
		return NewServeMux("/v1").HandleFunc("GET /ping", func(w ResponseWriter, _ *Request) {
			_, _ = w.Write([]byte("pong"))
		})
	}, WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if addr != srv.Addr || addr == "127.0.0.1" {
		t.Fatalf("handler got address %q, server has %q", addr, srv.Addr)
	}
	if srv.GetProtocol() != "http" {
		t.Errorf("protocol = %v", srv.GetProtocol())
	}
	srv.Run()

	res, err := http.Get("http://" + srv.Addr + "/v1/ping")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Errorf("got %v %q", res.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err = srv.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if _, err = http.Get("http://" + srv.Addr + "/v1/ping"); err == nil {
		t.Errorf("server still answers after shutdown")
	}
}

func TestShutdownNotRunning(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(*Server) Handler { return NewServeMux("") },
		WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err = srv.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
