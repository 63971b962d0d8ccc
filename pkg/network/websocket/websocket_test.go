package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T, sockets chan<- *WS) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.OnMessage = func(message []byte, _ error) { _ = ws.Write(append([]byte("echo "), message...)) }
		ws.Listen()
		sockets <- ws
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEcho(t *testing.T) {
	sockets := make(chan *WS, 1)
	conn := dial(t, echoServer(t, sockets))
	<-sockets

	for _, m := range []string{"a", "bb", "ccc"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatal(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if kind != websocket.TextMessage || string(data) != "echo "+m {
			t.Errorf("got %v %q", kind, data)
		}
	}
}

func TestCloseSaysGoodbye(t *testing.T) {
	sockets := make(chan *WS, 1)
	conn := dial(t, echoServer(t, sockets))
	ws := <-sockets

	ws.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after close = %v, want a normal close", err)
	}
	select {
	case <-ws.Done:
	case <-time.After(3 * time.Second):
		t.Fatal("pumps are still running")
	}
	if err = ws.Write([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close = %v, want ErrClosed", err)
	}
}

func TestPeerGone(t *testing.T) {
	sockets := make(chan *WS, 1)
	conn := dial(t, echoServer(t, sockets))
	ws := <-sockets

	_ = conn.Close()
	select {
	case <-ws.Done:
	case <-time.After(3 * time.Second):
		t.Fatal("pumps are still running")
	}
}
