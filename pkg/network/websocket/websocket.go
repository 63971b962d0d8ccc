package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/retroplay/retroplay/pkg/com"
	"github.com/retroplay/retroplay/pkg/logger"
)

const (
	// snapshots travel through the socket
	maxMessageSize = 8 << 20
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendQueue      = 32
)

var ErrClosed = errors.New("websocket is closed")

type WS struct {
	id   com.Uid
	conn conn
	send chan []byte

	OnMessage MessageHandler

	pingPong bool
	log      *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	// Done is closed after the connection is gone.
	Done chan struct{}
}

type MessageHandler func(message []byte, err error)

var DefaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// NewServer upgrades the HTTP request to a websocket connection.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := DefaultUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func newSocket(sock *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Nop()
	}
	id := com.NewUid()
	return &WS{
		id:       id,
		conn:     conn{sock: sock},
		send:     make(chan []byte, sendQueue),
		pingPong: pingPong,
		log:      log.Extend(log.With().Str("ws", id.Short())),
		stop:     make(chan struct{}),
		Done:     make(chan struct{}),
	}
}

func (ws *WS) Id() com.Uid { return ws.id }

// Listen starts the read and write pumps, OnMessage should be set before that.
func (ws *WS) Listen() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ws.writer() }()
	go func() { defer wg.Done(); ws.reader() }()
	go func() {
		wg.Wait()
		close(ws.Done)
		ws.log.Debug().Msg("closed")
	}()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.Close()
	ws.conn.sock.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		ws.conn.keepAlive(pongTime)
	}
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	var ping <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() { _ = ws.conn.hangUp() }()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.text(message); err != nil {
				ws.log.Warn().Err(err).Msg("write error")
				ws.Close()
				return
			}
		case <-ping:
			if err := ws.conn.ping(); err != nil {
				ws.log.Warn().Err(err).Msg("ping error")
				ws.Close()
				return
			}
		case <-ws.stop:
			return
		}
	}
}

// Write queues the message, it blocks while the queue is full.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.stop:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.stop:
		return ErrClosed
	}
}

// Close stops both pumps, it's safe to call many times.
func (ws *WS) Close() { ws.stopOnce.Do(func() { close(ws.stop) }) }
