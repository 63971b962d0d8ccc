package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// conn is the gorilla socket with the deadlines of the control channel.
type conn struct {
	sock *websocket.Conn
}

// keepAlive makes reads fail when no pong comes within wait.
func (c conn) keepAlive(wait time.Duration) {
	_ = c.sock.SetReadDeadline(time.Now().Add(wait))
	c.sock.SetPongHandler(func(string) error { return c.sock.SetReadDeadline(time.Now().Add(wait)) })
}

func (c conn) read() ([]byte, error) {
	_, message, err := c.sock.ReadMessage()
	return message, err
}

func (c conn) text(message []byte) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, message)
}

func (c conn) ping() error {
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// hangUp says goodbye to the peer and closes the socket.
func (c conn) hangUp() error {
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.sock.Close()
}
