package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

// ErrPeerTimeout means the peer sent nothing, not even a pong, within the
// keepalive window.
var ErrPeerTimeout = errors.New("ws peer stopped responding")

// Keepalive controls server pings. PongWait must exceed PingInterval.
type Keepalive struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

var DefaultKeepalive = Keepalive{
	PingInterval: 30 * time.Second,
	PongWait:     70 * time.Second,
}

type WebSocket struct {
	*websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	log       *slog.Logger
	keepalive Keepalive
}

func NewWebSocket(parent context.Context, log *slog.Logger, conn *websocket.Conn, keepalive Keepalive) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{Conn: conn, ctx: ctx, cancel: cancel, log: log, keepalive: keepalive}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) Ping() error {
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *WebSocket) extendReadDeadline() error {
	return w.Conn.SetReadDeadline(time.Now().Add(w.keepalive.PongWait))
}

// ReadLoop hands every non-empty text frame to onMsg until the peer goes
// away, the socket is closed or onMsg fails. Any frame or pong from the
// peer extends the read deadline. A normal close returns nil; a silent
// peer returns ErrPeerTimeout. When onMsg fails the socket stays open so
// the writer can still explain why.
func (w *WebSocket) ReadLoop(onMsg func([]byte) error) error {
	// Client frames are tiny keepalives
	w.Conn.SetReadLimit(maxMessageSize)
	_ = w.extendReadDeadline()
	w.Conn.SetPongHandler(func(string) error { return w.extendReadDeadline() })

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			closedLocally := w.ctx.Err() != nil
			w.Close()
			var netErr net.Error
			switch {
			case closedLocally,
				websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				return nil
			case errors.As(err, &netErr) && netErr.Timeout():
				w.log.Warn("ws - read loop - peer timed out", "wait", w.keepalive.PongWait)
				return ErrPeerTimeout
			default:
				w.log.Warn("ws - read loop - unexpected close", "err", err)
				return err
			}
		}
		_ = w.extendReadDeadline()
		if len(data) == 0 {
			continue
		}
		if err := onMsg(data); err != nil {
			return err
		}
	}
}

// CloseWith sends a close frame before tearing the connection down.
func (w *WebSocket) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.Close()
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}
