package ws

import (
	"context"
	"encoding/json"
	"errors"
	"pok7/internal/core/domain"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("client closed")

// RuntimeClient serialises all writes to one socket through a single loop.
type RuntimeClient struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewClient(parent context.Context, ws *WebSocket) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		out:    make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RuntimeClient) SendFrame(ctx context.Context, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.Send(ctx, data)
}

// Emit writes a snapshot frame. It is the stream side of a live session.
func (c *RuntimeClient) Emit(ctx context.Context, snap *domain.NotificationSnapshot) error {
	return c.SendFrame(ctx, domain.SnapshotFrame{
		Type:     domain.TypeSnapshot,
		Snapshot: snap,
		SentAt:   time.Now().UTC(),
	})
}

// Close stops accepting frames; already queued frames are still flushed.
func (c *RuntimeClient) Close() {
	c.once.Do(c.cancel)
}

// Done is closed once the socket has been torn down.
func (c *RuntimeClient) Done() <-chan struct{} {
	return c.done
}

// writeLoop owns every data write and sends keepalive pings in between.
func (c *RuntimeClient) writeLoop() {
	defer close(c.done)
	ping := time.NewTicker(c.ws.keepalive.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			c.ws.CloseWith(websocket.CloseNormalClosure, "")
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				c.Close()
				c.ws.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.Ping(); err != nil {
				c.Close()
				c.ws.Close()
				return
			}
		}
	}
}

func (c *RuntimeClient) flush() {
	for {
		select {
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		default:
			return
		}
	}
}
