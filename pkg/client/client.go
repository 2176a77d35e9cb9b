// Package client is a Go consumer of the live notification stream. It keeps
// the latest snapshot, reconnects with exponential backoff and sends
// keepalive pings.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"pok7/internal/core/domain"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

var ErrTooManyFailures = errors.New("client: giving up after repeated connection failures")

type Options struct {
	PingInterval time.Duration
	// MaxFailures bounds consecutive failed connection attempts. Zero means
	// retry forever.
	MaxFailures     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
	Dialer          *websocket.Dialer
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 60 * time.Second
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

type Client struct {
	url   string
	token string
	opts  Options
	log   *slog.Logger

	mu        sync.RWMutex
	snapshot  *domain.NotificationSnapshot
	ordered   []domain.PokeRelation
	connected bool

	updates chan *domain.NotificationSnapshot
}

// New creates a client for the stream at rawURL (ws:// or wss://).
func New(rawURL, token string, opts Options) *Client {
	opts.defaults()
	return &Client{
		url:     rawURL,
		token:   token,
		opts:    opts,
		log:     opts.Logger,
		updates: make(chan *domain.NotificationSnapshot, 1),
	}
}

// Snapshot returns the last snapshot received, or nil before the first one.
func (c *Client) Snapshot() *domain.NotificationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Relations returns the last relations in display order.
func (c *Client) Relations() []domain.PokeRelation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.PokeRelation(nil), c.ordered...)
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Updates delivers the newest snapshot. Slow readers only see the latest.
func (c *Client) Updates() <-chan *domain.NotificationSnapshot {
	return c.updates
}

// Run keeps a stream open until ctx is cancelled or MaxFailures consecutive
// attempts fail.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0

	failures := 0
	for {
		attached, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attached {
			failures = 0
			b.Reset()
		} else {
			failures++
		}
		if c.opts.MaxFailures > 0 && failures >= c.opts.MaxFailures {
			return fmt.Errorf("%w: %w", ErrTooManyFailures, err)
		}
		wait := b.NextBackOff()
		c.log.Warn("client - stream - disconnected", "err", err, "retry_in", wait, "failures", failures)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection. attached reports whether a snapshot was
// received, which resets the failure count.
func (c *Client) session(ctx context.Context) (attached bool, err error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	var writeMu sync.Mutex
	go c.pingLoop(connCtx, conn, &writeMu)

	defer c.setConnected(false)
	for {
		var frame domain.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return attached, err
		}
		switch frame.Type {
		case domain.TypeSnapshot:
			if frame.Snapshot == nil {
				continue
			}
			attached = true
			c.setSnapshot(frame.Snapshot)
		case domain.TypeError:
			return attached, fmt.Errorf("server error %s: %s", frame.Code, frame.Message)
		case domain.TypePong:
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, mu *sync.Mutex) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(domain.ClientFrame{Type: domain.TypePing})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.TextMessage, ping)
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) setSnapshot(snap *domain.NotificationSnapshot) {
	ordered := OrderRelations(snap.Relations)
	c.mu.Lock()
	c.snapshot = snap
	c.ordered = ordered
	c.connected = true
	c.mu.Unlock()

	// keep only the newest
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}
