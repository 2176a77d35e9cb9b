package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSubscriptionBuffer = 8
	defaultCommandTimeout     = 5 * time.Second
	healthCheckInterval       = 30 * time.Second
)

var errBrokerNotRunning = errors.New("broker not running")

// Broker multiplexes every user channel of this process over a single Redis
// Pub/Sub connection. The first local subscriber of a channel issues
// SUBSCRIBE, the last one to leave issues UNSUBSCRIBE.
type Broker struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	prefix string
	log    *slog.Logger

	buffer     int
	cmdTimeout time.Duration

	mu       sync.Mutex
	channels map[string]*channelState
	started  bool
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

type channelState struct {
	subs      map[*Subscription]struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func (c *channelState) confirm() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func NewBroker(log *slog.Logger, rdb *redis.Client, prefix string) *Broker {
	return &Broker{
		rdb:        rdb,
		ps:         rdb.Subscribe(context.Background()),
		prefix:     prefix,
		log:        log,
		buffer:     defaultSubscriptionBuffer,
		cmdTimeout: defaultCommandTimeout,
		channels:   make(map[string]*channelState),
		done:       make(chan struct{}),
	}
}

// Start runs the receive loop until Close is called or ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.started = true
	go b.receive(ctx)
}

// Close tears down every subscription and the shared connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	states := b.channels
	b.channels = make(map[string]*channelState)
	b.mu.Unlock()

	for _, st := range states {
		for s := range st.subs {
			s.shutdown()
		}
	}
	if b.cancel != nil {
		b.cancel()
	}
	err := b.ps.Close()
	if started {
		<-b.done
	}
	b.log.Info("broker - close - closed", "channels", len(states))
	return err
}

func (b *Broker) Channel(userID string) string {
	return b.prefix + userID
}

func (b *Broker) Publish(ctx context.Context, channel, message string) error {
	if err := b.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", domain.ErrBrokerUnavailable, channel, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (contracts.Subscription, error) {
	s := &Subscription{
		broker:  b,
		channel: channel,
		msgs:    make(chan string, b.buffer),
		done:    make(chan struct{}),
	}
	st, err := b.attach(ctx, s)
	if err != nil {
		return nil, err
	}
	wait, cancel := context.WithTimeout(ctx, b.cmdTimeout)
	defer cancel()
	select {
	case <-st.ready:
		return s, nil
	case <-s.done:
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrBrokerUnavailable, channel, domain.ErrSubscriptionClosed)
	case <-wait.Done():
		_ = s.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrBrokerUnavailable, channel, wait.Err())
	}
}

// attach registers s and issues SUBSCRIBE for a channel new to this process.
// Commands are sent under b.mu so SUBSCRIBE/UNSUBSCRIBE of one channel
// reach the server in the order the local table changed.
func (b *Broker) attach(ctx context.Context, s *Subscription) (*channelState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closed {
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrBrokerUnavailable, s.channel, errBrokerNotRunning)
	}
	st, ok := b.channels[s.channel]
	if !ok {
		st = &channelState{
			subs:  make(map[*Subscription]struct{}),
			ready: make(chan struct{}),
		}
		cmdCtx, cancel := context.WithTimeout(ctx, b.cmdTimeout)
		defer cancel()
		if err := b.ps.Subscribe(cmdCtx, s.channel); err != nil {
			return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrBrokerUnavailable, s.channel, err)
		}
		b.channels[s.channel] = st
	}
	st.subs[s] = struct{}{}
	return st, nil
}

func (b *Broker) detach(s *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.channels[s.channel]
	if !ok {
		return nil
	}
	if _, mine := st.subs[s]; !mine {
		return nil
	}
	delete(st.subs, s)
	if len(st.subs) > 0 || b.closed {
		return nil
	}
	delete(b.channels, s.channel)
	ctx, cancel := context.WithTimeout(context.Background(), b.cmdTimeout)
	defer cancel()
	if err := b.ps.Unsubscribe(ctx, s.channel); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", domain.ErrBrokerUnavailable, s.channel, err)
	}
	return nil
}

// Subscribers returns the number of local subscriptions on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.channels[channel]; ok {
		return len(st.subs)
	}
	return 0
}

func (b *Broker) receive(ctx context.Context) {
	defer close(b.done)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	for {
		msg, err := b.ps.ReceiveTimeout(ctx, healthCheckInterval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// idle connection, make sure it is still there
				_ = b.ps.Ping(ctx)
				continue
			}
			wait := bo.NextBackOff()
			b.log.WarnContext(ctx, "broker - receive - connection error, retrying", "err", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
		case *redis.Message:
			b.dispatch(m.Channel, m.Payload)
		case *redis.Pong:
		}
	}
}

func (b *Broker) confirm(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.channels[channel]; ok {
		st.confirm()
	}
}

func (b *Broker) dispatch(channel, payload string) {
	b.mu.Lock()
	st, ok := b.channels[channel]
	var subs []*Subscription
	if ok {
		subs = make([]*Subscription, 0, len(st.subs))
		for s := range st.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.deliver(payload)
	}
}

// Subscription is one session's listener on a user channel.
type Subscription struct {
	broker  *Broker
	channel string
	msgs    chan string
	done    chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
	closeErr  error
}

func (s *Subscription) Channel() string {
	return s.channel
}

// deliver never blocks the receive loop. A full buffer already holds a
// pending wake-up, and receivers re-read state anyway.
func (s *Subscription) deliver(payload string) {
	select {
	case <-s.done:
	case s.msgs <- payload:
	default:
	}
}

// Next resolves exactly once: to a message, the timeout, cancellation or
// closure, whichever the select picks first. The timer is always released.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case <-s.done:
		return "", domain.ErrSubscriptionClosed
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-expired:
		return "", domain.ErrWaitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", domain.ErrSubscriptionClosed
	}
}

func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.shutdown()
		s.closeErr = s.broker.detach(s)
	})
	return s.closeErr
}

func (s *Subscription) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}
