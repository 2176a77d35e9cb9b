package contracts

import (
	"context"
	"time"
)

// Broker is a best-effort wake-up bus with one channel per user.
type Broker interface {
	// Publish is fire-and-forget; no subscriber acknowledges it.
	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns once the broker confirmed the subscription.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Channel maps a user id to its channel name.
	Channel(userID string) string
}

// Subscription is owned by exactly one session.
type Subscription interface {
	Channel() string
	// Next waits for the next message. It returns domain.ErrWaitTimeout when
	// timeout elapses first, ctx.Err() on cancellation and
	// domain.ErrSubscriptionClosed once Close was called.
	Next(ctx context.Context, timeout time.Duration) (string, error)
	// Close unsubscribes. Calling it again is a no-op.
	Close() error
}
