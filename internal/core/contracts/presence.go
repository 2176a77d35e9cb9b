package contracts

import (
	"context"
	"time"
)

// PresenceRegistry tracks which users hold a live session, with expiry.
// Failures wrap domain.ErrPresenceUnavailable and are never reported as a
// plain "offline".
type PresenceRegistry interface {
	// MarkLive records userID as live for the next ttl.
	MarkLive(ctx context.Context, userID string, ttl time.Duration) error
	// Refresh extends an existing entry, or creates it.
	Refresh(ctx context.Context, userID string, ttl time.Duration) error
	// IsLive reports whether a non-expired entry exists, within a bounded timeout.
	IsLive(ctx context.Context, userID string) (bool, error)
	// MarkOffline removes the entry. Unknown users are a no-op.
	MarkOffline(ctx context.Context, userID string) error
	// ListLive and Count are for observability only.
	ListLive(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	// Sweep drops expired users from the index and returns how many it removed.
	Sweep(ctx context.Context) (int, error)
}
