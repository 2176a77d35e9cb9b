package domain

import (
	"context"
	"time"
)

// UserRepository reads account profiles.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	// SearchUsers matches name or username, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error)
	// GetAnonymized returns the stored alias; unset parts are empty.
	GetAnonymized(ctx context.Context, userID string) (*AnonymizedIdentity, error)
	// SetAnonymized overwrites the non-empty parts of identity.
	SetAnonymized(ctx context.Context, userID string, identity AnonymizedIdentity) error
}

// PokeRepository owns poke relations and the snapshot query.
type PokeRepository interface {
	// Increment bumps the relation between actor and target, creating it on
	// first poke. Returns the relation and whether it was created.
	Increment(ctx context.Context, actorID, targetID string, at time.Time) (*PokeRelation, bool, error)
	// FetchNotificationSnapshot must be idempotent and safe to call repeatedly.
	FetchNotificationSnapshot(ctx context.Context, userID string) (*NotificationSnapshot, error)
	ListRelations(ctx context.Context, userID string) ([]PokeRelation, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	SetVisibility(ctx context.Context, userID, relationID string, visible bool) error
}

// PushSubscriptionRepository stores durable push targets.
type PushSubscriptionRepository interface {
	Upsert(ctx context.Context, sub *PushSubscription) error
	ListByUser(ctx context.Context, userID string) ([]PushSubscription, error)
	Get(ctx context.Context, id string) (*PushSubscription, error)
	Delete(ctx context.Context, id string) error
}
