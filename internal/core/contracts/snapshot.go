package contracts

import (
	"context"
	"pok7/internal/core/domain"
)

// SnapshotSource is the read side of the data store used by live sessions.
type SnapshotSource interface {
	FetchNotificationSnapshot(ctx context.Context, userID string) (*domain.NotificationSnapshot, error)
}

// Emitter writes a snapshot to one attached client.
type Emitter interface {
	Emit(ctx context.Context, snap *domain.NotificationSnapshot) error
}
