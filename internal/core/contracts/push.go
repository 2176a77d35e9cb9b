package contracts

import (
	"context"
	"pok7/internal/core/domain"
)

// PushSender delivers a payload to an opaque push endpoint. It returns an
// error wrapping domain.ErrSubscriptionExpired when the provider rejected
// the subscription as gone.
type PushSender interface {
	Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error
}

// PushNotifier is the durable push capability used by the delivery engine.
type PushNotifier interface {
	NotifyPoke(ctx context.Context, userID string) error
}
