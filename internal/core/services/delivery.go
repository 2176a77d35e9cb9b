package services

import (
	"context"
	"errors"
	"log/slog"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"pok7/internal/platform/metrics"
	"pok7/pkg/logging"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const deliveryTimeout = 15 * time.Second

// DeliveryService decides, per poke, whether the target is woken through
// its live session or through durable push.
type DeliveryService struct {
	log      *slog.Logger
	presence contracts.PresenceRegistry
	broker   contracts.Broker
	push     contracts.PushNotifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDeliveryService(
	log *slog.Logger,
	presence contracts.PresenceRegistry,
	broker contracts.Broker,
	push contracts.PushNotifier,
) *DeliveryService {
	return &DeliveryService{
		log:      log,
		presence: presence,
		broker:   broker,
		push:     push,
		timeout:  deliveryTimeout,
	}
}

// OnPokeCreatedOrIncremented returns immediately. The delivery keeps the
// caller's trace but not its cancellation.
func (d *DeliveryService) OnPokeCreatedOrIncremented(ctx context.Context, actorID, targetID string) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		d.deliver(ctx, actorID, targetID)
	}()
}

// Wait blocks until every in-flight delivery finished.
func (d *DeliveryService) Wait() {
	d.wg.Wait()
}

func (d *DeliveryService) deliver(ctx context.Context, actorID, targetID string) {
	ctx, span := tracer.Start(ctx, "DeliveryService.Deliver", trace.WithAttributes(
		attribute.String("actor_id", actorID),
		attribute.String("target_id", targetID),
	))
	defer span.End()
	log := d.log.With(logging.Actor(actorID), logging.Target(targetID))

	live, err := d.presence.IsLive(ctx, targetID)
	path := metrics.PathPush
	switch {
	case err != nil:
		path = metrics.PathFallback
		span.RecordError(err)
		log.WarnContext(ctx, "delivery - is live - presence unknown, falling back to push", "err", err)
	case live:
		path = metrics.PathLive
	}
	span.SetAttributes(attribute.String("delivery.path", path))

	if path == metrics.PathLive {
		channel := d.broker.Channel(targetID)
		if err := d.broker.Publish(ctx, channel, domain.SignalRefresh); err != nil {
			span.RecordError(err)
			log.ErrorContext(ctx, "delivery - publish target - failed", logging.Channel(channel), "err", err)
		} else {
			log.InfoContext(ctx, "delivery - publish target - success", logging.Channel(channel))
		}
	} else {
		if err := d.push.NotifyPoke(ctx, targetID); err != nil {
			span.RecordError(err)
			if errors.Is(err, domain.ErrNoPushSubscriptions) {
				log.InfoContext(ctx, "delivery - notify poke - no push targets")
			} else {
				span.SetStatus(codes.Error, "push failed")
				log.ErrorContext(ctx, "delivery - notify poke - failed", "err", err)
			}
		} else {
			log.InfoContext(ctx, "delivery - notify poke - success")
		}
	}
	metrics.DeliveriesTotal.WithLabelValues(path).Inc()

	// The actor's own sessions re-read so other tabs see the new count.
	channel := d.broker.Channel(actorID)
	if err := d.broker.Publish(ctx, channel, domain.SignalRefresh); err != nil {
		span.RecordError(err)
		log.ErrorContext(ctx, "delivery - publish actor - failed", logging.Channel(channel), "err", err)
		return
	}
	metrics.DeliveriesTotal.WithLabelValues(metrics.PathSelf).Inc()
}
