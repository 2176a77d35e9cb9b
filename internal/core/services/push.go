package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"pok7/internal/platform/metrics"
	"pok7/pkg/logging"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PushService manages durable push targets and fans notifications out to them.
type PushService struct {
	log       *slog.Logger
	repo      domain.PushSubscriptionRepository
	sender    contracts.PushSender
	publicKey string
	now       func() time.Time
}

func NewPushService(
	log *slog.Logger,
	repo domain.PushSubscriptionRepository,
	sender contracts.PushSender,
	vapidPublicKey string,
) *PushService {
	return &PushService{
		log:       log,
		repo:      repo,
		sender:    sender,
		publicKey: vapidPublicKey,
		now:       time.Now,
	}
}

func (s *PushService) VAPIDPublicKey() string {
	return s.publicKey
}

// Register stores sub for userID, replacing a subscription with the same id
// that userID already owns. An id owned by someone else looks missing.
func (s *PushService) Register(ctx context.Context, userID string, sub domain.PushSubscription) (*domain.PushSubscription, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if !strings.HasPrefix(sub.Endpoint, "https://") || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, domain.ErrInvalidPushSubscription
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.UserID = userID
	if err := s.repo.Upsert(ctx, &sub); err != nil {
		s.log.ErrorContext(ctx, "push - register - upsert failed", logging.User(userID), "err", err)
		return nil, err
	}
	s.log.InfoContext(ctx, "push - register - success", logging.User(userID), "subscription_id", sub.ID)
	return &sub, nil
}

// Get returns a subscription owned by userID. Foreign ids look missing.
func (s *PushService) Get(ctx context.Context, userID, id string) (*domain.PushSubscription, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, domain.ErrPushSubscriptionNotFound
	}
	return sub, nil
}

// Delete removes a subscription owned by userID. Foreign ids look missing.
func (s *PushService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.log.ErrorContext(ctx, "push - delete - failed", logging.User(userID), "subscription_id", id, "err", err)
		return err
	}
	return nil
}

func (s *PushService) NotifyPoke(ctx context.Context, userID string) error {
	_, err := s.broadcast(ctx, userID, domain.PokePushPayload())
	return err
}

// SendTest sends the diagnostic payload to every device of userID and
// returns how many accepted it.
func (s *PushService) SendTest(ctx context.Context, userID string) (int, error) {
	return s.broadcast(ctx, userID, domain.DiagnosticPushPayload())
}

func (s *PushService) broadcast(ctx context.Context, userID string, payload domain.PushPayload) (int, error) {
	ctx, span := tracer.Start(ctx, "PushService.Broadcast", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("push.type", payload.Data["type"]),
	))
	defer span.End()

	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(subs) == 0 {
		return 0, domain.ErrNoPushSubscriptions
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	var (
		sent int
		errs []error
		now  = s.now()
	)
	for _, sub := range subs {
		if sub.Expired(now) {
			s.prune(ctx, sub, "expired")
			continue
		}
		err := s.sender.Send(ctx, sub, body)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, domain.ErrSubscriptionExpired):
			s.prune(ctx, sub, "gone")
		default:
			metrics.PushFailuresTotal.WithLabelValues("send").Inc()
			s.log.WarnContext(ctx, "push - send - failed", logging.User(userID), "subscription_id", sub.ID, "err", err)
			errs = append(errs, err)
		}
	}
	span.SetAttributes(attribute.Int("push.sent", sent), attribute.Int("push.targets", len(subs)))
	if sent == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}

// prune drops a subscription the browser or push service no longer honours.
func (s *PushService) prune(ctx context.Context, sub domain.PushSubscription, reason string) {
	metrics.PushFailuresTotal.WithLabelValues(reason).Inc()
	if err := s.repo.Delete(ctx, sub.ID); err != nil && !errors.Is(err, domain.ErrPushSubscriptionNotFound) {
		s.log.WarnContext(ctx, "push - prune - delete failed", logging.User(sub.UserID), "subscription_id", sub.ID, "err", err)
		return
	}
	s.log.InfoContext(ctx, "push - prune - removed", logging.User(sub.UserID), "subscription_id", sub.ID, "reason", reason)
}
