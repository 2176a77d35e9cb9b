package services

import (
	"context"
	"errors"
	"log/slog"
	"pok7/internal/config"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"pok7/internal/platform/metrics"
	"pok7/pkg/logging"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const cleanupTimeout = 5 * time.Second

// SessionService runs the server side of one live notification stream.
type SessionService struct {
	log         *slog.Logger
	presence    contracts.PresenceRegistry
	broker      contracts.Broker
	snapshots   contracts.SnapshotSource
	registry    contracts.Registry
	ttl         time.Duration
	waitTimeout time.Duration
}

func NewSessionService(
	log *slog.Logger,
	cfg config.PresenceConfig,
	presence contracts.PresenceRegistry,
	broker contracts.Broker,
	snapshots contracts.SnapshotSource,
	registry contracts.Registry,
) *SessionService {
	return &SessionService{
		log:         log,
		presence:    presence,
		broker:      broker,
		snapshots:   snapshots,
		registry:    registry,
		ttl:         cfg.TTL,
		waitTimeout: cfg.WaitTimeout,
	}
}

// session is the registry handle of a running stream. Close cancels Run.
type session struct {
	id     string
	userID string
	cancel context.CancelFunc
}

func (s *session) SessionID() string { return s.id }
func (s *session) UserID() string    { return s.userID }
func (s *session) Close()            { s.cancel() }

// Run attaches userID, emits a snapshot now and after every wake-up signal,
// and blocks until ctx is cancelled or the stream fails. A plain
// cancellation is a clean detach and returns nil; a cancellation with a
// cause (context.CancelCauseFunc) returns that cause.
func (s *SessionService) Run(ctx context.Context, userID string, emitter contracts.Emitter) (err error) {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{id: uuid.NewString(), userID: userID, cancel: cancel}
	log := s.log.With(logging.User(userID), logging.Session(sess.id))

	attachCtx, span := tracer.Start(ctx, "SessionService.Attach", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", sess.id),
	))
	// Register before MarkLive so a detaching tab of the same user sees
	// this session when it re-checks after MarkOffline.
	s.registry.Register(sess)
	metrics.LiveSessions.Inc()
	if err := s.presence.MarkLive(attachCtx, userID, s.ttl); err != nil {
		// The user looks offline until the next refresh, so pokes go to push.
		span.RecordError(err)
		log.WarnContext(ctx, "session - mark live - failed", "err", err)
	}

	var sub contracts.Subscription
	defer func() {
		s.detach(ctx, log, sess, sub, err)
	}()

	channel := s.broker.Channel(userID)
	sub, err = s.broker.Subscribe(attachCtx, channel)
	if err != nil {
		span.RecordError(err)
		span.End()
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		return err
	}
	span.End()
	log.InfoContext(ctx, "session - attach - success", logging.Channel(channel))

	if err = s.emit(ctx, userID, emitter); err != nil {
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		return err
	}

	for {
		_, waitErr := sub.Next(ctx, s.waitTimeout)
		switch {
		case waitErr == nil:
			s.refresh(ctx, log, userID)
			if err = s.emit(ctx, userID, emitter); err != nil {
				if ctx.Err() != nil {
					return stopCause(ctx)
				}
				return err
			}
		case errors.Is(waitErr, domain.ErrWaitTimeout):
			s.refresh(ctx, log, userID)
		case ctx.Err() != nil:
			return stopCause(ctx)
		default:
			return waitErr
		}
	}
}

// stopCause is nil for a plain cancellation.
func stopCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// Touch is the client keepalive.
func (s *SessionService) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	return s.presence.Refresh(ctx, userID, s.ttl)
}

func (s *SessionService) refresh(ctx context.Context, log *slog.Logger, userID string) {
	if err := s.presence.Refresh(ctx, userID, s.ttl); err != nil && ctx.Err() == nil {
		log.WarnContext(ctx, "session - refresh presence - failed", "err", err)
	}
}

func (s *SessionService) emit(ctx context.Context, userID string, emitter contracts.Emitter) error {
	ctx, span := tracer.Start(ctx, "SessionService.Emit")
	defer span.End()
	snap, err := s.snapshots.FetchNotificationSnapshot(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := emitter.Emit(ctx, snap); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("snapshot.count", snap.Count))
	metrics.StreamEmitsTotal.Inc()
	return nil
}

// detach runs on a context that survives the session's cancellation.
func (s *SessionService) detach(
	ctx context.Context,
	log *slog.Logger,
	sess *session,
	sub contracts.Subscription,
	runErr error,
) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if sub != nil {
		if err := sub.Close(); err != nil {
			log.WarnContext(ctx, "session - detach - unsubscribe failed", "err", err)
		}
	}
	remaining := s.registry.Unregister(sess)
	metrics.LiveSessions.Dec()
	if remaining == 0 {
		if err := s.presence.MarkOffline(ctx, sess.userID); err != nil {
			log.WarnContext(ctx, "session - detach - mark offline failed", "err", err)
		}
		// A tab that attached meanwhile may have marked live before our
		// MarkOffline landed.
		if s.registry.Sessions(sess.userID) > 0 {
			if err := s.presence.MarkLive(ctx, sess.userID, s.ttl); err != nil {
				log.WarnContext(ctx, "session - detach - re-mark live failed", "err", err)
			}
		}
	}
	if runErr != nil {
		log.ErrorContext(ctx, "session - detach - detached with error", "remaining", remaining, "err", runErr)
		return
	}
	log.InfoContext(ctx, "session - detach - detached clean", "remaining", remaining)
}
