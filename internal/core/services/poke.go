package services

import (
	"context"
	"log/slog"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"pok7/pkg/logging"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 200
)

// PokeService is the mutation boundary for pokes.
type PokeService struct {
	log      *slog.Logger
	tx       contracts.Transactor
	users    domain.UserRepository
	pokes    domain.PokeRepository
	observer contracts.PokeObserver
	now      func() time.Time
}

func NewPokeService(
	log *slog.Logger,
	tx contracts.Transactor,
	users domain.UserRepository,
	pokes domain.PokeRepository,
	observer contracts.PokeObserver,
) *PokeService {
	return &PokeService{
		log:      log,
		tx:       tx,
		users:    users,
		pokes:    pokes,
		observer: observer,
		now:      time.Now,
	}
}

// Poke increments the relation between actor and target and hands the
// committed change to the delivery engine.
func (s *PokeService) Poke(ctx context.Context, actorID, targetID string) (*domain.PokeResult, error) {
	ctx, span := tracer.Start(ctx, "PokeService.Poke", trace.WithAttributes(
		attribute.String("actor_id", actorID),
		attribute.String("target_id", targetID),
	))
	defer span.End()
	if actorID == "" || targetID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if actorID == targetID {
		return nil, domain.ErrSelfPoke
	}

	var result domain.PokeResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		target, err := s.users.GetUserByID(txCtx, targetID)
		if err != nil {
			return err
		}
		rel, created, err := s.pokes.Increment(txCtx, actorID, targetID, s.now())
		if err != nil {
			return err
		}
		rel.OtherUser = domain.UserSummary{
			ID:       target.ID,
			Name:     target.Name,
			Username: target.Username,
			Image:    target.Image,
		}
		result = domain.PokeResult{Relation: *rel, IsNewRelation: created}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poke failed")
		s.log.ErrorContext(ctx, "poke - poke - failed", logging.Actor(actorID), logging.Target(targetID), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("poke.count", result.Relation.Count), attribute.Bool("poke.new", result.IsNewRelation))
	s.log.InfoContext(ctx, "poke - poke - success", logging.Actor(actorID), logging.Target(targetID), "count", result.Relation.Count)

	s.observer.OnPokeCreatedOrIncremented(ctx, actorID, targetID)
	return &result, nil
}

func (s *PokeService) Snapshot(ctx context.Context, userID string) (*domain.NotificationSnapshot, error) {
	return s.pokes.FetchNotificationSnapshot(ctx, userID)
}

func (s *PokeService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return s.pokes.Leaderboard(ctx, limit)
}

// SetVisibility is allowed only for participants of the relation.
func (s *PokeService) SetVisibility(ctx context.Context, userID, relationID string, visible bool) error {
	if err := s.pokes.SetVisibility(ctx, userID, relationID, visible); err != nil {
		s.log.WarnContext(ctx, "poke - set visibility - failed", logging.User(userID), "relation_id", relationID, "err", err)
		return err
	}
	s.log.InfoContext(ctx, "poke - set visibility - success", logging.User(userID), "relation_id", relationID, "visible", visible)
	return nil
}
