package services

import (
	"context"
	"log/slog"
	"pok7/internal/core/domain"
	"pok7/pkg/logging"
	"strings"

	"github.com/google/uuid"
)

const searchLimit = 20

type UserService struct {
	log     *slog.Logger
	users   domain.UserRepository
	pokes   domain.PokeRepository
	newSeed func() string
}

func NewUserService(log *slog.Logger, users domain.UserRepository, pokes domain.PokeRepository) *UserService {
	return &UserService{
		log:     log,
		users:   users,
		pokes:   pokes,
		newSeed: uuid.NewString,
	}
}

// Anonymized returns userID's alias, assigning the one derived from the
// user id to any part that was never set.
func (s *UserService) Anonymized(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	identity, err := s.users.GetAnonymized(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity.Complete() {
		return identity, nil
	}
	initial := AnonymizedIdentityFor(userID)
	missing := domain.AnonymizedIdentity{}
	if identity.Username == "" {
		missing.Username, identity.Username = initial.Username, initial.Username
	}
	if identity.Picture == "" {
		missing.Picture, identity.Picture = initial.Picture, initial.Picture
	}
	if err := s.users.SetAnonymized(ctx, userID, missing); err != nil {
		s.log.ErrorContext(ctx, "user - anonymized - assign failed", logging.User(userID), "err", err)
		return nil, err
	}
	s.log.InfoContext(ctx, "user - anonymized - assigned", logging.User(userID))
	return identity, nil
}

// RefreshAnonymizedName draws a new random alias name.
func (s *UserService) RefreshAnonymizedName(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	return s.refreshAnonymized(ctx, userID, domain.AnonymizedIdentity{Username: AnonymizedName(s.newSeed())})
}

// RefreshAnonymizedPicture draws a new random alias picture.
func (s *UserService) RefreshAnonymizedPicture(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	return s.refreshAnonymized(ctx, userID, domain.AnonymizedIdentity{Picture: AnonymizedPicture(s.newSeed())})
}

func (s *UserService) refreshAnonymized(ctx context.Context, userID string, change domain.AnonymizedIdentity) (*domain.AnonymizedIdentity, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if err := s.users.SetAnonymized(ctx, userID, change); err != nil {
		s.log.ErrorContext(ctx, "user - anonymized - refresh failed", logging.User(userID), "err", err)
		return nil, err
	}
	return s.Anonymized(ctx, userID)
}

// Search finds other users by name or username and annotates each with the
// caller's relation to them.
func (s *UserService) Search(ctx context.Context, userID, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.SearchResult{}, nil
	}
	users, err := s.users.SearchUsers(ctx, query, userID, searchLimit)
	if err != nil {
		s.log.ErrorContext(ctx, "user - search - query failed", logging.User(userID), "err", err)
		return nil, err
	}
	relations, err := s.pokes.ListRelations(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "user - search - list relations failed", logging.User(userID), "err", err)
		return nil, err
	}
	byOther := make(map[string]domain.PokeRelation, len(relations))
	for _, r := range relations {
		byOther[r.Other(userID)] = r
	}

	results := make([]domain.SearchResult, 0, len(users))
	for _, u := range users {
		res := domain.SearchResult{
			User: domain.UserSummary{
				ID:       u.ID,
				Name:     u.Name,
				Username: u.Username,
				Image:    u.Image,
			},
			CreatedAt: u.CreatedAt,
		}
		if r, ok := byOther[u.ID]; ok {
			res.HasPokeRelation = true
			res.Count = r.Count
			res.LastPokeBy = r.LastPokeBy
		}
		results = append(results, res)
	}
	return results, nil
}
