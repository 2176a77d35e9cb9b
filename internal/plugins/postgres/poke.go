package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"pok7/internal/core/domain"
	"time"

	"github.com/google/uuid"
)

type PokeRepo struct {
	db *sql.DB
}

func NewPokeRepository(db *sql.DB) *PokeRepo {
	return &PokeRepo{db: db}
}

// Increment is a single upsert keyed on the unordered pair, so concurrent
// first pokes from both sides converge on one row.
func (r *PokeRepo) Increment(ctx context.Context, actorID, targetID string, at time.Time) (*domain.PokeRelation, bool, error) {
	if actorID == "" || targetID == "" {
		return nil, false, domain.ErrInvalidUserID
	}
	if actorID == targetID {
		return nil, false, domain.ErrSelfPoke
	}
	query := `
		INSERT INTO pokes (id, user_a_id, user_b_id, count, last_poke_date, last_poke_by, visible_leaderboard)
		VALUES ($1, $2, $3, 1, $4, $2, TRUE)
		ON CONFLICT ((LEAST(user_a_id, user_b_id)), (GREATEST(user_a_id, user_b_id)))
		DO UPDATE SET
			count = pokes.count + 1,
			last_poke_date = EXCLUDED.last_poke_date,
			last_poke_by = EXCLUDED.last_poke_by
		RETURNING id, user_a_id, user_b_id, count, last_poke_date, last_poke_by, visible_leaderboard, (xmax = 0)`

	exec := GetExecutor(ctx, r.db)
	var (
		rel      domain.PokeRelation
		inserted bool
	)
	err := exec.QueryRowContext(ctx, query, uuid.NewString(), actorID, targetID, at.UTC()).Scan(
		&rel.ID, &rel.UserAID, &rel.UserBID, &rel.Count,
		&rel.LastPokeDate, &rel.LastPokeBy, &rel.VisibleLeaderboard, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("increment poke: %w", err)
	}
	return &rel, inserted, nil
}

func (r *PokeRepo) FetchNotificationSnapshot(ctx context.Context, userID string) (*domain.NotificationSnapshot, error) {
	relations, err := r.ListRelations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.NewNotificationSnapshot(relations), nil
}

// ListRelations returns every relation of userID, most recent poke first,
// with the other participant resolved.
func (r *PokeRepo) ListRelations(ctx context.Context, userID string) ([]domain.PokeRelation, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	query := `
		SELECT p.id, p.user_a_id, p.user_b_id, p.count, p.last_poke_date, p.last_poke_by, p.visible_leaderboard,
		       u.id, u.name, u.username, u.image
		FROM pokes p
		JOIN users u ON u.id = CASE WHEN p.user_a_id = $1 THEN p.user_b_id ELSE p.user_a_id END
		WHERE p.user_a_id = $1 OR p.user_b_id = $1
		ORDER BY p.last_poke_date DESC`

	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	relations := []domain.PokeRelation{}
	for rows.Next() {
		var (
			rel      domain.PokeRelation
			username sql.NullString
			image    sql.NullString
		)
		if err := rows.Scan(
			&rel.ID, &rel.UserAID, &rel.UserBID, &rel.Count,
			&rel.LastPokeDate, &rel.LastPokeBy, &rel.VisibleLeaderboard,
			&rel.OtherUser.ID, &rel.OtherUser.Name, &username, &image,
		); err != nil {
			return nil, err
		}
		rel.OtherUser.Username = nullString(username)
		rel.OtherUser.Image = nullString(image)
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

func (r *PokeRepo) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT p.id, p.count, p.last_poke_date, p.last_poke_by,
		       a.id, a.name, a.username, a.image, a.username_anonymized, a.picture_anonymized,
		       b.id, b.name, b.username, b.image, b.username_anonymized, b.picture_anonymized
		FROM pokes p
		JOIN users a ON a.id = p.user_a_id
		JOIN users b ON b.id = p.user_b_id
		WHERE p.visible_leaderboard
		ORDER BY p.count DESC, p.last_poke_date DESC
		LIMIT $1`

	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var (
			e                       domain.LeaderboardEntry
			aUsername, aImage       sql.NullString
			bUsername, bImage       sql.NullString
			aAnonName, aAnonPicture sql.NullString
			bAnonName, bAnonPicture sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Count, &e.LastPokeDate, &e.LastPokeBy,
			&e.UserA.ID, &e.UserA.Name, &aUsername, &aImage, &aAnonName, &aAnonPicture,
			&e.UserB.ID, &e.UserB.Name, &bUsername, &bImage, &bAnonName, &bAnonPicture,
		); err != nil {
			return nil, err
		}
		e.UserA.Username, e.UserA.Image = nullString(aUsername), nullString(aImage)
		e.UserB.Username, e.UserB.Image = nullString(bUsername), nullString(bImage)
		e.UserA.UsernameAnonymized, e.UserA.PictureAnonymized = nullString(aAnonName), nullString(aAnonPicture)
		e.UserB.UsernameAnonymized, e.UserB.PictureAnonymized = nullString(bAnonName), nullString(bAnonPicture)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetVisibility only touches relations userID takes part in.
func (r *PokeRepo) SetVisibility(ctx context.Context, userID, relationID string, visible bool) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	if _, err := uuid.Parse(relationID); err != nil {
		return domain.ErrRelationNotFound
	}
	query := `
		UPDATE pokes SET visible_leaderboard = $3
		WHERE id = $1 AND (user_a_id = $2 OR user_b_id = $2)`

	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query, relationID, userID, visible)
	if err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrRelationNotFound
	}
	return nil
}
