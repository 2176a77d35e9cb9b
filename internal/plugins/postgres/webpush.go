package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pok7/internal/core/domain"
	"time"
)

type PushSubscriptionRepo struct {
	db *sql.DB
}

func NewPushSubscriptionRepository(db *sql.DB) *PushSubscriptionRepo {
	return &PushSubscriptionRepo{db: db}
}

// Upsert replaces a subscription only when sub.UserID already owns it; a
// conflicting id that belongs to another user reports not found.
func (r *PushSubscriptionRepo) Upsert(ctx context.Context, sub *domain.PushSubscription) error {
	if sub == nil || sub.ID == "" || sub.UserID == "" {
		return domain.ErrInvalidUserID
	}
	query := `
		INSERT INTO webpush (id, user_id, endpoint, expiration_time, p256dh, auth)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			endpoint = EXCLUDED.endpoint,
			expiration_time = EXCLUDED.expiration_time,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth
		WHERE webpush.user_id = EXCLUDED.user_id`

	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query,
		sub.ID, sub.UserID, sub.Endpoint, toNullTime(sub.ExpirationTime), sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrPushSubscriptionNotFound
	}
	return nil
}

func (r *PushSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	query := `
		SELECT id, user_id, endpoint, expiration_time, p256dh, auth
		FROM webpush WHERE user_id = $1 ORDER BY id`

	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		sub, err := scanPushSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (r *PushSubscriptionRepo) Get(ctx context.Context, id string) (*domain.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, expiration_time, p256dh, auth
		FROM webpush WHERE id = $1`

	exec := GetExecutor(ctx, r.db)
	sub, err := scanPushSubscription(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPushSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (r *PushSubscriptionRepo) Delete(ctx context.Context, id string) error {
	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, `DELETE FROM webpush WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrPushSubscriptionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPushSubscription(row rowScanner) (*domain.PushSubscription, error) {
	var (
		sub domain.PushSubscription
		exp sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &exp, &sub.Keys.P256dh, &sub.Keys.Auth); err != nil {
		return nil, err
	}
	if exp.Valid {
		t := exp.Time
		sub.ExpirationTime = &t
	}
	return &sub, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
