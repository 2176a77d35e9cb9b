package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pok7/internal/core/domain"
	"strings"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	query := `SELECT id, name, username, image, created_at FROM users WHERE id = $1`
	exec := GetExecutor(ctx, r.db)

	var (
		user     domain.User
		username sql.NullString
		image    sql.NullString
	)
	err := exec.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Name, &username, &image, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	user.Username = nullString(username)
	user.Image = nullString(image)
	return &user, nil
}

// SearchUsers does a case-insensitive substring match on name and username.
func (r *UserRepo) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `
		SELECT id, name, username, image, created_at
		FROM users
		WHERE id <> $2 AND (name ILIKE $1 OR username ILIKE $1)
		ORDER BY name
		LIMIT $3`
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, q, likePattern(query), excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0, limit)
	for rows.Next() {
		var (
			u        domain.User
			username sql.NullString
			image    sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Name, &username, &image, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Username = nullString(username)
		u.Image = nullString(image)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) GetAnonymized(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	query := `SELECT username_anonymized, picture_anonymized FROM users WHERE id = $1`
	exec := GetExecutor(ctx, r.db)

	var username, picture sql.NullString
	if err := exec.QueryRowContext(ctx, query, userID).Scan(&username, &picture); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get anonymized identity: %w", err)
	}
	return &domain.AnonymizedIdentity{Username: username.String, Picture: picture.String}, nil
}

// SetAnonymized leaves a column untouched when its new value is empty.
func (r *UserRepo) SetAnonymized(ctx context.Context, userID string, identity domain.AnonymizedIdentity) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	query := `
		UPDATE users SET
			username_anonymized = COALESCE(NULLIF($2, ''), username_anonymized),
			picture_anonymized = COALESCE(NULLIF($3, ''), picture_anonymized)
		WHERE id = $1`

	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query, userID, identity.Username, identity.Picture)
	if err != nil {
		return fmt.Errorf("set anonymized identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}
