package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/veriface/internal/store/core"
)

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	var u core.User
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, verification_status, approved_at, attempt_count, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &status, &u.ApprovedAt, &u.AttemptCount, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.VerificationStatus = core.UserVerificationStatus(status)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	status := u.VerificationStatus
	if status == "" {
		status = core.UserUnverified
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, verification_status, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))`,
		u.ID, u.Email, string(status), nullTime(u.CreatedAt))
	return err
}

func (s *Store) SetUserVerification(ctx context.Context, userID string, status core.UserVerificationStatus, approvedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET verification_status = $2, approved_at = $3 WHERE id = $1`,
		userID, string(status), approvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) IncUserAttemptCount(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET attempt_count = attempt_count + 1 WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
