package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/veriface/internal/store/core"
)

const attemptCols = `id, user_id, selfie_ref, document_front_ref, document_back_ref,
	liveness_score, match_score, fraud_score, document_quality_score,
	status, failure_reason, device_metadata, ip_address, geolocation,
	raw_scorer_response, verification_started_at, created_at, updated_at`

func scanAttempt(row pgx.Row) (*core.VerificationAttempt, error) {
	var a core.VerificationAttempt
	var status string
	err := row.Scan(
		&a.ID, &a.UserID, &a.SelfieRef, &a.DocumentFrontRef, &a.DocumentBackRef,
		&a.LivenessScore, &a.FaceMatchScore, &a.FraudScore, &a.DocumentQualityScore,
		&status, &a.FailureReason, &a.DeviceMetadata, &a.IPAddress, &a.Geolocation,
		&a.RawScorerResponse, &a.VerificationStartedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	a.Status = core.AttemptStatus(status)
	return &a, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a *core.VerificationAttempt) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO verification_attempts
			(id, user_id, selfie_ref, status, device_metadata, ip_address, geolocation, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,
			COALESCE($8, now()), COALESCE($8, now()))
		RETURNING `+attemptCols,
		a.ID, a.UserID, a.SelfieRef, string(a.Status), a.DeviceMetadata, a.IPAddress, a.Geolocation,
		nullTime(a.CreatedAt),
	)
	got, err := scanAttempt(row)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	*a = *got
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*core.VerificationAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptCols+` FROM verification_attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

func (s *Store) ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*core.VerificationAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptCols+` FROM verification_attempts
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.VerificationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAttempt(ctx context.Context, id string, p core.AttemptPatch) (*core.VerificationAttempt, error) {
	// COALESCE por campo: sólo pisa lo que el patch trae.
	row := s.pool.QueryRow(ctx, `
		UPDATE verification_attempts SET
			selfie_ref         = COALESCE($2, selfie_ref),
			document_front_ref = COALESCE($3, document_front_ref),
			document_back_ref  = COALESCE($4, document_back_ref),
			device_metadata    = COALESCE($5, device_metadata),
			geolocation        = COALESCE($6, geolocation),
			updated_at         = now()
		WHERE id = $1 AND status NOT IN ('completed','failed','manual_review')
		RETURNING `+attemptCols,
		id, p.SelfieRef, p.DocumentFrontRef, p.DocumentBackRef, p.DeviceMetadata, p.Geolocation,
	)
	a, err := scanAttempt(row)
	if errors.Is(err, core.ErrNotFound) {
		return nil, s.attemptMissReason(ctx, id)
	}
	return a, err
}

func (s *Store) AttachDocument(ctx context.Context, id string, side core.DocumentSide, ref string) (*core.VerificationAttempt, error) {
	col := "document_front_ref"
	if side == core.SideBack {
		col = "document_back_ref"
	}
	// col viene de un enum interno, no de input del usuario.
	row := s.pool.QueryRow(ctx, `
		UPDATE verification_attempts SET `+col+` = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed','failed','manual_review')
		RETURNING `+attemptCols, id, ref)
	a, err := scanAttempt(row)
	if errors.Is(err, core.ErrNotFound) {
		return nil, s.attemptMissReason(ctx, id)
	}
	return a, err
}

func (s *Store) ClaimVerification(ctx context.Context, id string, now time.Time) (bool, error) {
	// CAS a nivel fila: un solo caller puede pasar de "no reclamado" a
	// "reclamado". Dos uploads concurrentes de front/back nunca ganan ambos.
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_attempts
		SET verification_started_at = $2, updated_at = now()
		WHERE id = $1
		  AND status = 'processing'
		  AND document_front_ref IS NOT NULL
		  AND document_back_ref IS NOT NULL
		  AND verification_started_at IS NULL`,
		id, now.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateAttemptStatus(ctx context.Context, id string, status core.AttemptStatus, scores *core.ScoreSet, raw []byte, reason string) error {
	var lv, ms, fs, dq *float64
	if scores != nil {
		lv, ms, fs, dq = &scores.Liveness, &scores.FaceMatch, &scores.Fraud, &scores.DocumentQuality
	}
	var fr *string
	if reason != "" {
		fr = &reason
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_attempts SET
			status                 = $2,
			liveness_score         = COALESCE($3, liveness_score),
			match_score            = COALESCE($4, match_score),
			fraud_score            = COALESCE($5, fraud_score),
			document_quality_score = COALESCE($6, document_quality_score),
			raw_scorer_response    = COALESCE($7, raw_scorer_response),
			failure_reason         = COALESCE($8, failure_reason),
			updated_at             = now()
		WHERE id = $1 AND status NOT IN ('completed','failed','manual_review')`,
		id, string(status), lv, ms, fs, dq, raw, fr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.attemptMissReason(ctx, id)
	}
	return nil
}

func (s *Store) MarkAttemptFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_attempts
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed','failed','manual_review')`,
		id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.attemptMissReason(ctx, id)
	}
	return nil
}

func (s *Store) CountAttemptsByStatus(ctx context.Context, since time.Time) ([]core.StatusCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM verification_attempts
		WHERE created_at >= $1
		GROUP BY status ORDER BY status`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.StatusCount
	for rows.Next() {
		var sc core.StatusCount
		var st string
		if err := rows.Scan(&st, &sc.Count); err != nil {
			return nil, err
		}
		sc.Status = core.AttemptStatus(st)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// attemptMissReason distingue "no existe" de "existe pero es terminal" cuando
// un update condicional no afectó filas.
func (s *Store) attemptMissReason(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM verification_attempts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	if core.AttemptStatus(status).Terminal() {
		return core.ErrTerminalState
	}
	return core.ErrConflict
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
