package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq"
)

const referralColumns = `id, referral_code, referrer_user_id, referee_user_id, status, shareable_link, created_at, updated_at, installed_at, completed_at`

// CreateReferral inserts a new referral into the database.
func (r *Repository) CreateReferral(ctx context.Context, referral *model.Referral) error {
	query := `
		INSERT INTO referrals (id, referral_code, referrer_user_id, referee_user_id, status, shareable_link, created_at, updated_at, installed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		referral.ID,
		referral.ReferralCode,
		referral.ReferrerUserID,
		referral.RefereeUserID,
		int16(referral.Status),
		referral.ShareableLink,
		referral.CreatedAt,
		referral.UpdatedAt,
		referral.InstalledAt,
		referral.CompletedAt,
	)

	if err != nil {
		switch {
		case isUniqueViolation(err, constraintReferralsCode):
			return ErrCodeExists
		case isUniqueViolation(err, constraintReferralsPK):
			return fmt.Errorf("failed to create referral: duplicate id %s: %w", referral.ID, err)
		case isForeignKeyViolation(err):
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to create referral: %w", err)
	}

	return nil
}

// GetReferralByID retrieves a referral by its ID.
func (r *Repository) GetReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`

	referral, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to get referral by ID: %w", err)
	}

	return referral, nil
}

// GetReferralByCode retrieves a referral by its referral code.
func (r *Repository) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referral_code = $1`

	referral, err := scanReferral(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to get referral by code: %w", err)
	}

	return referral, nil
}

// ReferralCodeExists checks if a referral code is already taken.
func (r *Repository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM referrals WHERE referral_code = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check referral code existence: %w", err)
	}

	return exists, nil
}

// ListReferralsByReferrer returns the referrals created by a user, newest first.
// When statuses is non-empty only referrals in one of those statuses are returned.
func (r *Repository) ListReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, statuses []model.ReferralStatus) ([]*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referrer_user_id = $1`
	args := []any{referrerID}

	if len(statuses) > 0 {
		ordinals := make([]int64, len(statuses))
		for i, s := range statuses {
			ordinals[i] = int64(s)
		}
		query += ` AND status = ANY($2::smallint[])`
		args = append(args, pq.Array(ordinals))
	}

	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	referrals := make([]*model.Referral, 0)
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		referrals = append(referrals, referral)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referrals: %w", err)
	}

	return referrals, nil
}

// CountReferralsByStatus returns per-status referral counts for a referrer.
// Statuses with no referrals are absent from the map.
func (r *Repository) CountReferralsByStatus(ctx context.Context, referrerID uuid.UUID) (map[model.ReferralStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM referrals
		WHERE referrer_user_id = $1
		GROUP BY status
	`

	rows, err := r.pool.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ReferralStatus]int, len(model.AllStatuses))
	for rows.Next() {
		var (
			status int16
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan referral count: %w", err)
		}
		counts[model.ReferralStatus(status)] = int(count)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral counts: %w", err)
	}

	return counts, nil
}

// UpdateReferralStatus applies a forward transition to the referral with the
// given code. The guard and the write are a single statement, so concurrent
// callers never move a referral backwards.
//
// Returns ErrReferralNotFound when the code is unknown and
// ErrTransitionRejected when the current status is past the target.
func (r *Repository) UpdateReferralStatus(ctx context.Context, code string, t model.Transition) (*model.Referral, error) {
	query := `
		UPDATE referrals
		SET status = $2,
		    updated_at = $3,
		    installed_at = CASE WHEN $2 = 1 THEN $3 ELSE installed_at END,
		    completed_at = CASE WHEN $2 = 2 THEN $3 ELSE completed_at END,
		    referee_user_id = COALESCE($4, referee_user_id)
		WHERE referral_code = $1 AND status <= $2
		RETURNING ` + referralColumns

	referral, err := scanReferral(r.pool.QueryRow(ctx, query,
		code,
		int16(t.Target),
		t.At,
		t.RefereeUserID,
	))
	if err == nil {
		return referral, nil
	}
	if isForeignKeyViolation(err) {
		return nil, ErrUserNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update referral status: %w", err)
	}

	exists, err := r.ReferralCodeExists(ctx, code)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrReferralNotFound
	}
	return nil, ErrTransitionRejected
}

func scanReferral(row pgx.Row) (*model.Referral, error) {
	var (
		referral model.Referral
		referee  pgtype.UUID
		status   int16
	)
	err := row.Scan(
		&referral.ID,
		&referral.ReferralCode,
		&referral.ReferrerUserID,
		&referee,
		&status,
		&referral.ShareableLink,
		&referral.CreatedAt,
		&referral.UpdatedAt,
		&referral.InstalledAt,
		&referral.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	referral.Status = model.ReferralStatus(status)
	if referee.Valid {
		id := uuid.UUID(referee.Bytes)
		referral.RefereeUserID = &id
	}
	return &referral, nil
}
