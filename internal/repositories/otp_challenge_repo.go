package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/finvault/internal/database"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OTPChallengeRepository stores session escrows
type OTPChallengeRepository struct {
	pool *pgxpool.Pool
}

func NewOTPChallengeRepository(db *database.DB) *OTPChallengeRepository {
	return &OTPChallengeRepository{pool: db.Pool}
}

const otpChallengeColumns = `id, user_id, email, code_hash, encrypted_session_payload,
	attempts_count, max_attempts, expires_at, consumed_at, created_ip, created_user_agent, created_at`

func scanOTPChallenge(row rowScanner) (*models.OTPChallenge, error) {
	var c models.OTPChallenge
	err := row.Scan(
		&c.ID, &c.UserID, &c.Email, &c.CodeHash, &c.EncryptedSessionPayload,
		&c.AttemptsCount, &c.MaxAttempts, &c.ExpiresAt, &c.ConsumedAt,
		&c.CreatedIP, &c.CreatedUserAgent, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

func (r *OTPChallengeRepository) Create(ctx context.Context, c *models.OTPChallenge) error {
	query := `
		INSERT INTO otp_challenges (
			id, user_id, email, code_hash, encrypted_session_payload,
			attempts_count, max_attempts, expires_at, created_ip, created_user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		c.ID, c.UserID, c.Email, c.CodeHash, c.EncryptedSessionPayload,
		c.AttemptsCount, c.MaxAttempts, c.ExpiresAt, c.CreatedIP, c.CreatedUserAgent,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create otp challenge: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetByID returns models.ErrNotFound for unknown ids
func (r *OTPChallengeRepository) GetByID(ctx context.Context, id string) (*models.OTPChallenge, error) {
	query := `SELECT ` + otpChallengeColumns + ` FROM otp_challenges WHERE id = $1`
	return scanOTPChallenge(r.pool.QueryRow(ctx, query, id))
}

// ReserveAttempt charges one attempt against a live challenge and returns the
// updated row. Consumed, expired and exhausted challenges are left untouched
// and reported as models.ErrNotFound.
func (r *OTPChallengeRepository) ReserveAttempt(ctx context.Context, id string, now time.Time) (*models.OTPChallenge, error) {
	query := `
		UPDATE otp_challenges
		SET attempts_count = attempts_count + 1
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND attempts_count < max_attempts
		  AND expires_at >= $2
		RETURNING ` + otpChallengeColumns

	return scanOTPChallenge(r.pool.QueryRow(ctx, query, id, now))
}

// Consume marks the challenge verified. It reports false when another request
// consumed it first.
func (r *OTPChallengeRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE otp_challenges SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp challenge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a challenge whose code could not be delivered
func (r *OTPChallengeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete otp challenge: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes challenges that expired before cutoff
func (r *OTPChallengeRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otp challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
