package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/finvault/internal/database"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository persists the failure ledger keyed by (email, ip_address)
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const loginAttemptColumns = `email, ip_address, failed_count, lock_until, last_attempt_at`

func scanLoginAttempt(row rowScanner) (*models.LoginAttemptState, error) {
	var s models.LoginAttemptState
	if err := row.Scan(&s.Email, &s.IPAddress, &s.FailedCount, &s.LockUntil, &s.LastAttemptAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Get returns the ledger row, or models.ErrNotFound when the pair never failed
func (r *LoginAttemptRepository) Get(ctx context.Context, email, ipAddress string) (*models.LoginAttemptState, error) {
	query := `SELECT ` + loginAttemptColumns + ` FROM login_attempts WHERE email = $1 AND ip_address = $2`

	state, err := scanLoginAttempt(r.db.Pool.QueryRow(ctx, query, email, ipAddress))
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Modify locks the row for (email, ip_address), creating it on first use, applies
// fn and writes the result back in one transaction
func (r *LoginAttemptRepository) Modify(ctx context.Context, email, ipAddress string, fn func(*models.LoginAttemptState)) (*models.LoginAttemptState, error) {
	var result *models.LoginAttemptState

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO login_attempts (email, ip_address, failed_count, last_attempt_at)
			VALUES ($1, $2, 0, NOW())
			ON CONFLICT (email, ip_address) DO NOTHING
		`, email, ipAddress)
		if err != nil {
			return fmt.Errorf("failed to seed login attempt row: %w", err)
		}

		state, err := scanLoginAttempt(tx.QueryRow(ctx,
			`SELECT `+loginAttemptColumns+` FROM login_attempts WHERE email = $1 AND ip_address = $2 FOR UPDATE`,
			email, ipAddress))
		if err != nil {
			return fmt.Errorf("failed to lock login attempt row: %w", err)
		}

		fn(state)

		_, err = tx.Exec(ctx, `
			UPDATE login_attempts
			SET failed_count = $3, lock_until = $4, last_attempt_at = $5
			WHERE email = $1 AND ip_address = $2
		`, email, ipAddress, state.FailedCount, state.LockUntil, state.LastAttemptAt)
		if err != nil {
			return database.MapPostgresError(err)
		}

		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Clear resets the counter and lock. The row is kept for trend analysis.
func (r *LoginAttemptRepository) Clear(ctx context.Context, email, ipAddress string) error {
	query := `
		UPDATE login_attempts
		SET failed_count = 0, lock_until = NULL, last_attempt_at = NOW()
		WHERE email = $1 AND ip_address = $2
	`

	if _, err := r.db.Pool.Exec(ctx, query, email, ipAddress); err != nil {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}
