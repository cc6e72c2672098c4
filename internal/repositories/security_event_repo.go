package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/finvault/internal/database"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository is the append-only audit table
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const securityEventColumns = `id, event_type, severity, message, user_id, ip_address, user_agent, path, metadata, created_at`

func scanSecurityEvent(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := row.Scan(
		&e.ID, &e.EventType, &e.Severity, &e.Message, &e.UserID,
		&e.IPAddress, &e.UserAgent, &e.Path, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

// Create inserts the event, assigning an id when missing
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `
		INSERT INTO security_events (id, event_type, severity, message, user_id, ip_address, user_agent, path, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		RETURNING created_at
	`

	var createdAt interface{}
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt
	}

	err := r.pool.QueryRow(ctx, query,
		e.ID, e.EventType, e.Severity, e.Message, e.UserID,
		e.IPAddress, e.UserAgent, e.Path, e.Metadata, createdAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetLatestForUser returns the newest event of eventType for userID, or models.ErrNotFound
func (r *SecurityEventRepository) GetLatestForUser(ctx context.Context, userID, eventType string) (*models.SecurityEvent, error) {
	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE user_id = $1 AND event_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSecurityEvent(r.pool.QueryRow(ctx, query, userID, eventType))
}

// ListByUser returns the most recent events for userID, newest first
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return scanSecurityEvents(rows)
}

func scanSecurityEvents(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}
