package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// SecurityEventRepository is the persistent audit sink
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	GetLatestForUser(ctx context.Context, userID, eventType string) (*models.SecurityEvent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
}

// DefaultMaxPendingWrites caps the database writes the audit service keeps in flight
const DefaultMaxPendingWrites = 32

// AuditService dual-writes security events: a log line immediately and a
// database row in the background. Neither path can fail the caller. When
// maxPending writes are already in flight the row is dropped and counted; the
// log line is always written.
type AuditService struct {
	repo         SecurityEventRepository
	auditLogger  *pkglogger.AuditLogger
	logger       *slog.Logger
	writeTimeout time.Duration
	pending      *semaphore.Weighted
	dropped      atomic.Int64
	wg           sync.WaitGroup
}

func NewAuditService(repo SecurityEventRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return NewAuditServiceWithLimit(repo, auditLogger, logger, DefaultMaxPendingWrites)
}

// NewAuditServiceWithLimit is NewAuditService with an explicit in-flight write cap
func NewAuditServiceWithLimit(repo SecurityEventRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger, maxPending int) *AuditService {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingWrites
	}
	return &AuditService{
		repo:         repo,
		auditLogger:  auditLogger,
		logger:       logger,
		writeTimeout: 5 * time.Second,
		pending:      semaphore.NewWeighted(int64(maxPending)),
	}
}

// Record logs event and schedules its persistence
func (s *AuditService) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: event.EventType,
		Severity:  string(event.Severity),
		Message:   event.Message,
		UserID:    userID,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Path:      event.Path,
		Metadata:  event.Metadata,
	})

	if s.repo == nil {
		return
	}

	if !s.pending.TryAcquire(1) {
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("security event write dropped, writer saturated",
				slog.String("event_type", event.EventType),
				slog.Int64("dropped_total", n),
			)
		}
		return
	}

	// the request may finish before the row is written
	writeCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pending.Release(1)
		ctx, cancel := context.WithTimeout(writeCtx, s.writeTimeout)
		defer cancel()

		if err := s.repo.Create(ctx, event); err != nil {
			s.logger.Error("failed to persist security event",
				slog.String("event_type", event.EventType),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		}
	}()
}

// Dropped returns how many rows were skipped because the writer was saturated
func (s *AuditService) Dropped() int64 {
	return s.dropped.Load()
}

// LastSuccessfulLogin returns the newest auth_login_success event for userID
func (s *AuditService) LastSuccessfulLogin(ctx context.Context, userID string) (*models.SecurityEvent, error) {
	if s.repo == nil {
		return nil, models.ErrNotFound
	}
	return s.repo.GetLatestForUser(ctx, userID, models.EventLoginSuccess)
}

// RecentForUser lists the user's latest security events, newest first
func (s *AuditService) RecentForUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if s.repo == nil {
		return []*models.SecurityEvent{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// Wait blocks until pending writes finish or ctx ends
func (s *AuditService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
