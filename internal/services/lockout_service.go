package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
)

// LoginAttemptStore persists the failure ledger
type LoginAttemptStore interface {
	Get(ctx context.Context, email, ipAddress string) (*models.LoginAttemptState, error)
	Modify(ctx context.Context, email, ipAddress string, fn func(*models.LoginAttemptState)) (*models.LoginAttemptState, error)
	Clear(ctx context.Context, email, ipAddress string) error
}

// LockoutConfig sets when and for how long an (email, ip) pair is locked
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LockoutService tracks failed password checks per (email, ip) and locks the
// pair after MaxFailedAttempts consecutive failures
type LockoutService struct {
	store  LoginAttemptStore
	config LockoutConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewLockoutService(store LoginAttemptStore, config LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetState returns the ledger row, or nil when the pair has no failures on record
func (s *LockoutService) GetState(ctx context.Context, email, ipAddress string) (*models.LoginAttemptState, error) {
	state, err := s.store.Get(ctx, normalizeEmail(email), ipAddress)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return state, err
}

// CheckLocked returns a *models.LockedError while the pair is locked. A lock
// that has run out is cleared here, on the first attempt after expiry.
// Ledger read failures fail open: the password check still runs.
func (s *LockoutService) CheckLocked(ctx context.Context, email, ipAddress string) error {
	email = normalizeEmail(email)
	now := s.now()

	state, err := s.GetState(ctx, email, ipAddress)
	if err != nil {
		s.logger.Error("failed to read login attempt ledger", slog.Any("error", err))
		return nil
	}
	if state == nil {
		return nil
	}

	if state.IsLocked(now) {
		return &models.LockedError{LockUntil: *state.LockUntil}
	}

	if state.LockExpired(now) {
		if err := s.store.Clear(ctx, email, ipAddress); err != nil {
			s.logger.Error("failed to reset expired lock", slog.Any("error", err))
		}
	}
	return nil
}

// RecordFailure counts a failed password check and applies the lock once the
// threshold is reached
func (s *LockoutService) RecordFailure(ctx context.Context, email, ipAddress string) (*models.LoginAttemptState, error) {
	email = normalizeEmail(email)
	now := s.now()

	state, err := s.store.Modify(ctx, email, ipAddress, func(st *models.LoginAttemptState) {
		if st.LockExpired(now) {
			st.FailedCount = 0
			st.LockUntil = nil
		}
		st.FailedCount++
		st.LastAttemptAt = now
		if st.FailedCount >= s.config.MaxFailedAttempts && st.LockUntil == nil {
			lockUntil := now.Add(s.config.LockoutDuration)
			st.LockUntil = &lockUntil
		}
	})
	if err != nil {
		return nil, err
	}

	if state.IsLocked(now) {
		s.logger.Warn("login locked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", ipAddress),
			slog.Int("failed_count", state.FailedCount),
			slog.Time("lock_until", *state.LockUntil),
		)
	}
	return state, nil
}

// RecordSuccess clears the ledger for the pair
func (s *LockoutService) RecordSuccess(ctx context.Context, email, ipAddress string) error {
	return s.store.Clear(ctx, normalizeEmail(email), ipAddress)
}
