package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/models"
	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
	"github.com/google/uuid"
)

// OTPChallengeRepository persists challenges. ReserveAttempt and Consume
// only touch rows whose consumed_at is still NULL.
type OTPChallengeRepository interface {
	Create(ctx context.Context, challenge *models.OTPChallenge) error
	GetByID(ctx context.Context, id string) (*models.OTPChallenge, error)
	ReserveAttempt(ctx context.Context, id string, now time.Time) (*models.OTPChallenge, error)
	Consume(ctx context.Context, id string, now time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CodeSender delivers the plaintext code out of band
type CodeSender interface {
	SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time, requestIP string) error
}

// OTPConfig controls challenge lifetime and verification policy
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	StrictIP    bool
}

// VerifiedChallenge is a consumed challenge together with its released session
type VerifiedChallenge struct {
	Challenge *models.OTPChallenge
	Session   *models.Session
}

// OTPService escrows sessions behind one-time codes
type OTPService struct {
	repo   OTPChallengeRepository
	cipher *auth.EnvelopeCipher
	hasher *auth.SecretHasher
	sender CodeSender
	audit  *AuditService
	config OTPConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewOTPService(
	repo OTPChallengeRepository,
	cipher *auth.EnvelopeCipher,
	hasher *auth.SecretHasher,
	sender CodeSender,
	audit *AuditService,
	config OTPConfig,
	logger *slog.Logger,
) *OTPService {
	return &OTPService{
		repo:   repo,
		cipher: cipher,
		hasher: hasher,
		sender: sender,
		audit:  audit,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Configured reports whether sessions can be escrowed
func (s *OTPService) Configured() bool {
	return s.cipher.Configured()
}

// Create escrows session behind a fresh code and delivers the code. A challenge
// whose code could not be delivered is deleted before returning.
func (s *OTPService) Create(ctx context.Context, rc models.RequestContext, session *models.Session) (*models.OTPChallenge, error) {
	if !s.cipher.Configured() {
		return nil, fmt.Errorf("otp escrow: %w", models.ErrConfiguration)
	}

	code, err := auth.GenerateOTPCode()
	if err != nil {
		return nil, err
	}
	codeHash, err := s.hasher.HashOneWay(code)
	if err != nil {
		return nil, err
	}
	payload, err := s.cipher.SealJSON(session)
	if err != nil {
		return nil, fmt.Errorf("failed to escrow session: %w", err)
	}

	now := s.now().UTC()
	challenge := &models.OTPChallenge{
		ID:                      uuid.NewString(),
		UserID:                  session.UserID,
		Email:                   normalizeEmail(session.Email),
		CodeHash:                codeHash,
		EncryptedSessionPayload: payload,
		MaxAttempts:             s.config.MaxAttempts,
		ExpiresAt:               now.Add(s.config.TTL),
		CreatedIP:               rc.ClientIP,
		CreatedUserAgent:        rc.UserAgent,
	}
	if err := s.repo.Create(ctx, challenge); err != nil {
		return nil, err
	}

	ref := s.hasher.Reference("chl", challenge.ID)

	if err := s.sender.SendLoginCode(ctx, challenge.Email, code, challenge.ExpiresAt, rc.ClientIP); err != nil {
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), challenge.ID); delErr != nil {
			s.logger.Error("failed to delete undelivered otp challenge",
				slog.String("challenge_ref", ref),
				slog.Any("error", delErr),
			)
		}
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPDeliveryFailed, models.SeverityWarning, "login code could not be delivered").
			WithUser(challenge.UserID).
			With("challenge_ref", ref))
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPSent, models.SeverityInfo, "login code sent").
		WithUser(challenge.UserID).
		With("challenge_ref", ref).
		With("masked_email", pkglogger.SanitizedEmail(challenge.Email)).
		With("expires_at", challenge.ExpiresAt.Format(time.RFC3339)))

	return challenge, nil
}

// Verify checks code against the challenge and releases the escrowed session.
// Every rejection is a *models.ChallengeError; tampered escrow yields
// models.ErrPayloadIntegrity.
func (s *OTPService) Verify(ctx context.Context, rc models.RequestContext, challengeID, code string) (*VerifiedChallenge, error) {
	now := s.now().UTC()

	if _, err := uuid.Parse(challengeID); err != nil || !auth.IsWellFormedCode(code) {
		s.reject(ctx, rc, nil, "malformed_request")
		return nil, &models.ChallengeError{}
	}

	challenge, err := s.repo.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.reject(ctx, rc, nil, "unknown_challenge")
			return nil, &models.ChallengeError{}
		}
		return nil, fmt.Errorf("failed to load otp challenge: %w", err)
	}

	switch {
	case challenge.IsConsumed():
		s.reject(ctx, rc, challenge, "consumed")
		return nil, &models.ChallengeError{}
	case challenge.IsExpired(now):
		s.reject(ctx, rc, challenge, "expired")
		return nil, &models.ChallengeError{}
	case challenge.IsExhausted():
		s.reject(ctx, rc, challenge, "exhausted")
		return nil, &models.ChallengeError{}
	}

	ref := s.hasher.Reference("chl", challenge.ID)

	if s.config.StrictIP && challenge.CreatedIP != rc.ClientIP {
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPIPMismatch, models.SeverityCritical, "login code presented from a different network").
			WithUser(challenge.UserID).
			With("challenge_ref", ref).
			With("created_ip", challenge.CreatedIP).
			With("current_ip", rc.ClientIP))
		return nil, &models.ChallengeError{}
	}

	// The attempt is charged before the comparison so concurrent guesses
	// cannot exceed the budget.
	reserved, err := s.repo.ReserveAttempt(ctx, challenge.ID, now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.reject(ctx, rc, challenge, "exhausted")
			return nil, &models.ChallengeError{}
		}
		return nil, fmt.Errorf("failed to reserve otp attempt: %w", err)
	}

	if !s.hasher.VerifyOneWay(code, reserved.CodeHash) {
		return nil, s.recordMismatch(ctx, rc, reserved, ref, now)
	}

	consumed, err := s.repo.Consume(ctx, reserved.ID, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		s.reject(ctx, rc, reserved, "consumed")
		return nil, &models.ChallengeError{}
	}
	challenge = reserved
	challenge.ConsumedAt = &now

	var session models.Session
	if err := s.cipher.OpenJSON(challenge.EncryptedSessionPayload, &session); err != nil {
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPDecryptFailed, models.SeverityCritical, "escrowed session failed integrity check").
			WithUser(challenge.UserID).
			With("challenge_ref", ref))
		return nil, fmt.Errorf("otp challenge %s: %w", ref, models.ErrPayloadIntegrity)
	}

	return &VerifiedChallenge{Challenge: challenge, Session: &session}, nil
}

// recordMismatch reports a wrong code on an already reserved attempt. The
// attempt that reaches the limit burns the challenge.
func (s *OTPService) recordMismatch(ctx context.Context, rc models.RequestContext, reserved *models.OTPChallenge, ref string, now time.Time) error {
	remaining := reserved.AttemptsRemaining()
	if reserved.IsExhausted() {
		if _, err := s.repo.Consume(ctx, reserved.ID, now); err != nil {
			return fmt.Errorf("failed to burn otp challenge: %w", err)
		}
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPExhausted, models.SeverityCritical, "login code attempts exhausted").
			WithUser(reserved.UserID).
			With("challenge_ref", ref).
			With("attempts", reserved.AttemptsCount))
		return &models.ChallengeError{AttemptsRemaining: &remaining}
	}

	s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventOTPInvalid, models.SeverityWarning, "incorrect login code").
		WithUser(reserved.UserID).
		With("challenge_ref", ref).
		With("attempts_remaining", remaining))
	return &models.ChallengeError{AttemptsRemaining: &remaining}
}

func (s *OTPService) reject(ctx context.Context, rc models.RequestContext, challenge *models.OTPChallenge, reason string) {
	event := models.NewSecurityEvent(rc, models.EventOTPRejected, models.SeverityWarning, "login code rejected").
		With("reason", reason)
	if challenge != nil {
		event.WithUser(challenge.UserID).With("challenge_ref", s.hasher.Reference("chl", challenge.ID))
	}
	s.audit.Record(ctx, event)
}

// Sweep deletes challenges that expired more than retention ago
func (s *OTPService) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteExpiredBefore(ctx, s.now().Add(-retention))
}
