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
)

// LoginNotifier is told about logins that look unusual
type LoginNotifier interface {
	NotifyNewLogin(ctx context.Context, alert NewLoginAlert)
}

// LoginConfig holds the login-level switches
type LoginConfig struct {
	// AllowDegraded lets login release the session without a code when no
	// escrow key is configured
	AllowDegraded bool
}

// LoginStartResult is either a pending challenge or, in degraded mode, the session itself
type LoginStartResult struct {
	RequiresOTP bool
	ChallengeID string
	ExpiresAt   time.Time
	MaskedEmail string
	Session     *models.Session
	Degraded    bool
}

// LoginVerifyResult carries the released session
type LoginVerifyResult struct {
	Session    *models.Session
	Suspicious bool
}

// LoginService runs the two-step login: password check, then one-time code
type LoginService struct {
	idp      IdentityProvider
	lockout  *LockoutService
	otp      *OTPService
	audit    *AuditService
	notifier LoginNotifier
	timing   *auth.TimingDelay
	config   LoginConfig
	logger   *slog.Logger
}

func NewLoginService(
	idp IdentityProvider,
	lockout *LockoutService,
	otp *OTPService,
	audit *AuditService,
	notifier LoginNotifier,
	timing *auth.TimingDelay,
	config LoginConfig,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		idp:      idp,
		lockout:  lockout,
		otp:      otp,
		audit:    audit,
		notifier: notifier,
		timing:   timing,
		config:   config,
		logger:   logger,
	}
}

// Start verifies the password and opens an OTP challenge.
//
// Errors: *models.LockedError while the (email, ip) pair is locked,
// models.ErrInvalidCredentials, models.ErrConfiguration when OTP is
// unavailable and degraded mode is off, models.ErrDeliveryFailed.
func (s *LoginService) Start(ctx context.Context, rc models.RequestContext, email, password string) (*LoginStartResult, error) {
	started := time.Now()
	email = normalizeEmail(email)
	masked := pkglogger.SanitizedEmail(email)

	if err := s.lockout.CheckLocked(ctx, email, rc.ClientIP); err != nil {
		var locked *models.LockedError
		if errors.As(err, &locked) {
			s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventLoginLocked, models.SeverityWarning, "login attempt while locked").
				With("masked_email", masked).
				With("lock_until", locked.LockUntil.UTC().Format(time.RFC3339)))
		}
		return nil, err
	}

	session, err := s.idp.VerifyPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			s.recordPasswordFailure(ctx, rc, email)
			s.timing.WaitFrom(ctx, started, false)
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("password verification failed", slog.Any("error", err))
		return nil, fmt.Errorf("password verification: %w", err)
	}

	if err := s.lockout.RecordSuccess(ctx, email, rc.ClientIP); err != nil {
		s.logger.Error("failed to clear login attempts", slog.Any("error", err))
	}

	if !s.otp.Configured() {
		return s.startDegraded(ctx, rc, session)
	}

	challenge, err := s.otp.Create(ctx, rc, session)
	if err != nil {
		s.logger.Error("failed to open otp challenge", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, err
	}

	return &LoginStartResult{
		RequiresOTP: true,
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt,
		MaskedEmail: masked,
	}, nil
}

func (s *LoginService) recordPasswordFailure(ctx context.Context, rc models.RequestContext, email string) {
	masked := pkglogger.SanitizedEmail(email)
	event := models.NewSecurityEvent(rc, models.EventLoginFailed, models.SeverityWarning, "invalid credentials").
		With("masked_email", masked)

	state, err := s.lockout.RecordFailure(ctx, email, rc.ClientIP)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		s.audit.Record(ctx, event)
		return
	}

	event.With("failed_count", state.FailedCount)
	s.audit.Record(ctx, event)

	if state.IsLocked(time.Now()) {
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventLoginLocked, models.SeverityWarning, "login locked after repeated failures").
			With("masked_email", masked).
			With("failed_count", state.FailedCount).
			With("lock_until", state.LockUntil.UTC().Format(time.RFC3339)))
	}
}

func (s *LoginService) startDegraded(ctx context.Context, rc models.RequestContext, session *models.Session) (*LoginStartResult, error) {
	if !s.config.AllowDegraded {
		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventConfigurationError, models.SeverityCritical, "otp escrow key missing, login refused").
			WithUser(session.UserID))
		return nil, fmt.Errorf("otp escrow key missing: %w", models.ErrConfiguration)
	}

	s.logger.Warn("login completed without second factor: otp escrow key missing",
		slog.String("user_id", session.UserID))
	s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventLoginDegraded, models.SeverityWarning, "login completed without second factor").
		WithUser(session.UserID).
		With("reason", "otp_key_missing"))

	return &LoginStartResult{
		RequiresOTP: false,
		Session:     session,
		Degraded:    true,
	}, nil
}

// VerifyOTP redeems a challenge. Rejections are *models.ChallengeError;
// tampered escrow is models.ErrPayloadIntegrity.
func (s *LoginService) VerifyOTP(ctx context.Context, rc models.RequestContext, challengeID, code string) (*LoginVerifyResult, error) {
	verified, err := s.otp.Verify(ctx, rc, challengeID, code)
	if err != nil {
		return nil, err
	}
	challenge, session := verified.Challenge, verified.Session

	if err := s.lockout.RecordSuccess(ctx, challenge.Email, rc.ClientIP); err != nil {
		s.logger.Error("failed to clear login attempts", slog.Any("error", err))
	}
	if challenge.CreatedIP != rc.ClientIP {
		if err := s.lockout.RecordSuccess(ctx, challenge.Email, challenge.CreatedIP); err != nil {
			s.logger.Error("failed to clear login attempts for origin ip", slog.Any("error", err))
		}
	}

	previousIP, suspicious := s.detectAnomaly(ctx, session.UserID, rc.ClientIP)

	success := models.NewSecurityEvent(rc, models.EventLoginSuccess, models.SeverityInfo, "login succeeded").
		WithUser(session.UserID).
		With("challenge_ref", s.otp.hasher.Reference("chl", challenge.ID))

	if suspicious {
		success.Severity = models.SeverityWarning
		success.With("previous_ip", previousIP).With("current_ip", rc.ClientIP)

		s.audit.Record(ctx, models.NewSecurityEvent(rc, models.EventLoginSuspicious, models.SeverityWarning, "login from a new network").
			WithUser(session.UserID).
			With("previous_ip", previousIP).
			With("current_ip", rc.ClientIP))

		if s.notifier != nil {
			s.notifier.NotifyNewLogin(ctx, NewLoginAlert{
				UserID:     session.UserID,
				Email:      session.Email,
				PreviousIP: previousIP,
				CurrentIP:  rc.ClientIP,
				UserAgent:  rc.UserAgent,
				At:         rc.Now,
			})
		}
	}
	s.audit.Record(ctx, success)

	return &LoginVerifyResult{Session: session, Suspicious: suspicious}, nil
}

// detectAnomaly compares currentIP with the address of the user's previous successful login
func (s *LoginService) detectAnomaly(ctx context.Context, userID, currentIP string) (string, bool) {
	last, err := s.audit.LastSuccessfulLogin(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to load previous login", slog.Any("error", err))
		}
		return "", false
	}
	if last.IPAddress == "" || last.IPAddress == currentIP {
		return last.IPAddress, false
	}
	return last.IPAddress, true
}

// RecentSecurityEvents lists the caller's latest security events
func (s *LoginService) RecentSecurityEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	return s.audit.RecentForUser(ctx, userID, limit)
}
