package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/services"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
)

const maxRequestBodyBytes = 64 << 10

// LoginServiceInterface defines the two-step login used by the handlers
type LoginServiceInterface interface {
	Start(ctx context.Context, rc models.RequestContext, email, password string) (*services.LoginStartResult, error)
	VerifyOTP(ctx context.Context, rc models.RequestContext, challengeID, code string) (*services.LoginVerifyResult, error)
}

// AuthHandler handles the login gateway routes
type AuthHandler struct {
	service  LoginServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginStartRequest represents the request body for the password step
type LoginStartRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// VerifyOTPRequest represents the request body for the code step
type VerifyOTPRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,uuid"`
	OTP         string `json:"otp" validate:"required,len=6,number"`
}

// Response DTOs

// LoginStartResponse is either a pending challenge or, in degraded mode, the session
type LoginStartResponse struct {
	RequiresOTP bool            `json:"requires_otp"`
	ChallengeID string          `json:"challenge_id,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	MaskedEmail string          `json:"masked_email,omitempty"`
	Session     *models.Session `json:"session,omitempty"`
	Degraded    bool            `json:"degraded,omitempty"`
}

// VerifyOTPResponse carries the released session
type VerifyOTPResponse struct {
	Session    *models.Session `json:"session"`
	Suspicious bool            `json:"suspicious"`
}

// SessionResponse describes the bearer session presented by the caller
type SessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// requestContext reads the body once and captures the request as a RequestContext
func (h *AuthHandler) requestContext(w http.ResponseWriter, r *http.Request) (models.RequestContext, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return models.RequestContext{}, fmt.Errorf("read body: %w", err)
	}
	return models.NewRequestContext(r, pkghttp.ExtractClientIP(r, h.ipConfig), body), nil
}

// decodeRequest reads, decodes and validates a JSON body into dst
func (h *AuthHandler) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) (models.RequestContext, bool) {
	rc, err := h.requestContext(w, r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return rc, false
	}
	if err := json.Unmarshal(rc.RawBody, dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return rc, false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return rc, false
	}
	return rc, true
}

// LoginStart checks the password and opens an OTP challenge
// @Summary Start login
// @Accept json
// @Param request body LoginStartRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginStartResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /api/auth/login/start [post]
func (h *AuthHandler) LoginStart(w http.ResponseWriter, r *http.Request) {
	var req LoginStartRequest
	rc, ok := h.decodeRequest(w, r, &req)
	if !ok {
		return
	}

	result, err := h.service.Start(r.Context(), rc, req.Email, req.Password)
	if err != nil {
		var locked *models.LockedError
		switch {
		case errors.As(err, &locked):
			pkghttp.WriteLocked(w, locked.LockUntil, "try again in "+humanizeDuration(locked.Remaining(time.Now())))
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		case errors.Is(err, models.ErrConfiguration):
			pkghttp.WriteServiceUnavailable(w, "Login is not available: security configuration missing")
		case errors.Is(err, models.ErrDeliveryFailed):
			pkghttp.WriteServiceUnavailable(w, "Could not deliver the sign-in code, please try again")
		default:
			h.logger.Error("login start failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := LoginStartResponse{
		RequiresOTP: result.RequiresOTP,
		Session:     result.Session,
		Degraded:    result.Degraded,
	}
	if result.RequiresOTP {
		expiresAt := result.ExpiresAt.UTC()
		resp.ChallengeID = result.ChallengeID
		resp.ExpiresAt = &expiresAt
		resp.MaskedEmail = result.MaskedEmail
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// VerifyOTP redeems a challenge for the escrowed session
// @Summary Verify login code
// @Accept json
// @Param request body VerifyOTPRequest true "Verify request"
// @Produce json
// @Success 200 {object} VerifyOTPResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /api/auth/login/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	rc, ok := h.decodeRequest(w, r, &req)
	if !ok {
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), rc, req.ChallengeID, req.OTP)
	if err != nil {
		var challengeErr *models.ChallengeError
		switch {
		case errors.As(err, &challengeErr):
			pkghttp.WriteInvalidCode(w, challengeErr.AttemptsRemaining)
		case errors.Is(err, models.ErrInvalidOrExpiredChallenge):
			pkghttp.WriteInvalidCode(w, nil)
		case errors.Is(err, models.ErrPayloadIntegrity):
			pkghttp.WriteInternalError(w, "Sign-in could not be completed, please log in again")
		default:
			h.logger.Error("otp verification failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyOTPResponse{
		Session:    result.Session,
		Suspicious: result.Suspicious,
	})
}

// Session reports the bearer session validated by auth.AuthMiddleware
// @Summary Current session
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.UTC(),
	})
}

// humanizeDuration renders a lock's remaining time, rounded up to whole minutes
func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int((d + time.Second - 1) / time.Second)
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
