package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/models"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
)

// SecurityEventLister reads a user's security events
type SecurityEventLister interface {
	RecentSecurityEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
}

// AuditHandler exposes the caller's own security events
type AuditHandler struct {
	events SecurityEventLister
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(events SecurityEventLister, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{events: events, logger: logger}
}

// SecurityEventResponse represents a security event in HTTP responses
type SecurityEventResponse struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Path      string                 `json:"path,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

// ListSecurityEvents returns the authenticated user's latest security events
// @Summary Recent security events
// @Produce json
// @Param limit query int false "Max events (1-100, default 20)"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/auth/security-events [get]
func (h *AuditHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	events, err := h.events.RecentSecurityEvents(r.Context(), claims.UserID, limit)
	if err != nil {
		h.logger.Error("failed to list security events", slog.String("user_id", claims.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	response := make([]*SecurityEventResponse, len(events))
	for i, e := range events {
		response[i] = securityEventToResponse(e)
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": response,
		"limit":  limit,
	})
}

// securityEventToResponse converts a security event to a response DTO
func securityEventToResponse(e *models.SecurityEvent) *SecurityEventResponse {
	return &SecurityEventResponse{
		ID:        e.ID,
		EventType: e.EventType,
		Severity:  string(e.Severity),
		Message:   e.Message,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Path:      e.Path,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
