package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/finvault/internal/handlers"
	"github.com/BradenHooton/finvault/internal/middleware"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (*models.SessionClaims, error) {
	if token != "good-token" {
		return nil, errors.New("invalid")
	}
	return &models.SessionClaims{UserID: "user-1", Email: "a@example.com", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestRouter(login *handlers.MockLoginService) http.Handler {
	router := chi.NewRouter()
	lister := &handlers.MockSecurityEventLister{
		RecentSecurityEventsFunc: func(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
			return nil, nil
		},
	}
	RegisterRoutes(
		router,
		handlers.NewAuthHandler(login, nil, nil),
		handlers.NewAuditHandler(lister, nil),
		staticValidator{},
		middleware.RateLimitConfig{RequestsPerMinute: 2},
		handlers.Health(&handlers.MockHealthChecker{}),
	)
	return router
}

func TestRoutes_LoginStartReachesHandler(t *testing.T) {
	called := false
	login := &handlers.MockLoginService{
		StartFunc: func(ctx context.Context, rc models.RequestContext, email, password string) (*services.LoginStartResult, error) {
			called = true
			return nil, models.ErrInvalidCredentials
		},
	}
	router := newTestRouter(login)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/start", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_LoginBurstGuard(t *testing.T) {
	router := newTestRouter(&handlers.MockLoginService{})

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/start", strings.NewReader(`{}`))
		req.RemoteAddr = "198.51.100.9:1111"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRoutes_BearerGroup(t *testing.T) {
	router := newTestRouter(&handlers.MockLoginService{})

	for _, path := range []string{"/api/auth/session", "/api/auth/security-events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRoutes_Health(t *testing.T) {
	router := newTestRouter(&handlers.MockLoginService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
