package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/services"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds validated bearer claims to the request context
func WithSessionContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.SessionClaims{
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	StartFunc     func(ctx context.Context, rc models.RequestContext, email, password string) (*services.LoginStartResult, error)
	VerifyOTPFunc func(ctx context.Context, rc models.RequestContext, challengeID, code string) (*services.LoginVerifyResult, error)

	LastContext models.RequestContext
}

func (m *MockLoginService) Start(ctx context.Context, rc models.RequestContext, email, password string) (*services.LoginStartResult, error) {
	m.LastContext = rc
	if m.StartFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.StartFunc(ctx, rc, email, password)
}

func (m *MockLoginService) VerifyOTP(ctx context.Context, rc models.RequestContext, challengeID, code string) (*services.LoginVerifyResult, error) {
	m.LastContext = rc
	if m.VerifyOTPFunc == nil {
		return nil, &models.ChallengeError{}
	}
	return m.VerifyOTPFunc(ctx, rc, challengeID, code)
}

// MockSecurityEventLister implements SecurityEventLister for testing
type MockSecurityEventLister struct {
	RecentSecurityEventsFunc func(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventLister) RecentSecurityEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if m.RecentSecurityEventsFunc == nil {
		return []*models.SecurityEvent{}, nil
	}
	return m.RecentSecurityEventsFunc(ctx, userID, limit)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
