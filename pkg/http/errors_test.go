package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"bad request", func(w http.ResponseWriter) { pkghttp.WriteBadRequest(w, "x") }, 400, "bad_request"},
		{"unauthorized", func(w http.ResponseWriter) { pkghttp.WriteUnauthorized(w, "x") }, 401, "unauthorized"},
		{"not found", func(w http.ResponseWriter) { pkghttp.WriteNotFound(w, "x") }, 404, "not_found"},
		{"internal", func(w http.ResponseWriter) { pkghttp.WriteInternalError(w, "x") }, 500, "internal_error"},
		{"unavailable", func(w http.ResponseWriter) { pkghttp.WriteServiceUnavailable(w, "x") }, 503, "service_unavailable"},
		{"csrf", pkghttp.WriteCSRFRejected, 403, "csrf_rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
		})
	}
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	until := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	pkghttp.WriteLocked(w, until, "try again in 15 minutes")

	assert.Equal(t, http.StatusLocked, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "locked", resp.Error)
	assert.Equal(t, "try again in 15 minutes", resp.Details)
	require.NotNil(t, resp.LockUntil)
	assert.True(t, until.Equal(*resp.LockUntil))
}

func TestWriteInvalidCode(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteInvalidCode(w, nil)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_or_expired_code", raw["error"])
	assert.NotContains(t, raw, "attempts_remaining")

	w = httptest.NewRecorder()
	remaining := 2
	pkghttp.WriteInvalidCode(w, &remaining)
	resp := decodeError(t, w)
	require.NotNil(t, resp.AttemptsRemaining)
	assert.Equal(t, 2, *resp.AttemptsRemaining)
}

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteTooManyRequests(w, 42)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Equal(t, 42, decodeError(t, w).RetryAfter)

	w = httptest.NewRecorder()
	pkghttp.WriteTooManyRequests(w, 0)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
