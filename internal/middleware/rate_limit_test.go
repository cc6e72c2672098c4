package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/ratelimit"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(limiter ratelimit.Limiter, audit Auditor) http.Handler {
	policies := ratelimit.NewPolicyTable(
		models.RateLimitPolicy{MaxRequests: 100, Window: time.Minute},
		ratelimit.Rule{Prefix: "/api/auth/", Policy: models.RateLimitPolicy{MaxRequests: 2, Window: time.Minute}},
	)
	return APIRateLimit(APIRateLimitConfig{
		Limiter:  limiter,
		Policies: policies,
		Audit:    audit,
		Logger:   discardLogger(),
	})(okHandler)
}

func doRequest(h http.Handler, method, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIRateLimit_RejectsOverPolicy(t *testing.T) {
	audit := &recordingAuditor{}
	h := newTestGate(ratelimit.NewMemoryLimiter(), audit)

	first := doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000")
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	var body pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Positive(t, body.RetryAfter)

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRateLimitExceeded, events[0].EventType)
	assert.Equal(t, "192.0.2.1", events[0].IPAddress)
	assert.Equal(t, "/api/auth/login/start", events[0].Path)
}

func TestAPIRateLimit_BucketsAreIndependent(t *testing.T) {
	h := newTestGate(ratelimit.NewMemoryLimiter(), nil)

	for i := 0; i < 2; i++ {
		doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000")
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000").Code)

	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.2:1000").Code, "other ip")
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/api/auth/login/verify-otp", "192.0.2.1:1000").Code, "other path")
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/api/auth/login/start", "192.0.2.1:1000").Code, "other method")
}

func TestAPIRateLimit_IgnoresNonAPIPaths(t *testing.T) {
	h := newTestGate(ratelimit.NewMemoryLimiter(), nil)

	for i := 0; i < 5; i++ {
		w := doRequest(h, http.MethodGet, "/health", "192.0.2.1:1000")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestAPIRateLimit_FailsOpen(t *testing.T) {
	h := newTestGate(failingLimiter{}, nil)

	w := doRequest(h, http.MethodPost, "/api/auth/login/start", "192.0.2.1:1000")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP_BurstGuard(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})(okHandler)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/api/auth/login/start", "198.51.100.4:5000").Code)
	}

	w := doRequest(h, http.MethodPost, "/api/auth/login/start", "198.51.100.4:5000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
}

func TestRateLimitByIP_IgnoresUntrustedForwardingHeaders(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{
		RequestsPerMinute: 2,
		IPConfig:          &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
	})(okHandler)

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/start", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("True-Client-IP", fmt.Sprintf("192.0.2.%d", i+1))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.18.0.%d", i+1))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRateLimitByIP_TrustedProxyKeysByForwardedClient(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{
		RequestsPerMinute: 1,
		IPConfig:          &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
	})(okHandler)

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/start", nil)
		req.RemoteAddr = "10.0.0.5:443"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"), "distinct clients behind the proxy get separate buckets")
	assert.Equal(t, http.StatusTooManyRequests, send("6.6.6.6, 203.0.113.1"))
}
