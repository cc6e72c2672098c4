package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/finvault/internal/models"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFProtection(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		tls        bool
		origin     string
		referer    string
		wantStatus int
	}{
		{"same origin", http.MethodPost, "/api/auth/login/start", true, "https://vault.example.com", "", http.StatusOK},
		{"same origin default port", http.MethodPost, "/api/auth/login/start", true, "https://vault.example.com:443", "", http.StatusOK},
		{"same origin over plain http", http.MethodPost, "/api/auth/login/start", false, "http://vault.example.com", "", http.StatusOK},
		{"allowed origin", http.MethodPost, "/api/auth/login/start", true, "https://app.example.com", "", http.StatusOK},
		{"referer fallback", http.MethodPost, "/api/auth/login/start", true, "", "https://vault.example.com/login", http.StatusOK},
		{"http origin on https request", http.MethodPost, "/api/auth/login/start", true, "http://vault.example.com", "", http.StatusForbidden},
		{"https origin on plain http request", http.MethodPost, "/api/auth/login/start", false, "https://vault.example.com", "", http.StatusForbidden},
		{"allowed host with wrong scheme", http.MethodPost, "/api/auth/login/start", true, "http://app.example.com", "", http.StatusForbidden},
		{"http referer on https request", http.MethodPost, "/api/auth/login/start", true, "", "http://vault.example.com/login", http.StatusForbidden},
		{"foreign origin", http.MethodPost, "/api/auth/login/start", true, "https://evil.example.net", "", http.StatusForbidden},
		{"foreign referer", http.MethodPost, "/api/auth/login/start", true, "", "https://evil.example.net/x", http.StatusForbidden},
		{"non web scheme", http.MethodPost, "/api/auth/login/start", true, "ftp://vault.example.com", "", http.StatusForbidden},
		{"no origin or referer", http.MethodPost, "/api/auth/login/start", true, "", "", http.StatusForbidden},
		{"null origin", http.MethodPost, "/api/auth/login/start", true, "null", "", http.StatusForbidden},
		{"safe method", http.MethodGet, "/api/auth/session", true, "https://evil.example.net", "", http.StatusOK},
		{"exempt webhook", http.MethodPost, "/api/webhooks/ses", true, "https://evil.example.net", "", http.StatusOK},
		{"non api path", http.MethodPost, "/login", true, "https://evil.example.net", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &recordingAuditor{}
			h := CSRFProtection(CSRFConfig{
				AllowedOrigins: []string{"https://app.example.com"},
				ExemptPrefixes: []string{"/api/webhooks/", "/api/cron/"},
				Audit:          audit,
				Logger:         discardLogger(),
			})(okHandler)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Host = "vault.example.com"
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), "csrf_rejected")
				events := audit.Events()
				require.Len(t, events, 1)
				assert.Equal(t, models.EventCSRFRejected, events[0].EventType)
			} else {
				assert.Empty(t, audit.Events())
			}
		})
	}
}

func TestCSRFProtection_TrustedProxySchemeDecidesServingOrigin(t *testing.T) {
	h := CSRFProtection(CSRFConfig{
		IPConfig: &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
		Logger:   discardLogger(),
	})(okHandler)

	send := func(remoteAddr, origin string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/start", nil)
		req.Host = "vault.example.com"
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.5:443", "https://vault.example.com"))
	assert.Equal(t, http.StatusForbidden, send("10.0.0.5:443", "http://vault.example.com"))
	assert.Equal(t, http.StatusForbidden, send("203.0.113.10:443", "https://vault.example.com"), "untrusted peer cannot claim https")
}

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig([]string{"https://app.example.com"}))(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Origin", "https://evil.example.net")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login/start", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	})
}
