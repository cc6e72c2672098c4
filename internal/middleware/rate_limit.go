package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/ratelimit"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	"github.com/go-chi/httprate"
)

// Auditor records perimeter rejections
type Auditor interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// RateLimitConfig holds the per-IP burst guard applied to the login routes
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// It sits in front of the fixed-window gate so a single caller cannot flood
// the limiter backend or the identity provider. Forwarding headers only move
// the key when the peer is a trusted proxy.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retry := 60
			if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil {
				retry = v
			}
			pkghttp.WriteTooManyRequests(w, retry)
		}),
	)
}

// APIRateLimitConfig wires the fixed-window gate
type APIRateLimitConfig struct {
	Limiter  ratelimit.Limiter
	Policies *ratelimit.PolicyTable
	IPConfig *pkghttp.IPConfig
	Audit    Auditor
	Logger   *slog.Logger
}

// isAPIPath reports whether the perimeter gates apply to path
func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// APIRateLimit counts every /api/ request against a (client ip, path, method)
// bucket. The limiter failing lets the request through.
func APIRateLimit(config APIRateLimitConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := pkghttp.ExtractClientIP(r, config.IPConfig)
			policy := config.Policies.Lookup(r.URL.Path)
			key := ratelimit.Key(clientIP, r.URL.Path, r.Method)

			result, err := config.Limiter.Check(r.Context(), key, policy)
			if err != nil {
				logger.Error("rate limiter unavailable, allowing request",
					slog.String("path", r.URL.Path),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if config.Audit != nil {
					rc := models.NewRequestContext(r, clientIP, nil)
					config.Audit.Record(r.Context(),
						models.NewSecurityEvent(rc, models.EventRateLimitExceeded, models.SeverityWarning, "rate limit exceeded").
							With("method", r.Method).
							With("limit", result.Limit).
							With("window_seconds", int(policy.Window/time.Second)))
				}
				pkghttp.WriteTooManyRequests(w, result.RetryAfterSeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
