package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/finvault/internal/models"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
)

type contextKey string

// SessionContextKey stores the validated *models.SessionClaims on the request context
const SessionContextKey contextKey = "session"

// TokenValidator validates a bearer token
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.SessionClaims, error)
}

// AuthMiddleware requires a valid provider access token in the Authorization header
func AuthMiddleware(tv TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tv.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext returns the claims set by AuthMiddleware, or nil
func GetSessionFromContext(r *http.Request) *models.SessionClaims {
	claims, ok := r.Context().Value(SessionContextKey).(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
