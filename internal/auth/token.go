package auth

import (
	"errors"
	"fmt"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for bearer tokens that fail validation
var ErrInvalidToken = errors.New("invalid or expired token")

// ProviderClaims is the claim set of an identity-provider access token
type ProviderClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager validates access tokens minted by the identity provider.
// The gateway never issues tokens of its own; it only relays provider sessions.
type TokenManager struct {
	secret   []byte
	audience string
}

// NewTokenManager creates a validator for HS256 tokens signed with secret.
// An empty audience disables the aud check.
func NewTokenManager(secret, audience string) *TokenManager {
	return &TokenManager{secret: []byte(secret), audience: audience}
}

// ValidateToken verifies signature and expiry and returns the session claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.SessionClaims, error) {
	if len(tm.secret) == 0 {
		return nil, fmt.Errorf("token secret not configured: %w", models.ErrConfiguration)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	claims := &ProviderClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &models.SessionClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
