package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostedIdentityProvider_VerifyPassword_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body passwordGrantRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body.Email)
		assert.Equal(t, "correct-horse", body.Password)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "at",
			"token_type": "bearer",
			"expires_in": 3600,
			"expires_at": 1893456000,
			"refresh_token": "rt",
			"user": {"id": "user-123", "email": "alice@example.com"}
		}`))
	}))
	defer server.Close()

	idp := NewHostedIdentityProvider(server.URL, "anon-key", 2*time.Second, discardLogger())
	session, err := idp.VerifyPassword(context.Background(), "alice@example.com", "correct-horse")
	require.NoError(t, err)

	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "rt", session.RefreshToken)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, "user-123", session.UserID)
	assert.Equal(t, "alice@example.com", session.Email)
	assert.Equal(t, time.Unix(1893456000, 0).UTC(), session.ExpiresAt)
}

func TestHostedIdentityProvider_VerifyPassword_ExpiresInFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"at","expires_in":60,"user":{"id":"u"}}`))
	}))
	defer server.Close()

	idp := NewHostedIdentityProvider(server.URL, "k", time.Second, discardLogger())
	session, err := idp.VerifyPassword(context.Background(), "bob@example.com", "pw")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), session.ExpiresAt, 5*time.Second)
	assert.Equal(t, "bob@example.com", session.Email)
}

func TestHostedIdentityProvider_VerifyPassword_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request is invalid credentials", http.StatusBadRequest, `{"error":"invalid_grant"}`, models.ErrInvalidCredentials},
		{"unauthorized is invalid credentials", http.StatusUnauthorized, `{}`, models.ErrInvalidCredentials},
		{"server error", http.StatusInternalServerError, `oops`, models.ErrInternalServer},
		{"malformed body", http.StatusOK, `not json`, models.ErrInternalServer},
		{"missing session", http.StatusOK, `{"user":{"id":"u"}}`, models.ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			idp := NewHostedIdentityProvider(server.URL, "k", time.Second, discardLogger())
			_, err := idp.VerifyPassword(context.Background(), "a@x.com", "pw")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHostedIdentityProvider_VerifyPassword_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	idp := NewHostedIdentityProvider(url, "k", time.Second, discardLogger())
	_, err := idp.VerifyPassword(context.Background(), "a@x.com", "pw")
	assert.ErrorIs(t, err, models.ErrInternalServer)
}
