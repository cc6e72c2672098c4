package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
)

// IdentityProvider checks a password and returns the session it issues
type IdentityProvider interface {
	VerifyPassword(ctx context.Context, email, password string) (*models.Session, error)
}

// HostedIdentityProvider talks to a GoTrue-compatible password grant endpoint
type HostedIdentityProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHostedIdentityProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HostedIdentityProvider {
	return &HostedIdentityProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordGrantResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// VerifyPassword returns models.ErrInvalidCredentials for rejected credentials
// and models.ErrInternalServer for anything else. Calls are not retried.
func (p *HostedIdentityProvider) VerifyPassword(ctx context.Context, email, password string) (*models.Session, error) {
	body, err := json.Marshal(passwordGrantRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode password grant: %w", err)
	}

	endpoint := p.baseURL + "/auth/v1/token?" + url.Values{"grant_type": {"password"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build password grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("identity provider unreachable", slog.Any("error", err))
		return nil, fmt.Errorf("identity provider request failed: %w", models.ErrInternalServer)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, models.ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		p.logger.Error("identity provider returned unexpected status", slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("identity provider status %d: %w", resp.StatusCode, models.ErrInternalServer)
	}

	var grant passwordGrantResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode password grant: %w", models.ErrInternalServer)
	}
	if grant.AccessToken == "" || grant.User.ID == "" {
		return nil, fmt.Errorf("password grant missing session: %w", models.ErrInternalServer)
	}

	expiresAt := time.Unix(grant.ExpiresAt, 0).UTC()
	if grant.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second).UTC()
	}
	userEmail := grant.User.Email
	if userEmail == "" {
		userEmail = email
	}

	return &models.Session{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    expiresAt,
		TokenType:    grant.TokenType,
		UserID:       grant.User.ID,
		Email:        userEmail,
	}, nil
}
