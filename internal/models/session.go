package models

import "time"

// Session is the token pair issued by the identity provider after a
// successful password check. It is escrowed inside an OTP challenge and
// returned verbatim once the code is verified.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

// SessionClaims are the claims read from a provider access token.
type SessionClaims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}
