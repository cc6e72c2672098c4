package models

import "time"

// OTPChallenge escrows an encrypted session behind a hashed one-time code
type OTPChallenge struct {
	ID                      string     `db:"id"`
	UserID                  string     `db:"user_id"`
	Email                   string     `db:"email"`
	CodeHash                string     `db:"code_hash"`
	EncryptedSessionPayload string     `db:"encrypted_session_payload"`
	AttemptsCount           int        `db:"attempts_count"`
	MaxAttempts             int        `db:"max_attempts"`
	ExpiresAt               time.Time  `db:"expires_at"`
	ConsumedAt              *time.Time `db:"consumed_at"`
	CreatedIP               string     `db:"created_ip"`
	CreatedUserAgent        string     `db:"created_user_agent"`
	CreatedAt               time.Time  `db:"created_at"`
}

// IsConsumed reports whether the challenge was verified or burned
func (c *OTPChallenge) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// IsExpired reports whether the challenge TTL has elapsed at now
func (c *OTPChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsExhausted reports whether the attempt budget is spent
func (c *OTPChallenge) IsExhausted() bool {
	return c.AttemptsCount >= c.MaxAttempts
}

// Usable reports whether a code may still be checked against this challenge
func (c *OTPChallenge) Usable(now time.Time) bool {
	return !c.IsConsumed() && !c.IsExpired(now) && !c.IsExhausted()
}

// AttemptsRemaining returns the attempts left before the challenge burns
func (c *OTPChallenge) AttemptsRemaining() int {
	if r := c.MaxAttempts - c.AttemptsCount; r > 0 {
		return r
	}
	return 0
}
