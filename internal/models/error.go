package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security tier errors
	ErrConfiguration             = errors.New("security configuration missing")
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrLocked                    = errors.New("login temporarily locked")
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired code")
	ErrPayloadIntegrity          = errors.New("payload integrity check failed")
	ErrRateLimited               = errors.New("rate limit exceeded")
	ErrCSRFRejected              = errors.New("cross-site request rejected")
	ErrDeliveryFailed            = errors.New("code delivery failed")
)

// LockedError carries the lock deadline for a locked (email, ip) pair.
// It matches ErrLocked under errors.Is.
type LockedError struct {
	LockUntil time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrLocked.Error(), e.LockUntil.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Remaining returns how long the lock still holds relative to now, never negative.
func (e *LockedError) Remaining(now time.Time) time.Duration {
	if d := e.LockUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ChallengeError is returned for rejected OTP verifications. It always matches
// ErrInvalidOrExpiredChallenge so callers cannot tell the causes apart, but it
// exposes the remaining attempt budget when a code comparison actually happened.
type ChallengeError struct {
	AttemptsRemaining *int
}

func (e *ChallengeError) Error() string {
	return ErrInvalidOrExpiredChallenge.Error()
}

func (e *ChallengeError) Is(target error) bool {
	return target == ErrInvalidOrExpiredChallenge
}
