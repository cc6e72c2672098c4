package models

import "time"

// LoginAttemptState is the failure ledger row for a single (email, ip) pair
type LoginAttemptState struct {
	Email         string     `db:"email"`
	IPAddress     string     `db:"ip_address"`
	FailedCount   int        `db:"failed_count"`
	LockUntil     *time.Time `db:"lock_until"`
	LastAttemptAt time.Time  `db:"last_attempt_at"`
}

// IsLocked reports whether the lock window is still active at now
func (s *LoginAttemptState) IsLocked(now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// LockExpired reports whether a lock was set and its window has elapsed
func (s *LoginAttemptState) LockExpired(now time.Time) bool {
	return s.LockUntil != nil && !now.Before(*s.LockUntil)
}
