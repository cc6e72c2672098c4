package models

import "time"

// RateLimitPolicy bounds requests per key within a fixed window
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimitResult is the outcome of a single limiter check
type RateLimitResult struct {
	Allowed           bool
	Remaining         int
	Limit             int
	ResetAt           time.Time
	RetryAfterSeconds int
}
