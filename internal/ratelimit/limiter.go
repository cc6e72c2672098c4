// Package ratelimit implements fixed-window request counters keyed by
// caller identity, route and method.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
)

// Limiter counts a request against key and reports whether it is allowed
type Limiter interface {
	Check(ctx context.Context, key string, policy models.RateLimitPolicy) (models.RateLimitResult, error)
}

// Key builds the bucket key for a request
func Key(clientIP, path, method string) string {
	return strings.Join([]string{clientIP, path, strings.ToUpper(method)}, "|")
}

type bucket struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// MemoryLimiter is a process-local fixed-window limiter. Counters reset on restart.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Check increments the bucket for key. The window restarts once
// now >= windowStart + window; the request that would exceed MaxRequests is rejected.
func (l *MemoryLimiter) Check(_ context.Context, key string, policy models.RateLimitPolicy) (models.RateLimitResult, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.windowStart.Add(b.window)) {
		b = &bucket{windowStart: now, window: policy.Window}
		l.buckets[key] = b
	}
	b.count++
	count := b.count
	resetAt := b.windowStart.Add(b.window)
	l.mu.Unlock()

	return buildResult(count, policy.MaxRequests, resetAt, now), nil
}

// Compact drops buckets whose window has fully elapsed and returns how many were removed
func (l *MemoryLimiter) Compact() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.windowStart.Add(b.window)) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func buildResult(count, limit int, resetAt, now time.Time) models.RateLimitResult {
	res := models.RateLimitResult{
		Allowed: count <= limit,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if remaining := limit - count; remaining > 0 {
		res.Remaining = remaining
	}
	if !res.Allowed {
		res.RetryAfterSeconds = retryAfterSeconds(resetAt.Sub(now))
	}
	return res
}

// retryAfterSeconds rounds up so clients never retry before the window resets
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
