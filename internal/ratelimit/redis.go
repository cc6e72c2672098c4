package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowLua string

var fixedWindowScript = redis.NewScript(fixedWindowLua)

// RedisConfig holds connection settings for the shared limiter
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLimiter shares fixed-window counters between gateway instances.
// The window starts at the first request and expires with the key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisClient dials Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, policy models.RateLimitPolicy) (models.RateLimitResult, error) {
	windowMs := policy.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, windowMs).Int64Slice()
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 2 {
		return models.RateLimitResult{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}

	now := l.now()
	resetAt := now.Add(time.Duration(vals[1]) * time.Millisecond)
	return buildResult(int(vals[0]), policy.MaxRequests, resetAt, now), nil
}
