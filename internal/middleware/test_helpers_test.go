package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/BradenHooton/finvault/internal/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (a *recordingAuditor) Record(ctx context.Context, event *models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) Events() []*models.SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.SecurityEvent(nil), a.events...)
}

type failingLimiter struct{}

func (failingLimiter) Check(ctx context.Context, key string, policy models.RateLimitPolicy) (models.RateLimitResult, error) {
	return models.RateLimitResult{}, errors.New("redis: connection refused")
}
