package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChallengeSweeper deletes OTP challenges that expired more than retention ago
type ChallengeSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// BucketCompactor drops elapsed rate-limit windows from a process-local limiter
type BucketCompactor interface {
	Compact() int
}

// CleanupManager periodically purges dead OTP challenges and rate-limit buckets
type CleanupManager struct {
	challenges ChallengeSweeper
	buckets    BucketCompactor
	retention  time.Duration
	logger     *slog.Logger
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewCleanupManager creates a new cleanup manager. buckets may be nil when the
// limiter keeps its own expiry (redis).
func NewCleanupManager(
	challenges ChallengeSweeper,
	buckets BucketCompactor,
	retention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		challenges: challenges,
		buckets:    buckets,
		retention:  retention,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	if cm.buckets != nil {
		if removed := cm.buckets.Compact(); removed > 0 {
			cm.logger.Debug("rate limit buckets compacted", slog.Int("removed", removed))
		}
	}

	if cm.challenges == nil {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.challenges.Sweep(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to sweep expired otp challenges", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired otp challenges removed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
