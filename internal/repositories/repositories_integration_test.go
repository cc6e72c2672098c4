//go:build integration

package repositories_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositories(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	// ============================================================================
	// Login attempts
	// ============================================================================

	t.Run("LoginAttempt_GetMissing", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewLoginAttemptRepository(db)

		_, err := repo.Get(ctx, "nobody@example.com", "10.0.0.1")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("LoginAttempt_ModifyCreatesAndUpdates", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewLoginAttemptRepository(db)
		lockUntil := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Microsecond)

		state, err := repo.Modify(ctx, "user@example.com", "10.0.0.1", func(s *models.LoginAttemptState) {
			s.FailedCount++
		})
		require.NoError(t, err)
		assert.Equal(t, 1, state.FailedCount)

		state, err = repo.Modify(ctx, "user@example.com", "10.0.0.1", func(s *models.LoginAttemptState) {
			s.FailedCount++
			s.LockUntil = &lockUntil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, state.FailedCount)

		stored, err := repo.Get(ctx, "user@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.FailedCount)
		require.NotNil(t, stored.LockUntil)
		assert.True(t, lockUntil.Equal(*stored.LockUntil))
	})

	t.Run("LoginAttempt_ConcurrentModifyDoesNotLoseUpdates", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewLoginAttemptRepository(db)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Modify(ctx, "race@example.com", "10.0.0.9", func(s *models.LoginAttemptState) {
					s.FailedCount++
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stored, err := repo.Get(ctx, "race@example.com", "10.0.0.9")
		require.NoError(t, err)
		assert.Equal(t, 10, stored.FailedCount)
	})

	t.Run("LoginAttempt_ClearKeepsRow", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewLoginAttemptRepository(db)
		lockUntil := time.Now().Add(time.Minute)

		_, err := repo.Modify(ctx, "user@example.com", "10.0.0.1", func(s *models.LoginAttemptState) {
			s.FailedCount = 5
			s.LockUntil = &lockUntil
		})
		require.NoError(t, err)

		require.NoError(t, repo.Clear(ctx, "user@example.com", "10.0.0.1"))

		stored, err := repo.Get(ctx, "user@example.com", "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.FailedCount)
		assert.Nil(t, stored.LockUntil)
	})

	// ============================================================================
	// OTP challenges
	// ============================================================================

	newChallenge := func(maxAttempts int) *models.OTPChallenge {
		return &models.OTPChallenge{
			ID:                      uuid.NewString(),
			UserID:                  "user-1",
			Email:                   "user@example.com",
			CodeHash:                "hash",
			EncryptedSessionPayload: "v1.a.b.c",
			MaxAttempts:             maxAttempts,
			ExpiresAt:               time.Now().Add(10 * time.Minute),
			CreatedIP:               "10.0.0.1",
			CreatedUserAgent:        "test-agent",
		}
	}

	t.Run("OTPChallenge_CreateAndGet", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)
		c := newChallenge(5)

		require.NoError(t, repo.Create(ctx, c))
		assert.False(t, c.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Email, got.Email)
		assert.Equal(t, 0, got.AttemptsCount)
		assert.Nil(t, got.ConsumedAt)

		_, err = repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("OTPChallenge_ReserveAttemptStopsAtLimit", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)
		c := newChallenge(3)
		require.NoError(t, repo.Create(ctx, c))

		for i := 1; i <= 3; i++ {
			got, err := repo.ReserveAttempt(ctx, c.ID, time.Now())
			require.NoError(t, err)
			assert.Equal(t, i, got.AttemptsCount)
			assert.Nil(t, got.ConsumedAt)
		}

		_, err := repo.ReserveAttempt(ctx, c.ID, time.Now())
		assert.ErrorIs(t, err, models.ErrNotFound)

		got, err := repo.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.AttemptsCount)
	})

	t.Run("OTPChallenge_ConcurrentReservationsRespectBudget", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)
		c := newChallenge(3)
		require.NoError(t, repo.Create(ctx, c))

		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ReserveAttempt(ctx, c.ID, time.Now()); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 3, granted)
	})

	t.Run("OTPChallenge_ReserveAttemptSkipsConsumedAndExpired", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)
		c := newChallenge(3)
		require.NoError(t, repo.Create(ctx, c))

		_, err := repo.ReserveAttempt(ctx, c.ID, c.ExpiresAt.Add(time.Second))
		assert.ErrorIs(t, err, models.ErrNotFound)

		consumed, err := repo.Consume(ctx, c.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, consumed)

		_, err = repo.ReserveAttempt(ctx, c.ID, time.Now())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("OTPChallenge_ConsumeOnlyOnce", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)
		c := newChallenge(5)
		require.NoError(t, repo.Create(ctx, c))

		var wg sync.WaitGroup
		results := make(chan bool, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Consume(ctx, c.ID, time.Now())
				assert.NoError(t, err)
				results <- ok
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for ok := range results {
			if ok {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("OTPChallenge_DeleteAndSweep", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewOTPChallengeRepository(db)

		live := newChallenge(5)
		stale := newChallenge(5)
		stale.ExpiresAt = time.Now().Add(-48 * time.Hour)
		undelivered := newChallenge(5)
		for _, c := range []*models.OTPChallenge{live, stale, undelivered} {
			require.NoError(t, repo.Create(ctx, c))
		}

		require.NoError(t, repo.Delete(ctx, undelivered.ID))
		_, err := repo.GetByID(ctx, undelivered.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		removed, err := repo.DeleteExpiredBefore(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = repo.GetByID(ctx, live.ID)
		assert.NoError(t, err)
	})

	// ============================================================================
	// Security events
	// ============================================================================

	t.Run("SecurityEvent_LatestForUser", func(t *testing.T) {
		cleanupTables(t, db)
		repo := repositories.NewSecurityEventRepository(db)
		userID := "user-1"
		base := time.Now().Add(-time.Hour)

		for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
			require.NoError(t, repo.Create(ctx, &models.SecurityEvent{
				EventType: models.EventLoginSuccess,
				Severity:  models.SeverityInfo,
				Message:   "login succeeded",
				UserID:    &userID,
				IPAddress: ip,
				Metadata:  models.EventMetadata{"attempt": i},
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, repo.Create(ctx, &models.SecurityEvent{
			EventType: models.EventLoginFailed,
			Severity:  models.SeverityWarning,
			Message:   "login failed",
			UserID:    &userID,
			IPAddress: "10.0.0.3",
		}))

		latest, err := repo.GetLatestForUser(ctx, userID, models.EventLoginSuccess)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2", latest.IPAddress)
		assert.EqualValues(t, 1, latest.Metadata["attempt"])

		_, err = repo.GetLatestForUser(ctx, "someone-else", models.EventLoginSuccess)
		assert.ErrorIs(t, err, models.ErrNotFound)

		events, err := repo.ListByUser(ctx, userID, 10)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, models.EventLoginFailed, events[0].EventType)
	})
}
