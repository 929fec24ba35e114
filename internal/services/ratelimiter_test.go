package services

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/analysis-engine/internal/config"
	"github.com/quantforge/analysis-engine/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Free:       config.TierLimitConfig{RequestsPerDay: 50, RequestsPerHour: 10},
		Pro:        config.TierLimitConfig{RequestsPerDay: 10000, RequestsPerHour: 500},
		Enterprise: config.TierLimitConfig{RequestsPerDay: -1, RequestsPerHour: -1},
	}
}

func TestRateLimiter_FreeTierHourlyLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit("user-1", models.TierFree), "request %d should be admitted", i+1)
	}

	err := rl.Admit("user-1", models.TierFree)
	require.Error(t, err)

	rle, ok := AsRateLimitError(err)
	require.True(t, ok)
	assert.Equal(t, "hourly", rle.Info.LimitType)
	assert.Equal(t, 10, rle.Info.Limit)
	assert.Equal(t, 10, rle.Info.Used)
	assert.Equal(t, time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC), rle.Info.ResetAt)
}

func TestRateLimiter_FreeTierDailyLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	now := time.Date(2026, 8, 28, 0, 15, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	// Spread 50 admissions across hours so only the daily limit binds.
	for i := 0; i < 50; i++ {
		if i > 0 && i%10 == 0 {
			now = now.Add(time.Hour)
		}
		require.NoError(t, rl.Admit("user-1", models.TierFree), "request %d should be admitted", i+1)
	}

	// Fresh hour, so only the daily limit can deny.
	now = now.Add(time.Hour)
	err := rl.Admit("user-1", models.TierFree)
	require.Error(t, err)

	rle, ok := AsRateLimitError(err)
	require.True(t, ok)
	assert.Equal(t, "daily", rle.Info.LimitType)
	assert.Equal(t, 50, rle.Info.Limit)
	assert.Equal(t, 50, rle.Info.Used)
	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), rle.Info.ResetAt)
}

func TestRateLimiter_DenialDoesNotIncrement(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit("user-1", models.TierFree))
	}
	for i := 0; i < 5; i++ {
		require.Error(t, rl.Admit("user-1", models.TierFree))
	}

	usage := rl.Usage("user-1", models.TierFree)
	assert.Equal(t, 10, usage.HourlyUsed)
	assert.Equal(t, 10, usage.DailyUsed)
}

func TestRateLimiter_HourlyWindowReset(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	now := time.Date(2026, 8, 28, 10, 59, 59, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit("user-1", models.TierFree))
	}
	require.Error(t, rl.Admit("user-1", models.TierFree))

	// The boundary instant belongs to the new window.
	now = time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	assert.NoError(t, rl.Admit("user-1", models.TierFree))

	usage := rl.Usage("user-1", models.TierFree)
	assert.Equal(t, 1, usage.HourlyUsed)
	assert.Equal(t, 11, usage.DailyUsed)
}

func TestRateLimiter_DailyWindowReset(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	now := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Admit("user-1", models.TierFree))

	now = time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	require.NoError(t, rl.Admit("user-1", models.TierFree))

	usage := rl.Usage("user-1", models.TierFree)
	assert.Equal(t, 1, usage.DailyUsed)
}

func TestRateLimiter_EnterpriseUnlimitedButCounted(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 600; i++ {
		require.NoError(t, rl.Admit("ent-user", models.TierEnterprise))
	}

	usage := rl.Usage("ent-user", models.TierEnterprise)
	assert.Equal(t, 600, usage.HourlyUsed)
	assert.Equal(t, 600, usage.DailyUsed)
	assert.Equal(t, -1, usage.HourlyLimit)
}

func TestRateLimiter_UnknownTierTreatedAsFree(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit("user-1", models.Tier("mystery")))
	}
	require.Error(t, rl.Admit("user-1", models.Tier("mystery")))
}

func TestRateLimiter_ConcurrentAdmissionNeverOvershoots(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit("user-1", models.TierFree) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
	usage := rl.Usage("user-1", models.TierFree)
	assert.Equal(t, 10, usage.HourlyUsed)
}

func TestRateLimiter_UsersAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit("user-1", models.TierFree))
	}
	require.Error(t, rl.Admit("user-1", models.TierFree))
	assert.NoError(t, rl.Admit("user-2", models.TierFree))
}

func TestRateLimiter_SweepsUsersWithLapsedDayWindows(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	// Anonymous-style churn keyed by client IP.
	require.NoError(t, rl.Admit("anon:10.0.0.1", models.TierFree))
	require.NoError(t, rl.Admit("anon:10.0.0.2", models.TierFree))

	// The next day the lapsed entries are evicted on the first admission.
	now = now.Add(26 * time.Hour)
	require.NoError(t, rl.Admit("user-1", models.TierFree))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.users, 1)
	assert.NotContains(t, rl.users, "anon:10.0.0.1")
	assert.NotContains(t, rl.users, "anon:10.0.0.2")
	assert.Contains(t, rl.users, "user-1")
}

func TestRateLimiter_SweepKeepsSameDayUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), testLogger())
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Admit("user-1", models.TierFree))

	// Later the same day the entry still holds its counters.
	now = now.Add(2 * time.Hour)
	require.NoError(t, rl.Admit("user-2", models.TierFree))

	usage := rl.Usage("user-1", models.TierFree)
	assert.Equal(t, 1, usage.DailyUsed)
}
