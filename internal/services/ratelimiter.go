package services

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/config"
	"github.com/quantforge/analysis-engine/internal/models"
)

// TierLimits holds the request quotas for one tier. A value of -1 means
// unlimited; the counters still advance for telemetry.
type TierLimits struct {
	RequestsPerDay  int
	RequestsPerHour int
}

// Usage is a read-only snapshot of one user's current window counters.
type Usage struct {
	DailyUsed   int
	DailyLimit  int
	HourlyUsed  int
	HourlyLimit int
}

// userWindows tracks the fixed daily and hourly windows for one user.
// Windows reset lazily: on first access after a boundary the stale count
// is dropped before any check runs.
type userWindows struct {
	dayStart  time.Time
	dayCount  int
	hourStart time.Time
	hourCount int
}

// RateLimiter enforces tier-scoped daily and hourly quotas with fixed
// UTC windows (reset at midnight and at the top of the hour). It is
// pure in-memory bookkeeping shared by all in-flight requests, so every
// admission is a single locked test-and-increment.
type RateLimiter struct {
	mu        sync.Mutex
	users     map[string]*userWindows
	limits    map[models.Tier]TierLimits
	lastSweep time.Time
	logger    *logrus.Logger

	// now is injectable for window-boundary tests.
	now func() time.Time
}

// sweepInterval bounds how often the users map is scanned for lapsed
// entries. Anonymous callers are keyed by client IP, so churn would
// otherwise grow the map without bound.
const sweepInterval = time.Hour

// NewRateLimiter creates a rate limiter from the configured tier quotas.
func NewRateLimiter(cfg config.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		users: make(map[string]*userWindows),
		limits: map[models.Tier]TierLimits{
			models.TierFree:       {RequestsPerDay: cfg.Free.RequestsPerDay, RequestsPerHour: cfg.Free.RequestsPerHour},
			models.TierPro:        {RequestsPerDay: cfg.Pro.RequestsPerDay, RequestsPerHour: cfg.Pro.RequestsPerHour},
			models.TierEnterprise: {RequestsPerDay: cfg.Enterprise.RequestsPerDay, RequestsPerHour: cfg.Enterprise.RequestsPerHour},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Admit performs the admission check for one request. On success both
// counters are incremented before returning; a denial increments
// nothing and is final for that request. The hourly limit is checked
// first because it resets sooner and is the more actionable denial.
func (rl *RateLimiter) Admit(userID string, tier models.Tier) error {
	limits := rl.tierLimits(tier)
	now := rl.now().UTC()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepStale(now)

	w := rl.users[userID]
	if w == nil {
		w = &userWindows{}
		rl.users[userID] = w
	}
	w.rollover(now)

	if limits.RequestsPerHour >= 0 && w.hourCount >= limits.RequestsPerHour {
		rl.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"tier":    tier,
			"used":    w.hourCount,
			"limit":   limits.RequestsPerHour,
		}).Warn("Hourly rate limit exceeded")
		return &RateLimitError{Info: models.LimitInfo{
			LimitType: "hourly",
			Limit:     limits.RequestsPerHour,
			Used:      w.hourCount,
			ResetAt:   w.hourStart.Add(time.Hour),
		}}
	}

	if limits.RequestsPerDay >= 0 && w.dayCount >= limits.RequestsPerDay {
		rl.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"tier":    tier,
			"used":    w.dayCount,
			"limit":   limits.RequestsPerDay,
		}).Warn("Daily rate limit exceeded")
		return &RateLimitError{Info: models.LimitInfo{
			LimitType: "daily",
			Limit:     limits.RequestsPerDay,
			Used:      w.dayCount,
			ResetAt:   w.dayStart.AddDate(0, 0, 1),
		}}
	}

	w.dayCount++
	w.hourCount++
	return nil
}

// Usage returns the current counters for a user without consuming quota.
// Used for the X-RateLimit response headers.
func (rl *RateLimiter) Usage(userID string, tier models.Tier) Usage {
	limits := rl.tierLimits(tier)
	now := rl.now().UTC()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	u := Usage{DailyLimit: limits.RequestsPerDay, HourlyLimit: limits.RequestsPerHour}
	if w := rl.users[userID]; w != nil {
		w.rollover(now)
		u.DailyUsed = w.dayCount
		u.HourlyUsed = w.hourCount
	}
	return u
}

func (rl *RateLimiter) tierLimits(tier models.Tier) TierLimits {
	if limits, ok := rl.limits[tier]; ok {
		return limits
	}
	return rl.limits[models.TierFree]
}

// sweepStale evicts users whose daily window has lapsed. The hourly
// window lives inside the daily one, so a stale day means no live
// counters remain. Caller must hold mu.
func (rl *RateLimiter) sweepStale(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for id, w := range rl.users {
		if w.dayStart.Before(dayStart) {
			delete(rl.users, id)
		}
	}
}

// rollover drops stale counts once their window has passed. A request at
// the exact boundary instant belongs to the new window.
func (w *userWindows) rollover(now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !dayStart.Equal(w.dayStart) {
		w.dayStart = dayStart
		w.dayCount = 0
	}

	hourStart := now.Truncate(time.Hour)
	if !hourStart.Equal(w.hourStart) {
		w.hourStart = hourStart
		w.hourCount = 0
	}
}
