package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/database"
)

// usageKeyTTL keeps daily aggregates around long enough for reporting
// jobs to scrape them.
const usageKeyTTL = 48 * time.Hour

// usageWriteTimeout bounds each background write so a stalled Redis
// cannot pile up goroutines.
const usageWriteTimeout = 3 * time.Second

// UsageRecorder is the usage-metrics sink. Every completed analysis
// bumps per-user and per-provider daily counters in Redis. Writes are
// fire-and-forget; the response path never waits on them.
type UsageRecorder struct {
	redis  *database.RedisClient
	logger *logrus.Logger
}

func NewUsageRecorder(redis *database.RedisClient, logger *logrus.Logger) *UsageRecorder {
	return &UsageRecorder{
		redis:  redis,
		logger: logger,
	}
}

// RecordAnalysis accumulates one completed analysis into today's
// counters.
func (u *UsageRecorder) RecordAnalysis(userID, provider string, tokens int) {
	day := time.Now().UTC().Format("2006-01-02")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()

		keys := map[string]int64{
			fmt.Sprintf("usage:%s:user:%s:requests", day, userID):       1,
			fmt.Sprintf("usage:%s:provider:%s:requests", day, provider): 1,
		}
		if tokens > 0 {
			keys[fmt.Sprintf("usage:%s:provider:%s:tokens", day, provider)] = int64(tokens)
		}

		for key, delta := range keys {
			if err := u.redis.IncrByWithExpiry(ctx, key, delta, usageKeyTTL); err != nil {
				u.logger.WithError(err).WithField("key", key).Warn("Failed to record usage metric")
				return
			}
		}
	}()
}

// NoopUsageRecorder discards usage events. Used when Redis is not
// configured.
type NoopUsageRecorder struct{}

func (NoopUsageRecorder) RecordAnalysis(userID, provider string, tokens int) {}
