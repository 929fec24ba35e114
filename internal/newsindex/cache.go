package newsindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/database"
	"github.com/quantforge/analysis-engine/internal/models"
)

// searcher is the uncached lookup the cache wraps.
type searcher interface {
	SearchRecent(ctx context.Context, ticker string, from, to time.Time) ([]models.NewsItem, error)
}

// CachedIndex is a read-through cache in front of the news index. News
// for a ticker-window pair changes slowly relative to request volume,
// so repeated analyses within the TTL reuse the cached result. Cache
// faults fall through to the index; a broken cache never fails a
// lookup.
type CachedIndex struct {
	inner  searcher
	redis  *database.RedisClient
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedIndex(inner searcher, redis *database.RedisClient, ttl time.Duration, logger *logrus.Logger) *CachedIndex {
	return &CachedIndex{
		inner:  inner,
		redis:  redis,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedIndex) SearchRecent(ctx context.Context, ticker string, from, to time.Time) ([]models.NewsItem, error) {
	key := cacheKey(ticker, from, to)

	if cached, err := c.redis.Get(ctx, key); err == nil {
		var items []models.NewsItem
		if err := json.Unmarshal([]byte(cached), &items); err == nil {
			c.logger.WithFields(logrus.Fields{
				"ticker": ticker,
				"items":  len(items),
			}).Debug("News cache hit")
			return items, nil
		}
		// Unreadable entry, drop it and refetch.
		if err := c.redis.Delete(ctx, key); err != nil {
			c.logger.WithError(err).Warn("Failed to evict corrupt news cache entry")
		}
	}

	items, err := c.inner.SearchRecent(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(items); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl); err != nil {
			c.logger.WithError(err).WithField("ticker", ticker).Warn("Failed to cache news results")
		}
	}

	return items, nil
}

// cacheKey buckets windows by hour so concurrent requests for the same
// ticker and day share one entry.
func cacheKey(ticker string, from, to time.Time) string {
	return fmt.Sprintf("news:%s:%s:%s",
		ticker,
		from.UTC().Format("2006010215"),
		to.UTC().Format("2006010215"),
	)
}
