package newsindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/analysis-engine/internal/config"
	"github.com/quantforge/analysis-engine/internal/database"
	"github.com/quantforge/analysis-engine/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newsServer(t *testing.T, items []models.NewsItem, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Ticker)
		assert.Positive(t, req.Limit)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponse{Results: items})
	}))
}

func TestClient_SearchRecent(t *testing.T) {
	items := []models.NewsItem{
		{Headline: "Earnings beat", Source: "wire", RelevanceScore: 0.92},
		{Headline: "New product", Source: "blog", RelevanceScore: 0.61},
	}
	srv := newsServer(t, items, nil)
	defer srv.Close()

	client := NewClient(config.NewsIndexConfig{ServiceURL: srv.URL, Timeout: 5, MaxItems: 20})

	got, err := client.SearchRecent(context.Background(), "AAPL", time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Earnings beat", got[0].Headline)
}

func TestClient_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(config.NewsIndexConfig{ServiceURL: srv.URL, Timeout: 5})

	_, err := client.SearchRecent(context.Background(), "AAPL", time.Now().AddDate(0, 0, -7), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func newTestRedis(t *testing.T) *database.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return &database.RedisClient{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
}

func TestCachedIndex_SecondLookupServedFromCache(t *testing.T) {
	var hits atomic.Int32
	items := []models.NewsItem{{Headline: "Earnings beat", Source: "wire"}}
	srv := newsServer(t, items, &hits)
	defer srv.Close()

	client := NewClient(config.NewsIndexConfig{ServiceURL: srv.URL, Timeout: 5, MaxItems: 20})
	cached := NewCachedIndex(client, newTestRedis(t), time.Minute, testLogger())

	from := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	first, err := cached.SearchRecent(context.Background(), "AAPL", from, to)
	require.NoError(t, err)
	second, err := cached.SearchRecent(context.Background(), "AAPL", from, to)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "second lookup must not reach the index")
}

func TestCachedIndex_DifferentTickersDoNotCollide(t *testing.T) {
	var hits atomic.Int32
	srv := newsServer(t, []models.NewsItem{{Headline: "h"}}, &hits)
	defer srv.Close()

	client := NewClient(config.NewsIndexConfig{ServiceURL: srv.URL, Timeout: 5, MaxItems: 20})
	cached := NewCachedIndex(client, newTestRedis(t), time.Minute, testLogger())

	from := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	_, err := cached.SearchRecent(context.Background(), "AAPL", from, to)
	require.NoError(t, err)
	_, err = cached.SearchRecent(context.Background(), "MSFT", from, to)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
}

func TestCachedIndex_CorruptEntryFallsThrough(t *testing.T) {
	items := []models.NewsItem{{Headline: "fresh"}}
	srv := newsServer(t, items, nil)
	defer srv.Close()

	rdb := newTestRedis(t)
	client := NewClient(config.NewsIndexConfig{ServiceURL: srv.URL, Timeout: 5, MaxItems: 20})
	cached := NewCachedIndex(client, rdb, time.Minute, testLogger())

	from := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	require.NoError(t, rdb.Set(context.Background(), cacheKey("AAPL", from, to), "not json", time.Minute))

	got, err := cached.SearchRecent(context.Background(), "AAPL", from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Headline)
}
