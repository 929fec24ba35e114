package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/quantforge/analysis-engine/internal/models"
	"github.com/quantforge/analysis-engine/internal/providers"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) RecordAnalysis(userID, provider string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, userID+"/"+provider)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestEngine(t *testing.T, chainProviders []providers.Provider) (*AnalysisEngine, *recordingSink) {
	t.Helper()
	logger := testLogger()
	sink := &recordingSink{}

	engine := NewAnalysisEngine(
		NewRateLimiter(testRateLimitConfig(), logger),
		NewDataGatherer(
			&stubPriceStore{bars: barsFromCloses(100, 103)},
			&stubNewsIndex{items: []models.NewsItem{
				{Headline: "Strong growth reported", Category: "earnings", PublishedAt: time.Now().Add(-2 * time.Hour)},
				{Headline: "Guidance beat expectations", Category: "earnings", PublishedAt: time.Now().Add(-24 * time.Hour)},
				{Headline: "Upgrade from analysts", Category: "general", PublishedAt: time.Now().Add(-48 * time.Hour)},
			}},
			time.Second,
			logger,
		),
		NewProviderChain(chainProviders, logger),
		NewPromptLibrary(600, 0.3),
		NewResponseValidator(logger),
		NewConfidenceCalibrator(testAnalysisConfig()),
		NewRuleBasedAnalyzer(logger),
		sink,
		"1.0",
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)
	return engine, sink
}

func quickRequest(userID string) *models.AnalysisRequest {
	return &models.AnalysisRequest{
		RequestID:    "req-1",
		Ticker:       "AAPL",
		AnalysisType: models.AnalysisQuick,
		DaysBefore:   7,
		Timezone:     "UTC",
		UserID:       userID,
		Tier:         models.TierFree,
	}
}

func TestEngine_QuickNeverTouchesProviders(t *testing.T) {
	tripwire := &stubProvider{id: "openai", err: errors.New("must not be called")}
	engine, _ := newTestEngine(t, []providers.Provider{tripwire})

	resp, err := engine.Analyze(context.Background(), quickRequest("user-1"))
	require.NoError(t, err)

	assert.Equal(t, "rule_based", resp.Meta.ModelUsed)
	assert.Equal(t, 0, tripwire.calls)
	assert.GreaterOrEqual(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
}

func TestEngine_FirstQuickCallOfDaySucceeds(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	resp, err := engine.Analyze(context.Background(), quickRequest("user-1"))
	require.NoError(t, err)

	assert.Equal(t, "AAPL", resp.Ticker)
	assert.Equal(t, models.AnalysisQuick, resp.AnalysisType)
	assert.Equal(t, "rule_based", resp.Meta.ModelUsed)
	assert.Equal(t, 3, resp.Meta.NewsCount)
	assert.True(t, resp.Meta.HasPriceData)
	assert.Equal(t, "1.0", resp.Meta.Version)
	assert.NotNil(t, resp.ValidationWarnings)
	assert.NotNil(t, resp.KeyInsights)
}

func TestEngine_EleventhHourlyCallDenied(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	for i := 0; i < 10; i++ {
		_, err := engine.Analyze(context.Background(), quickRequest("user-1"))
		require.NoError(t, err, "call %d should succeed", i+1)
	}

	_, err := engine.Analyze(context.Background(), quickRequest("user-1"))
	require.Error(t, err)

	rle, ok := AsRateLimitError(err)
	require.True(t, ok)
	assert.Equal(t, "hourly", rle.Info.LimitType)
	assert.Equal(t, 10, rle.Info.Limit)
	assert.Equal(t, 10, rle.Info.Used)
}

func TestEngine_ComprehensiveUsesChain(t *testing.T) {
	p := &stubProvider{id: "openai", text: validPayload}
	engine, sink := newTestEngine(t, []providers.Provider{p})

	req := quickRequest("user-1")
	req.AnalysisType = models.AnalysisComprehensive

	resp, err := engine.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.Meta.ModelUsed)
	assert.Equal(t, "bullish", resp.Sentiment)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, sink.count())
}

func TestEngine_AllProvidersFailedSurfaces(t *testing.T) {
	a := &stubProvider{id: "ollama", err: errors.New("down")}
	b := &stubProvider{id: "openai", err: errors.New("down")}
	engine, sink := newTestEngine(t, []providers.Provider{a, b})

	req := quickRequest("user-1")
	req.AnalysisType = models.AnalysisComprehensive

	_, err := engine.Analyze(context.Background(), req)
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 0, sink.count(), "failed requests record no usage")
}

func TestEngine_SentimentOnlyWithoutNewsSkipsProviders(t *testing.T) {
	tripwire := &stubProvider{id: "openai", err: errors.New("must not be called")}
	logger := testLogger()
	sink := &recordingSink{}

	engine := NewAnalysisEngine(
		NewRateLimiter(testRateLimitConfig(), logger),
		NewDataGatherer(&stubPriceStore{}, &stubNewsIndex{}, time.Second, logger),
		NewProviderChain([]providers.Provider{tripwire}, logger),
		NewPromptLibrary(600, 0.3),
		NewResponseValidator(logger),
		NewConfidenceCalibrator(testAnalysisConfig()),
		NewRuleBasedAnalyzer(logger),
		sink,
		"1.0",
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)

	req := quickRequest("user-1")
	req.AnalysisType = models.AnalysisSentimentOnly

	resp, err := engine.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 0, tripwire.calls)
	assert.Equal(t, "none", resp.Meta.ModelUsed)
	assert.Equal(t, "neutral", resp.Sentiment)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestEngine_ConfidenceNeverExceedsRaw(t *testing.T) {
	p := &stubProvider{id: "openai", text: validPayload} // raw 0.8
	engine, _ := newTestEngine(t, []providers.Provider{p})

	req := quickRequest("user-1")
	req.AnalysisType = models.AnalysisComprehensive

	resp, err := engine.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.Confidence, 0.8)
}
