package services

import (
	"context"
	"time"

	"github.com/quantforge/analysis-engine/internal/models"
)

// PriceStore is the read-side contract of the OHLCV store. The engine
// only ever reads bars; ingestion lives in a separate pipeline.
type PriceStore interface {
	GetBars(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error)
}

// NewsIndex is the contract of the semantic news index. Results arrive
// ordered by relevance.
type NewsIndex interface {
	SearchRecent(ctx context.Context, ticker string, from, to time.Time) ([]models.NewsItem, error)
}

// UsageSink receives fire-and-forget usage events after an analysis
// completes. Implementations must never block the response path.
type UsageSink interface {
	RecordAnalysis(userID, provider string, tokens int)
}
