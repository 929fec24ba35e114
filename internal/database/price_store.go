package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantforge/analysis-engine/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PriceStore reads OHLCV candles from the ohlcv hypertable. The engine
// only reads bars; ingestion is owned by a separate pipeline.
type PriceStore struct {
	pool DatabasePool
}

func NewPriceStore(pool DatabasePool) *PriceStore {
	return &PriceStore{pool: pool}
}

const getBarsQuery = `
SELECT timestamp, open, high, low, close, volume
FROM ohlcv
WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
ORDER BY timestamp ASC`

// GetBars returns the candles for a ticker within [from, to], ordered
// by timestamp ascending.
func (s *PriceStore) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error) {
	rows, err := s.pool.Query(ctx, getBarsQuery, normalizeSymbol(ticker), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var bar models.PriceBar
		if err := rows.Scan(&bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price bars: %w", err)
	}

	return bars, nil
}

// normalizeSymbol maps a bare ticker to the stored trading pair symbol.
// Tickers already carrying a quote suffix pass through unchanged.
func normalizeSymbol(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if strings.Contains(t, "USDT") {
		return t
	}
	return t + "USDT"
}
