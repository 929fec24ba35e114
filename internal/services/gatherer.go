package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/models"
)

// DataGatherer assembles the evidence bundle for one request. The price
// and news fetches run concurrently and are joined with a bounded
// timeout; a slow or failing collaborator only marks its portion absent,
// it never fails the request.
type DataGatherer struct {
	prices  PriceStore
	news    NewsIndex
	timeout time.Duration
	logger  *logrus.Logger
}

func NewDataGatherer(prices PriceStore, news NewsIndex, timeout time.Duration, logger *logrus.Logger) *DataGatherer {
	return &DataGatherer{
		prices:  prices,
		news:    news,
		timeout: timeout,
		logger:  logger,
	}
}

type priceResult struct {
	bars []models.PriceBar
	err  error
}

type newsResult struct {
	items []models.NewsItem
	err   error
}

// Gather fetches price history and relevant news for the window ending
// now in the request's timezone. Upstream unavailability is absorbed
// into the has_*_data flags.
func (g *DataGatherer) Gather(ctx context.Context, ticker string, daysBefore int, timezone string) *models.EvidenceBundle {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"ticker":   ticker,
			"timezone": timezone,
		}).Warn("Unknown timezone, falling back to UTC")
		loc = time.UTC
	}

	end := time.Now().In(loc)
	start := end.AddDate(0, 0, -daysBefore)

	bundle := &models.EvidenceBundle{
		Ticker:      ticker,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	gatherCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	priceCh := make(chan priceResult, 1)
	newsCh := make(chan newsResult, 1)

	go func() {
		bars, err := g.prices.GetBars(gatherCtx, ticker, start, end)
		priceCh <- priceResult{bars: bars, err: err}
	}()
	go func() {
		items, err := g.news.SearchRecent(gatherCtx, ticker, start, end)
		newsCh <- newsResult{items: items, err: err}
	}()

	// Join both fetches with a bounded wait. A collaborator that ignores
	// cancellation still cannot hold the request past the deadline; its
	// portion is simply marked absent.
join:
	for i := 0; i < 2; i++ {
		select {
		case <-gatherCtx.Done():
			g.logger.WithField("ticker", ticker).Warn("Evidence gathering timed out, returning partial bundle")
			break join
		case pr := <-priceCh:
			if pr.err != nil {
				g.logger.WithError(pr.err).WithField("ticker", ticker).Warn("Price fetch failed, continuing without price data")
				continue
			}
			bundle.Bars = pr.bars
			bundle.HasPriceData = len(pr.bars) > 0
		case nr := <-newsCh:
			if nr.err != nil {
				g.logger.WithError(nr.err).WithField("ticker", ticker).Warn("News fetch failed, continuing without news data")
				continue
			}
			bundle.News = nr.items
			bundle.HasNewsData = len(nr.items) > 0
		}
	}

	g.logger.WithFields(logrus.Fields{
		"ticker":         ticker,
		"news_count":     bundle.NewsCount(),
		"has_price_data": bundle.HasPriceData,
		"bars":           len(bundle.Bars),
	}).Info("Evidence gathering complete")

	return bundle
}
