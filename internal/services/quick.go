package services

import (
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/models"
)

const (
	ruleBasedModel = "rule_based"

	rsiPeriod     = 14
	smaPeriod     = 14
	rsiOverbought = 70.0
	rsiOversold   = 30.0

	// significantMovePct marks a price move strong enough to drive the
	// recommendation on its own.
	significantMovePct = 5.0
)

// RuleBasedAnalyzer serves Quick analyses deterministically from the
// evidence bundle alone. It never touches a network inference backend,
// so the same bundle always yields the same result.
type RuleBasedAnalyzer struct {
	logger *logrus.Logger
}

func NewRuleBasedAnalyzer(logger *logrus.Logger) *RuleBasedAnalyzer {
	return &RuleBasedAnalyzer{logger: logger}
}

// Analyze produces an inference result from simple rules over news
// categories, realized price change, and basic technical indicators.
func (a *RuleBasedAnalyzer) Analyze(ticker string, bundle *models.EvidenceBundle) *models.InferenceResult {
	start := time.Now()

	summary := ticker + ": "
	sentiment := "neutral"
	confidence := 0.4

	change, hasChange := bundle.PriceChangePercent()

	switch {
	case bundle.NewsCount() == 0:
		summary += "No recent news activity."
		confidence = 0.3
	case hasCategory(bundle.News, "earnings"):
		summary += "Earnings-related news detected."
		if hasChange && change > 0 {
			sentiment = "bullish"
		}
		confidence = 0.6
	case hasCategory(bundle.News, "regulation"):
		summary += "Regulatory news detected."
		sentiment = "bearish"
		confidence = 0.5
	default:
		summary += fmt.Sprintf("%d news articles found.", bundle.NewsCount())
	}

	if hasChange {
		summary += fmt.Sprintf(" Price: %+.2f%%", change)
	}

	insights := []string{
		fmt.Sprintf("%d news articles analyzed", bundle.NewsCount()),
		fmt.Sprintf("Price data: %s", availability(bundle.HasPriceData)),
	}

	recommendation := "HOLD"
	if hasChange {
		switch {
		case change > significantMovePct:
			recommendation = "BUY"
		case change < -significantMovePct:
			recommendation = "SELL"
		}
	}

	closes := bundle.Closes()
	if rsi, ok := lastIndicatorValue(closes, rsiPeriod+1, computeRSI); ok {
		switch {
		case rsi > rsiOverbought:
			insights = append(insights, fmt.Sprintf("RSI %.1f indicates overbought conditions", rsi))
			if recommendation == "BUY" {
				recommendation = "HOLD"
			}
		case rsi < rsiOversold:
			insights = append(insights, fmt.Sprintf("RSI %.1f indicates oversold conditions", rsi))
			if recommendation == "SELL" {
				recommendation = "HOLD"
			}
		}
	}
	if sma, ok := lastIndicatorValue(closes, smaPeriod, computeSMA); ok && len(closes) > 0 {
		lastClose := closes[len(closes)-1]
		if lastClose > sma {
			insights = append(insights, fmt.Sprintf("Price above %d-bar moving average", smaPeriod))
		} else if lastClose < sma {
			insights = append(insights, fmt.Sprintf("Price below %d-bar moving average", smaPeriod))
		}
	}

	result := &models.InferenceResult{
		Provider: ruleBasedModel,
		Extraction: models.Extraction{
			Summary:        summary,
			Sentiment:      sentiment,
			Recommendation: recommendation,
			KeyInsights:    insights,
			RawConfidence:  confidence,
		},
		Latency: time.Since(start),
	}

	a.logger.WithFields(logrus.Fields{
		"ticker":     ticker,
		"sentiment":  sentiment,
		"confidence": confidence,
		"latency_ms": result.Latency.Milliseconds(),
	}).Debug("Rule-based analysis complete")

	return result
}

func hasCategory(news []models.NewsItem, category string) bool {
	for _, item := range news {
		if item.Category == category {
			return true
		}
	}
	return false
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

// lastIndicatorValue runs an indicator over the close series and returns
// its most recent value. minLen guards against series shorter than the
// indicator's warm-up period.
func lastIndicatorValue(closes []float64, minLen int, compute func([]float64) []float64) (float64, bool) {
	if len(closes) < minLen {
		return 0, false
	}
	values := compute(closes)
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

func computeRSI(closes []float64) []float64 {
	rsi := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
}

func computeSMA(closes []float64) []float64 {
	sma := trend.NewSmaWithPeriod[float64](smaPeriod)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(closes)))
}
