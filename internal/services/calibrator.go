package services

import (
	"fmt"
	"math"
	"time"

	"github.com/quantforge/analysis-engine/internal/config"
	"github.com/quantforge/analysis-engine/internal/models"
)

// newsRecencyWindow is the age beyond which an article no longer counts
// as recent for the stale-news check.
const newsRecencyWindow = 7 * 24 * time.Hour

// ConfidenceCalibrator tightens a provider's self-reported confidence
// using evidence richness and validation outcome. Calibration only ever
// lowers confidence; the raw value is the ceiling.
type ConfidenceCalibrator struct {
	newsFloor              int
	noEvidenceMultiplier   float64
	sparseNewsMultiplier   float64
	missingPriceMultiplier float64
	staleNewsMultiplier    float64
	warningDamping         float64

	// now is injectable for recency tests.
	now func() time.Time
}

func NewConfidenceCalibrator(cfg config.AnalysisConfig) *ConfidenceCalibrator {
	return &ConfidenceCalibrator{
		newsFloor:              cfg.NewsFloor,
		noEvidenceMultiplier:   cfg.NoEvidenceMultiplier,
		sparseNewsMultiplier:   cfg.SparseNewsMultiplier,
		missingPriceMultiplier: cfg.MissingPriceMultiplier,
		staleNewsMultiplier:    cfg.StaleNewsMultiplier,
		warningDamping:         cfg.WarningDamping,
		now:                    time.Now,
	}
}

// Calibrate produces the final bounded confidence with a reasoning
// entry for every adjustment applied.
func (c *ConfidenceCalibrator) Calibrate(raw float64, bundle *models.EvidenceBundle, report *models.ValidationReport) *models.CalibratedConfidence {
	adjusted := raw
	reasoning := []string{}

	newsCount := bundle.NewsCount()
	switch {
	case newsCount == 0 && !bundle.HasPriceData:
		adjusted *= c.noEvidenceMultiplier
		reasoning = append(reasoning, "No supporting evidence available")
	case newsCount < c.newsFloor:
		adjusted *= c.sparseNewsMultiplier
		reasoning = append(reasoning, fmt.Sprintf("Sparse news coverage (%d articles, floor %d)", newsCount, c.newsFloor))
	}

	if !bundle.HasPriceData && newsCount > 0 {
		adjusted *= c.missingPriceMultiplier
		reasoning = append(reasoning, "Price data unavailable for the analysis window")
	}

	if newsCount > 0 && !c.hasRecentNews(bundle.News) {
		adjusted *= c.staleNewsMultiplier
		reasoning = append(reasoning, "News data is stale")
	}

	if report != nil {
		if n := len(report.Warnings); n > 0 {
			adjusted *= math.Pow(c.warningDamping, float64(n))
			reasoning = append(reasoning, fmt.Sprintf("%d validation warning(s) applied", n))
		}
		if report.FactSupportScore < 1.0 {
			adjusted *= report.FactSupportScore
			reasoning = append(reasoning, fmt.Sprintf("Fact support score %.2f", report.FactSupportScore))
		}
	}

	// Raw is the ceiling, [0,1] the hard bounds.
	if adjusted > raw {
		adjusted = raw
	}
	adjusted = math.Max(0, math.Min(1, adjusted))

	return &models.CalibratedConfidence{
		Final:     adjusted,
		Reasoning: reasoning,
	}
}

// hasRecentNews reports whether at least one article falls inside the
// recency window. Articles without a publish timestamp do not count.
func (c *ConfidenceCalibrator) hasRecentNews(items []models.NewsItem) bool {
	cutoff := c.now().Add(-newsRecencyWindow)
	for _, item := range items {
		if item.PublishedAt.IsZero() {
			continue
		}
		if !item.PublishedAt.Before(cutoff) {
			return true
		}
	}
	return false
}
