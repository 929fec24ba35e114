package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/models"
)

// claimStatus classifies one checkable claim extracted from model output.
type claimStatus int

const (
	claimSupported claimStatus = iota
	claimContradicted
	claimUnverifiable
)

// claim is one concrete assertion pulled from the generated text together
// with its cross-check outcome.
type claim struct {
	status  claimStatus
	warning string
}

var (
	percentClaimRe = regexp.MustCompile(`([+-]?\d+(?:\.\d+)?)\s*%`)
	tickerRe       = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

	priceUpKeywords   = []string{"up", "increased", "rose", "gained", "higher", "rally"}
	priceDownKeywords = []string{"down", "decreased", "fell", "dropped", "lower", "decline"}

	positiveNewsKeywords = []string{"beat", "exceed", "growth", "strong", "positive", "upgrade"}
	negativeNewsKeywords = []string{"miss", "decline", "weak", "negative", "downgrade", "concern"}

	predictionKeywords = []string{"will", "predict", "forecast", "expect", "target"}
)

// highConfidenceThreshold is the self-reported confidence above which an
// assertion over an empty evidence bundle is flagged as unsupported.
const highConfidenceThreshold = 0.8

// predictionNewsFloor is the minimum news coverage below which explicit
// forward-looking statements are flagged.
const predictionNewsFloor = 3

// directionContradictionPct is the realized move beyond which a claimed
// opposite direction counts as a contradiction rather than noise.
const directionContradictionPct = 1.0

// numericClaimTolerancePct is the allowed gap in percentage points
// between a claimed move and the realized one.
const numericClaimTolerancePct = 2.0

// ResponseValidator cross-checks generated claims against the evidence
// bundle. Contradicted claims produce warnings; claims with no evidence
// to check against are never flagged, they only dilute the fact-support
// score.
type ResponseValidator struct {
	logger *logrus.Logger
}

func NewResponseValidator(logger *logrus.Logger) *ResponseValidator {
	return &ResponseValidator{logger: logger}
}

// Validate produces the validation report for one inference result.
// SentimentOnly and RiskOnly requests check only the claim kinds inside
// their narrower scope.
func (v *ResponseValidator) Validate(result *models.InferenceResult, bundle *models.EvidenceBundle, analysisType models.AnalysisType) *models.ValidationReport {
	report := &models.ValidationReport{
		Warnings:         []string{},
		FactSupportScore: 1.0,
	}

	var claims []claim

	checkSentiment := analysisType != models.AnalysisRiskOnly
	checkPrice := analysisType != models.AnalysisSentimentOnly

	if checkSentiment {
		if c, ok := v.sentimentClaim(result.Extraction.Sentiment, bundle); ok {
			claims = append(claims, c)
		}
	}
	if checkPrice {
		claims = append(claims, v.directionClaims(result.Extraction.Summary, bundle)...)
		numeric, checked := v.numericClaims(result.Extraction.Summary, bundle)
		claims = append(claims, numeric...)
		report.NumericClaimChecked = checked
	}

	if analysisType == models.AnalysisComprehensive {
		if w, ok := v.tickerMentionWarning(result.Extraction.Summary, bundle.Ticker); ok {
			report.Warnings = append(report.Warnings, w)
		}
	}

	report.Warnings = append(report.Warnings, v.unsupportedClaimWarnings(result, bundle)...)

	supported := 0
	for _, c := range claims {
		switch c.status {
		case claimSupported:
			supported++
		case claimContradicted:
			report.Warnings = append(report.Warnings, c.warning)
		}
	}
	if len(claims) > 0 {
		report.FactSupportScore = float64(supported) / float64(len(claims))
	}

	v.logger.WithFields(logrus.Fields{
		"ticker":       bundle.Ticker,
		"claims":       len(claims),
		"supported":    supported,
		"warnings":     len(report.Warnings),
		"fact_support": report.FactSupportScore,
	}).Debug("Response validation complete")

	return report
}

// sentimentClaim checks the asserted sentiment against the keyword
// polarity of the retrieved news. A non-neutral sentiment with no news
// to back it is unverifiable; a sentiment opposing a clearly dominant
// polarity is a contradiction.
func (v *ResponseValidator) sentimentClaim(sentiment string, bundle *models.EvidenceBundle) (claim, bool) {
	s := strings.ToLower(strings.TrimSpace(sentiment))
	if s == "" || s == "neutral" {
		return claim{}, false
	}

	if bundle.NewsCount() == 0 {
		return claim{status: claimUnverifiable}, true
	}

	positive, negative := 0, 0
	for _, item := range bundle.News {
		text := strings.ToLower(item.Headline + " " + item.Content)
		for _, kw := range positiveNewsKeywords {
			if strings.Contains(text, kw) {
				positive++
			}
		}
		for _, kw := range negativeNewsKeywords {
			if strings.Contains(text, kw) {
				negative++
			}
		}
	}

	if positive > negative*2 && s == "bearish" {
		return claim{
			status:  claimContradicted,
			warning: "Claimed bearish sentiment contradicts predominantly positive news",
		}, true
	}
	if negative > positive*2 && s == "bullish" {
		return claim{
			status:  claimContradicted,
			warning: "Claimed bullish sentiment contradicts predominantly negative news",
		}, true
	}
	return claim{status: claimSupported}, true
}

// directionClaims extracts asserted price directions from the summary
// and checks them against the realized change.
func (v *ResponseValidator) directionClaims(summary string, bundle *models.EvidenceBundle) []claim {
	text := strings.ToLower(summary)

	hasUp := containsAny(text, priceUpKeywords)
	hasDown := containsAny(text, priceDownKeywords)
	if !hasUp && !hasDown {
		return nil
	}

	change, ok := bundle.PriceChangePercent()
	if !ok {
		var claims []claim
		if hasUp {
			claims = append(claims, claim{status: claimUnverifiable})
		}
		if hasDown {
			claims = append(claims, claim{status: claimUnverifiable})
		}
		return claims
	}

	var claims []claim
	if hasUp {
		c := claim{status: claimSupported}
		if change < -directionContradictionPct {
			c = claim{
				status:  claimContradicted,
				warning: fmt.Sprintf("Claimed price increase but actual change is %.1f%%", change),
			}
		}
		claims = append(claims, c)
	}
	if hasDown {
		c := claim{status: claimSupported}
		if change > directionContradictionPct {
			c = claim{
				status:  claimContradicted,
				warning: fmt.Sprintf("Claimed price decrease but actual change is %.1f%%", change),
			}
		}
		claims = append(claims, c)
	}
	return claims
}

// numericClaims extracts percentage assertions and checks each against
// the realized change. The second return value reports whether at least
// one numeric claim was actually checked against price data.
func (v *ResponseValidator) numericClaims(summary string, bundle *models.EvidenceBundle) ([]claim, bool) {
	matches := percentClaimRe.FindAllStringSubmatch(summary, -1)
	if len(matches) == 0 {
		return nil, false
	}

	change, ok := bundle.PriceChangePercent()
	if !ok {
		claims := make([]claim, len(matches))
		for i := range claims {
			claims[i] = claim{status: claimUnverifiable}
		}
		return claims, false
	}

	var claims []claim
	for _, m := range matches {
		claimed, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if math.Abs(claimed-change) <= numericClaimTolerancePct {
			claims = append(claims, claim{status: claimSupported})
			continue
		}
		claims = append(claims, claim{
			status:  claimContradicted,
			warning: fmt.Sprintf("Claimed %.1f%% move but actual change is %.1f%%", claimed, change),
		})
	}
	return claims, len(claims) > 0
}

// unsupportedClaimWarnings flags assertive output the evidence cannot
// carry: high self-reported confidence over an empty bundle, and
// explicit forward-looking statements on thin news coverage.
func (v *ResponseValidator) unsupportedClaimWarnings(result *models.InferenceResult, bundle *models.EvidenceBundle) []string {
	var warnings []string

	if result.Extraction.RawConfidence > highConfidenceThreshold && bundle.NewsCount() == 0 && !bundle.HasPriceData {
		warnings = append(warnings, "High confidence claim without supporting data")
	}

	if containsAny(strings.ToLower(result.Extraction.Summary), predictionKeywords) && bundle.NewsCount() < predictionNewsFloor {
		warnings = append(warnings, "Prediction made with limited data")
	}

	return warnings
}

// tickerMentionWarning flags a long analysis that never names the
// requested ticker, which usually indicates a generic response.
func (v *ResponseValidator) tickerMentionWarning(summary, ticker string) (string, bool) {
	if ticker == "" || len(summary) <= 50 {
		return "", false
	}
	for _, candidate := range tickerRe.FindAllString(summary, -1) {
		if candidate == ticker {
			return "", false
		}
	}
	return fmt.Sprintf("Analysis does not mention ticker %s", ticker), true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
