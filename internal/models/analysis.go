package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisType selects the analysis strategy for a request. Quick is
// served by the deterministic rule-based scorer; the other types go
// through the provider fallback chain.
type AnalysisType string

const (
	AnalysisQuick         AnalysisType = "quick"
	AnalysisComprehensive AnalysisType = "comprehensive"
	AnalysisSentimentOnly AnalysisType = "sentiment_only"
	AnalysisRiskOnly      AnalysisType = "risk_only"
)

// ParseAnalysisType validates a request-supplied analysis type string.
// An empty string defaults to Quick.
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch AnalysisType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return AnalysisQuick, nil
	case AnalysisQuick:
		return AnalysisQuick, nil
	case AnalysisComprehensive:
		return AnalysisComprehensive, nil
	case AnalysisSentimentOnly:
		return AnalysisSentimentOnly, nil
	case AnalysisRiskOnly:
		return AnalysisRiskOnly, nil
	default:
		return "", fmt.Errorf("unknown analysis type %q", s)
	}
}

// Tier is the subscription class governing rate limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps a claim or header value to a tier, defaulting to free
// for unknown values so a malformed claim never grants extra quota.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// AnalysisRequest is the immutable description of one analysis run.
type AnalysisRequest struct {
	RequestID    string       `json:"request_id"`
	Ticker       string       `json:"ticker"`
	AnalysisType AnalysisType `json:"analysis_type"`
	DaysBefore   int          `json:"days_before"`
	Timezone     string       `json:"timezone"`
	UserID       string       `json:"user_id"`
	Tier         Tier         `json:"tier"`
}

// Validate reports whether the request is well formed. Failures map to
// 400 responses at the HTTP layer.
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return fmt.Errorf("ticker must not be empty")
	}
	if r.DaysBefore < 0 {
		return fmt.Errorf("days_before must be >= 0, got %d", r.DaysBefore)
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
	}
	return nil
}

// NewsItem is one article returned by the semantic news index.
type NewsItem struct {
	Headline       string    `json:"headline"`
	Content        string    `json:"content,omitempty"`
	Source         string    `json:"source"`
	Category       string    `json:"category,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
	RelevanceScore float64   `json:"relevance_score"`
}

// PriceBar is one OHLCV candle from the price store.
type PriceBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// EvidenceBundle is the merged price and news data retrieved for a single
// request. It is owned by that request's lifecycle and never shared.
type EvidenceBundle struct {
	Ticker       string     `json:"ticker"`
	News         []NewsItem `json:"news"`
	Bars         []PriceBar `json:"bars"`
	HasPriceData bool       `json:"has_price_data"`
	HasNewsData  bool       `json:"has_news_data"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    time.Time  `json:"period_end"`
}

// NewsCount returns the number of retrieved news items.
func (e *EvidenceBundle) NewsCount() int {
	return len(e.News)
}

// PriceChangePercent computes the percentage move from the first bar's
// open to the last bar's close. The second return value is false when
// there is no usable price data.
func (e *EvidenceBundle) PriceChangePercent() (float64, bool) {
	if !e.HasPriceData || len(e.Bars) == 0 {
		return 0, false
	}
	open := e.Bars[0].Open
	if open.IsZero() {
		return 0, false
	}
	change := e.Bars[len(e.Bars)-1].Close.Sub(open).
		Div(open).
		Mul(decimal.NewFromInt(100))
	return change.InexactFloat64(), true
}

// Closes returns the closing prices as float64 for indicator input.
func (e *EvidenceBundle) Closes() []float64 {
	closes := make([]float64, 0, len(e.Bars))
	for _, b := range e.Bars {
		closes = append(closes, b.Close.InexactFloat64())
	}
	return closes
}

// TokenUsage tracks prompt/completion token counts for one attempt.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Extraction is the structured payload parsed from a provider's raw text.
type Extraction struct {
	Summary        string   `json:"summary"`
	Sentiment      string   `json:"sentiment"`
	Recommendation string   `json:"recommendation"`
	KeyInsights    []string `json:"key_insights"`
	RawConfidence  float64  `json:"confidence"`
}

// InferenceResult is produced once per successful provider attempt (or by
// the rule-based scorer for Quick mode).
type InferenceResult struct {
	Provider   string        `json:"provider"`
	RawText    string        `json:"raw_text"`
	Extraction Extraction    `json:"extraction"`
	Latency    time.Duration `json:"latency"`
	Usage      TokenUsage    `json:"usage"`
}

// ValidationReport is the outcome of cross-checking generated claims
// against the evidence bundle.
type ValidationReport struct {
	Warnings            []string `json:"warnings"`
	FactSupportScore    float64  `json:"fact_support_score"`
	NumericClaimChecked bool     `json:"numeric_claim_checked"`
}

// CalibratedConfidence is the final bounded confidence with the audit
// trail of every adjustment applied.
type CalibratedConfidence struct {
	Final     float64  `json:"final"`
	Reasoning []string `json:"reasoning"`
}

// Meta carries per-request bookkeeping attached to every response.
type Meta struct {
	AnalysisDate     time.Time `json:"analysis_date"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	NewsCount        int       `json:"news_count"`
	HasPriceData     bool      `json:"has_price_data"`
	ModelUsed        string    `json:"model_used"`
	Version          string    `json:"version"`
	RequestID        string    `json:"request_id"`
}

// AnalysisResponse is the success contract for the analyze operation.
type AnalysisResponse struct {
	Ticker              string       `json:"ticker"`
	AnalysisType        AnalysisType `json:"analysis_type"`
	Summary             string       `json:"summary"`
	Sentiment           string       `json:"sentiment"`
	Recommendation      string       `json:"recommendation"`
	Confidence          float64      `json:"confidence"`
	KeyInsights         []string     `json:"key_insights"`
	ValidationWarnings  []string     `json:"validation_warnings"`
	ConfidenceReasoning []string     `json:"confidence_reasoning"`
	Meta                Meta         `json:"meta"`
}

// LimitInfo describes which quota a denied request violated.
type LimitInfo struct {
	LimitType string    `json:"limit_type"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
}

// ErrorResponse is the error contract shared by all failure statuses.
type ErrorResponse struct {
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	LimitInfo *LimitInfo `json:"limit_info,omitempty"`
}
