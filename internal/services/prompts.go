package services

import (
	"fmt"
	"strings"

	"github.com/quantforge/analysis-engine/internal/models"
	"github.com/quantforge/analysis-engine/internal/providers"
)

const (
	// promptVersion tags every prompt sent to a provider so responses can
	// be compared across template revisions.
	promptVersion = "v1"

	maxNewsInPrompt    = 10
	maxContentInPrompt = 300
)

// PromptLibrary renders versioned prompt templates for each analysis type.
type PromptLibrary struct {
	maxTokens   int
	temperature float64
}

// NewPromptLibrary creates a prompt library with the given generation bounds.
func NewPromptLibrary(maxTokens int, temperature float64) *PromptLibrary {
	return &PromptLibrary{
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Version returns the active template version.
func (l *PromptLibrary) Version() string {
	return promptVersion
}

// Build renders the prompt for the given request and gathered evidence.
// Quick analysis never reaches a provider, so it has no template here.
func (l *PromptLibrary) Build(analysisType models.AnalysisType, req *models.AnalysisRequest, bundle *models.EvidenceBundle) (providers.Prompt, error) {
	var system, user string

	switch analysisType {
	case models.AnalysisSentimentOnly:
		system = "You are an expert financial analyst. Analyze sentiment objectively based on facts."
		user = l.sentimentPrompt(req.Ticker, bundle)
	case models.AnalysisRiskOnly:
		system = "You are a risk analyst. Assess risks objectively without speculation."
		user = l.riskPrompt(req.Ticker, bundle)
	case models.AnalysisComprehensive:
		system = "You are a professional market researcher. Explain price movements and market conditions using factual analysis. Frame guidance as informational, NOT direct financial advice."
		user = l.comprehensivePrompt(req.Ticker, bundle)
	default:
		return providers.Prompt{}, fmt.Errorf("no prompt template for analysis type %q", analysisType)
	}

	return providers.Prompt{
		System:      system,
		User:        user,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	}, nil
}

func (l *PromptLibrary) sentimentPrompt(ticker string, bundle *models.EvidenceBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the sentiment of the following financial news about %s:\n\n", ticker)
	b.WriteString("News Articles:\n")
	b.WriteString(formatNews(bundle.News))
	b.WriteString(`

Provide:
1. Overall sentiment (bullish/bearish/neutral)
2. A one-paragraph summary
3. Confidence score (0.0 to 1.0)
4. Key themes (3-5 bullet points)

Respond in JSON format:
{
    "summary": "one paragraph summary",
    "sentiment": "bullish/bearish/neutral",
    "recommendation": "HOLD",
    "key_insights": ["theme1", "theme2", "theme3"],
    "confidence": 0.85
}`)
	return b.String()
}

func (l *PromptLibrary) riskPrompt(ticker string, bundle *models.EvidenceBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess the investment risk for %s:\n\n", ticker)
	b.WriteString("Price Data:\n")
	b.WriteString(formatPrices(bundle))
	b.WriteString("\nRecent News:\n")
	b.WriteString(formatNews(bundle.News))
	b.WriteString(`

Provide:
1. Overall risk level (low/medium/high) as the sentiment field
2. Specific risk factors (3-5 items)
3. Suggested action (BUY/HOLD/SELL)
4. Confidence score (0.0 to 1.0)

Respond in JSON format:
{
    "summary": "one paragraph risk assessment",
    "sentiment": "neutral",
    "recommendation": "HOLD",
    "key_insights": ["risk factor 1", "risk factor 2", "risk factor 3"],
    "confidence": 0.65
}`)
	return b.String()
}

func (l *PromptLibrary) comprehensivePrompt(ticker string, bundle *models.EvidenceBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provide a comprehensive analysis of %s:\n\n", ticker)
	b.WriteString("Price Data:\n")
	b.WriteString(formatPrices(bundle))
	b.WriteString("\nRecent News:\n")
	b.WriteString(formatNews(bundle.News))
	b.WriteString(`

Provide:
1. A concise summary of what happened and why it matters
2. Overall sentiment (bullish/bearish/neutral)
3. Suggested action (BUY/HOLD/SELL)
4. Key insights (3-5 bullet points)
5. Confidence in the analysis (0.0 to 1.0)

IMPORTANT: Frame the suggested action as informational guidance, NOT direct financial advice.

Respond in JSON format:
{
    "summary": "concise summary text here",
    "sentiment": "bullish/bearish/neutral",
    "recommendation": "HOLD",
    "key_insights": ["insight1", "insight2", "insight3"],
    "confidence": 0.75
}`)
	return b.String()
}

func formatNews(news []models.NewsItem) string {
	if len(news) == 0 {
		return "(no recent news available)\n"
	}
	var b strings.Builder
	for i, item := range news {
		if i >= maxNewsInPrompt {
			break
		}
		content := item.Content
		if len(content) > maxContentInPrompt {
			content = content[:maxContentInPrompt]
		}
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", item.Source, item.Headline, content)
	}
	return b.String()
}

func formatPrices(bundle *models.EvidenceBundle) string {
	if !bundle.HasPriceData || len(bundle.Bars) == 0 {
		return "(no price data available)\n"
	}
	var b strings.Builder
	first := bundle.Bars[0]
	last := bundle.Bars[len(bundle.Bars)-1]
	fmt.Fprintf(&b, "- Period: %s to %s\n",
		first.Timestamp.Format("2006-01-02"), last.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Open: $%s\n", first.Open.StringFixed(2))
	fmt.Fprintf(&b, "- Close: $%s\n", last.Close.StringFixed(2))
	if change, ok := bundle.PriceChangePercent(); ok {
		fmt.Fprintf(&b, "- Change: %+.2f%%\n", change)
	}
	return b.String()
}
