package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/models"
	"github.com/quantforge/analysis-engine/internal/providers"
)

// ProviderChain walks the configured providers in order until one
// returns a well-formed completion. Each provider gets exactly one
// attempt per request, bounded by its own timeout; a failure moves on
// to the next provider and is never retried within the same request.
type ProviderChain struct {
	providers []providers.Provider
	logger    *logrus.Logger
}

func NewProviderChain(chain []providers.Provider, logger *logrus.Logger) *ProviderChain {
	return &ProviderChain{
		providers: chain,
		logger:    logger,
	}
}

// Len returns the number of providers in the chain.
func (c *ProviderChain) Len() int {
	return len(c.providers)
}

// Infer runs the prompt through the fallback chain. The first provider
// whose response parses into the expected structure wins; when every
// provider fails the chain returns ErrAllProvidersFailed.
func (c *ProviderChain) Infer(ctx context.Context, prompt providers.Prompt) (*models.InferenceResult, error) {
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	for _, p := range c.providers {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("inference aborted: %w", ctx.Err())
		}

		start := time.Now()
		comp, err := c.attempt(ctx, p, prompt)
		latency := time.Since(start)

		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"provider":   p.Identifier(),
				"latency_ms": latency.Milliseconds(),
			}).Warn("Provider attempt failed, falling back to next provider")
			continue
		}

		extraction, err := parseExtraction(comp.Text)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"provider":   p.Identifier(),
				"latency_ms": latency.Milliseconds(),
			}).Warn("Provider response unparseable, falling back to next provider")
			continue
		}

		c.logger.WithFields(logrus.Fields{
			"provider":    p.Identifier(),
			"latency_ms":  latency.Milliseconds(),
			"tokens_used": comp.TokensUsed,
		}).Info("Inference succeeded")

		return &models.InferenceResult{
			Provider:   p.Identifier(),
			RawText:    comp.Text,
			Extraction: *extraction,
			Latency:    latency,
			Usage: models.TokenUsage{
				TotalTokens: comp.TokensUsed,
			},
		}, nil
	}

	return nil, ErrAllProvidersFailed
}

// attempt runs a single provider call under that provider's timeout.
func (c *ProviderChain) attempt(ctx context.Context, p providers.Provider, prompt providers.Prompt) (*providers.Completion, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	comp, err := p.Complete(attemptCtx, prompt)
	if err != nil {
		return nil, err
	}
	if comp == nil || strings.TrimSpace(comp.Text) == "" {
		return nil, fmt.Errorf("provider %s returned an empty completion", p.Identifier())
	}
	return comp, nil
}

// parseExtraction decodes the structured payload from raw model output.
// Models often wrap JSON in markdown fences, so those are stripped
// first. A missing confidence field defaults to 0.5.
func parseExtraction(text string) (*models.Extraction, error) {
	cleaned := stripFences(text)

	var raw struct {
		Summary        string   `json:"summary"`
		Sentiment      string   `json:"sentiment"`
		Recommendation string   `json:"recommendation"`
		KeyInsights    []string `json:"key_insights"`
		Confidence     *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("decoding model output: %w", err)
	}
	if raw.Summary == "" && raw.Sentiment == "" {
		return nil, fmt.Errorf("model output missing summary and sentiment")
	}

	confidence := 0.5
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &models.Extraction{
		Summary:        raw.Summary,
		Sentiment:      raw.Sentiment,
		Recommendation: raw.Recommendation,
		KeyInsights:    raw.KeyInsights,
		RawConfidence:  confidence,
	}, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
