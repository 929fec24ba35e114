// Package providers implements the inference backends used by the
// analysis fallback chain. Every backend satisfies the same narrow
// Provider interface and is selected purely by configuration order.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/config"
)

// Prompt is a provider-agnostic completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider-agnostic completion response.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Provider is the capability interface every inference backend
// implements. Complete must honor ctx cancellation promptly so an
// abandoned request does not keep paying for external tokens.
type Provider interface {
	Identifier() string
	Timeout() time.Duration
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Descriptor is the read-only configuration snapshot for one provider,
// fixed at process start.
type Descriptor struct {
	Identifier      string        `json:"identifier"`
	Priority        int           `json:"priority"`
	Timeout         time.Duration `json:"timeout"`
	CostPer1KTokens float64       `json:"cost_per_1k_tokens"`
	Available       bool          `json:"available"`
}

// BuildChain constructs the ordered provider list from configuration.
// Disabled entries are skipped but still reported in the descriptor list
// so operators can see the full configured chain.
func BuildChain(ctx context.Context, cfgs []config.ProviderConfig, logger *logrus.Logger) ([]Provider, []Descriptor, error) {
	chain := make([]Provider, 0, len(cfgs))
	descriptors := make([]Descriptor, 0, len(cfgs))

	for i, cfg := range cfgs {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: invalid timeout: %w", cfg.Name, err)
		}

		descriptors = append(descriptors, Descriptor{
			Identifier:      cfg.Name,
			Priority:        i,
			Timeout:         timeout,
			CostPer1KTokens: cfg.CostPer1KTokens,
			Available:       cfg.Enabled,
		})

		if !cfg.Enabled {
			logger.WithField("provider", cfg.Name).Info("Provider disabled, skipping")
			continue
		}

		var p Provider
		switch cfg.Name {
		case "anthropic":
			p, err = NewAnthropicProvider(cfg, timeout)
		case "openai":
			p, err = NewOpenAIProvider(cfg, timeout)
		case "gemini":
			p, err = NewGeminiProvider(ctx, cfg, timeout)
		case "ollama":
			p, err = NewOllamaProvider(cfg, timeout)
		default:
			err = fmt.Errorf("unknown provider %q", cfg.Name)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build provider %s: %w", cfg.Name, err)
		}

		logger.WithFields(logrus.Fields{
			"provider": cfg.Name,
			"model":    cfg.Model,
			"timeout":  timeout.String(),
			"priority": i,
		}).Info("Provider registered")

		chain = append(chain, p)
	}

	return chain, descriptors, nil
}
