package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quantforge/analysis-engine/internal/config"
)

// OllamaProvider serves completions from a local Ollama-compatible REST
// endpoint. It is the no-API-key last resort of the chain.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	timeout    time.Duration
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

func NewOllamaProvider(cfg config.ProviderConfig, timeout time.Duration) (*OllamaProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "mistral"
	}

	return &OllamaProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		model:      model,
		timeout:    timeout,
	}, nil
}

func (p *OllamaProvider) Identifier() string { return "ollama" }

func (p *OllamaProvider) Timeout() time.Duration { return p.timeout }

func (p *OllamaProvider) Complete(ctx context.Context, prompt Prompt) (*Completion, error) {
	fullPrompt := prompt.User
	if prompt.System != "" {
		fullPrompt = prompt.System + "\n\n" + prompt.User
	}

	payload := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: fullPrompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: prompt.Temperature,
			NumPredict:  prompt.MaxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(data))
	}

	var generated ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	text := strings.TrimSpace(generated.Response)
	if text == "" {
		return nil, fmt.Errorf("ollama returned an empty response")
	}

	return &Completion{
		Text:       text,
		Model:      p.model,
		TokensUsed: generated.EvalCount,
	}, nil
}
