package newsindex

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
	"github.com/quantforge/analysis-engine/internal/models"
)

// Client talks to the semantic news index sidecar over HTTP. Results
// come back ordered by relevance.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	maxItems   int
}

func NewClient(cfg config.NewsIndexConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = 20
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimSuffix(cfg.ServiceURL, "/"),
		maxItems: maxItems,
	}
}

type searchRequest struct {
	Ticker string    `json:"ticker"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Limit  int       `json:"limit"`
}

type searchResponse struct {
	Results []models.NewsItem `json:"results"`
}

// SearchRecent queries the index for articles relevant to a ticker
// within the given window.
func (c *Client) SearchRecent(ctx context.Context, ticker string, from, to time.Time) ([]models.NewsItem, error) {
	req := searchRequest{
		Ticker: ticker,
		From:   from,
		To:     to,
		Limit:  c.maxItems,
	}

	var resp searchResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/api/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// HealthCheck verifies the index sidecar is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.makeRequest(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach news index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("news index error (%d): %s", resp.StatusCode, string(msg))
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode news index response: %w", err)
	}
	return nil
}
