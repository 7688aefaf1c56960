// Package estimator talks to the optional external probability estimator,
// a black-box HTTP service that turns a market question plus recent signal
// context into a structured probability hint. Its output is advisory: the
// aggregator blends it toward the market price before anything trades on it.
package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// Client is the HTTP client for the external estimator service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates an estimator client. timeout bounds each request; the service
// may run a model per call, so callers should budget generously.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Request is the estimation input for one market.
type Request struct {
	MarketID     string   `json:"market_id"`
	Question     string   `json:"question"`
	MarketPrice  float64  `json:"market_price"`
	Category     string   `json:"category,omitempty"`
	SignalTitles []string `json:"signal_titles,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
}

type estimateResponse struct {
	MarketID    string  `json:"market_id"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Direction   string  `json:"direction"`
	Reasoning   string  `json:"reasoning"`
}

// Estimate requests a probability hint for a single market. Malformed
// responses come back as domain.ErrDataIntegrity via Validate, transport
// failures as domain.ErrTransient; callers skip the former and retry the
// latter.
func (c *Client) Estimate(ctx context.Context, req Request) (domain.ExternalEstimate, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/estimate", bytes.NewReader(payload))
	if err != nil {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: http request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: read response: %w: %w", domain.ErrTransient, err)
	}

	if resp.StatusCode >= 500 {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: %w: HTTP %d: %s", domain.ErrTransient, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded estimateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.ExternalEstimate{}, fmt.Errorf("estimator: decode response: %w", err)
	}

	est := domain.ExternalEstimate{
		MarketID:    decoded.MarketID,
		Probability: decoded.Probability,
		Confidence:  decoded.Confidence,
		Direction:   decoded.Direction,
		Reasoning:   decoded.Reasoning,
	}
	if est.MarketID == "" {
		est.MarketID = req.MarketID
	}
	if err := est.Validate(); err != nil {
		return domain.ExternalEstimate{}, err
	}

	return est, nil
}
