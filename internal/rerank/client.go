package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when the reranker output cannot be mapped back to the input
var ErrMalformedResponse = errors.New("malformed rerank response")

// Client scores (query, passage) pairs with a cross-encoder. Scores are raw model outputs.
type Client interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	Ping(ctx context.Context) error
}

// Request is the payload for POST /v1/rerank
type Request struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

// Result is a single scored candidate
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Response is the body returned by /v1/rerank
type Response struct {
	Results []Result `json:"results"`
	Model   string   `json:"model"`
}

// HTTPClient talks to a cross-encoder rerank service over HTTP
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a rerank client. A nil httpClient gets a default one with the given timeout.
func NewHTTPClient(baseURL, model string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Score returns one raw score per passage, in input order
func (c *HTTPClient) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}

	start := time.Now()
	payload, err := json.Marshal(Request{Query: query, Candidates: passages, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores, err := mapScores(out.Results, len(passages))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("rerank batch scored",
		zap.Int("candidates", len(passages)),
		zap.String("model", out.Model),
		zap.Duration("elapsed", time.Since(start)),
	)
	return scores, nil
}

// mapScores places each result at its candidate index. Every index must appear exactly once.
func mapScores(results []Result, n int) ([]float64, error) {
	if len(results) != n {
		return nil, fmt.Errorf("%w: %d results for %d candidates", ErrMalformedResponse, len(results), n)
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n {
			return nil, fmt.Errorf("%w: index %d out of range for %d candidates", ErrMalformedResponse, r.Index, n)
		}
		if seen[r.Index] {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformedResponse, r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}

// Ping checks that the rerank service is reachable
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rerank health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rerank health check returned %d", resp.StatusCode)
	}
	return nil
}
