// Package scoringhttp provides an HTTP client for the external
// quality-scoring engine.
package scoringhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/promptdeck/promptdeck/internal/domain/scoring"
	"github.com/promptdeck/promptdeck/internal/resilience"
)

const (
	defaultMaxTries      = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// Client talks to the scoring engine's read API.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	breaker       *resilience.Breaker
	maxTries      uint
	retryInterval time.Duration // for testing
}

// NewClient creates a new scoring engine client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// GetScores resolves a batch of score IDs. IDs the engine does not know are
// absent from the returned map.
func (c *Client) GetScores(ctx context.Context, ids []string) (map[string]scoring.Score, error) {
	if len(ids) == 0 {
		return map[string]scoring.Score{}, nil
	}

	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("marshal score ids: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/scores/batch", body)
	if err != nil {
		return nil, fmt.Errorf("get scores: %w", err)
	}

	var result struct {
		Scores []scoring.Score `json:"scores"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}

	scores := make(map[string]scoring.Score, len(result.Scores))
	for _, s := range result.Scores {
		scores[s.ID] = s
	}
	return scores, nil
}

// Health checks if the scoring engine is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/v1/health", nil)
	return err == nil, err
}

// doRequest performs one logical call: transient failures (transport errors
// and 5xx responses) are retried with exponential backoff, 4xx responses are
// not. The breaker, when attached, counts one failure per exhausted call.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retryInterval

		data, err := backoff.Retry(ctx, func() ([]byte, error) {
			return c.attempt(ctx, method, path, body)
		}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
		if err != nil {
			return err
		}
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("scoring API error %d: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("scoring API error %d: %s", resp.StatusCode, string(data)))
	}

	return data, nil
}
