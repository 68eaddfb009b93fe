package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

// Cross-encoder defaults
const (
	DefaultCrossEncoderTimeout = 10 * time.Second
)

// CrossEncoderConfig holds configuration for the HTTP cross-encoder client.
type CrossEncoderConfig struct {
	// Endpoint is the rerank service URL.
	Endpoint string

	// Model is the cross-encoder model identifier.
	Model string

	// Timeout bounds each scoring request.
	Timeout time.Duration

	// SkipHealthCheck skips the startup probe (for testing).
	SkipHealthCheck bool
}

// HTTPCrossEncoder scores query/passage pairs via a rerank HTTP service.
type HTTPCrossEncoder struct {
	client   *http.Client
	config   CrossEncoderConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder creates a cross-encoder client for the given service.
func NewHTTPCrossEncoder(ctx context.Context, cfg CrossEncoderConfig) (*HTTPCrossEncoder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cross-encoder endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	c := &HTTPCrossEncoder{
		client:   client,
		config:   cfg,
		endpoint: cfg.Endpoint,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := c.healthCheck(checkCtx); err != nil {
			return nil, apperrors.ProviderUnavailable("cross-encoder health check failed", err)
		}
	}

	slog.Debug("cross_encoder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return c, nil
}

// healthCheck verifies the rerank service is reachable.
func (c *HTTPCrossEncoder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to rerank service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rerank service unhealthy (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}

// rerankRequest is the JSON request to the /rerank endpoint.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// rerankResponse is the JSON response from the /rerank endpoint. Results
// may arrive sorted by score; the Index field maps each score back to its
// input document.
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model string `json:"model"`
}

// ScorePairs scores each passage against the query. The returned slice is
// aligned with passages, regardless of the order the service responds in.
func (c *HTTPCrossEncoder) ScorePairs(ctx context.Context, query string, passages []string) ([]float64, error) {
	start := time.Now()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	c.mu.RUnlock()

	if len(passages) == 0 {
		return []float64{}, nil
	}

	jsonData, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: passages,
		Model:     c.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.ProviderUnavailable("rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.ErrCodeProviderResponse,
			fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, string(body)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderResponse, "decode rerank response", err)
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, apperrors.New(apperrors.ErrCodeProviderResponse,
				fmt.Sprintf("rerank result index %d out of range for %d passages", r.Index, len(passages)), nil)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeProviderResponse,
				fmt.Sprintf("rerank response missing score for passage %d", i), nil)
		}
	}

	slog.Debug("cross_encoder_scored",
		slog.Int("passage_count", len(passages)),
		slog.Duration("duration", time.Since(start)))

	return scores, nil
}

// Available checks whether the rerank service responds to a health probe.
func (c *HTTPCrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	return nil
}
