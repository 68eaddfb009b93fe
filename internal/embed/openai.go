package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible embeddings backend. The same
// client serves OpenAI itself and any gateway exposing the /embeddings
// shape (Azure, LiteLLM, local inference servers).
type OpenAIConfig struct {
	// BaseURL is the API base, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is the bearer token. Empty disables the Authorization header
	// for local gateways that need none.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimensions is the expected dimension; required (the endpoint offers
	// no cheap probe comparable to Ollama's).
	Dimensions int

	// QueryPrefix is prepended to query text before embedding.
	QueryPrefix string

	// BatchSize is the number of texts per request.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxRetries bounds retry attempts before ProviderUnavailable.
	MaxRetries int
}

// OpenAIEmbedder generates embeddings via an OpenAI-compatible HTTP API.
type OpenAIEmbedder struct {
	client *http.Client
	config OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OpenAIEmbedder)(nil)

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an OpenAI-compatible embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedder requires a base URL")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedder requires a model name")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder requires explicit dimensions")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIEmbedder{
		client: &http.Client{},
		config: cfg,
	}, nil
}

// EmbedQuery generates an embedding for a search query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.config.Dimensions), nil
	}

	vecs, err := e.embedWithRetry(ctx, []string{e.config.QueryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple documents in request-sized
// batches, preserving input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.config.Dimensions)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		vecs, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, idx := range batch {
			results[idx] = vecs[i]
		}
	}

	return results, nil
}

// embedWithRetry wraps doEmbed in the retry envelope.
func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = e.config.MaxRetries

	err := withRetry(ctx, cfg, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(reqCtx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(out))
	}
	return out, nil
}

// doEmbed performs a single /embeddings request. The response data carries
// explicit indexes; vectors are placed by index so output order always
// matches input order.
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result openaiEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != nil {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, result.Error.Message)
		}
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d", len(texts), len(result.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), e.config.Dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[d.Index] = normalizeVector(vec)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports reachability. The embeddings endpoint has no health
// route; a HEAD against the base URL answering anything counts.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	if err := e.checkOpen(); err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.config.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *OpenAIEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}
