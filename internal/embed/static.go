package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// It works without external dependencies (no network, no model download)
// and is deterministic, trading semantic quality for availability. Used as
// the offline backend and in tests.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*StaticEmbedder)(nil)

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// staticStopWords are high-frequency words that carry no retrieval signal.
var staticStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "is": true, "it": true,
	"for": true, "on": true, "with": true, "as": true, "at": true,
}

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// EmbedQuery generates an embedding for a query. The static backend is
// symmetric; queries and documents share the same projection.
func (e *StaticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text)
}

// EmbedBatch generates embeddings for multiple documents in input order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := e.embed(text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) embed(text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector hashes tokens and character n-grams into a fixed-size
// vector. Tokens carry most of the weight; n-grams catch morphology.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := strings.ToLower(text)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		gram := normalized[i : i+ngramSize]
		vector[hashToIndex(gram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize lowercases and splits text on non-alphanumerics, dropping
// stop words.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if !staticStopWords[lower] {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// hashToIndex maps a string to a vector index via FNV-1a.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static-fnv-256"
}

// Available always returns true; the static backend has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
