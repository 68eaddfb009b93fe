// Package embed wraps the bi-encoder and cross-encoder model backends.
// A bi-encoder maps text to fixed-dimension vectors for similarity search;
// a cross-encoder jointly scores (query, passage) pairs for reranking.
// Backend selection is a configuration-time decision made in the factory.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the per-request timeout for provider calls.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// StaticDimensions is the embedding dimension of the static backend.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
// Implementations must preserve input order in batch output.
type Embedder interface {
	// EmbedQuery generates an embedding for a search query. Asymmetric
	// bi-encoders may apply a query-specific prompt template here that
	// EmbedBatch does not apply to documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple documents, preserving
	// input order in the output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// CrossEncoder scores (query, passage) pairs for relevance. Scores are not
// normalized to [0,1] but are monotonically interpretable: higher means
// more relevant. Output order matches input passage order.
type CrossEncoder interface {
	ScorePairs(ctx context.Context, query string, passages []string) ([]float64, error)

	// Available checks if the cross-encoder backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Zero vector stays as-is
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
