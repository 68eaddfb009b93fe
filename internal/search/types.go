// Package search implements the query pipeline: filter extraction, query
// embedding, oversampled candidate retrieval, cross-encoder reranking,
// and deduplication.
package search

import (
	"time"

	"github.com/jrmatherly/apollos/internal/store"
)

// Options controls one search call.
type Options struct {
	// TopK is the number of results to return. Zero means the configured
	// default; values above the configured maximum are clamped.
	TopK int

	// FiltersEnabled turns filter-syntax extraction on. When off, the raw
	// query is embedded verbatim.
	FiltersEnabled bool

	// Rerank turns cross-encoder reranking on.
	Rerank bool
}

// Result is one ranked search hit.
type Result struct {
	Entry *store.Entry

	// Score is the final ranking score: the cross-encoder score when the
	// result was reranked, otherwise the cosine similarity.
	Score float64

	// Similarity is the cosine similarity from the vector search.
	Similarity float32

	// Reranked reports whether the cross-encoder scored this result. False
	// across the whole result set means the pipeline degraded to vector
	// ordering.
	Reranked bool
}

// Config configures the pipeline.
type Config struct {
	// DefaultTopK is used when the caller passes no top-k.
	DefaultTopK int

	// MaxTopK caps the caller's top-k.
	MaxTopK int

	// OversampleFactor multiplies top-k for the candidate fetch. Vector
	// similarity is a recall-oriented coarse filter; the cross-encoder is
	// precision-oriented but too expensive for the full store, so the
	// pipeline feeds it an oversampled pool.
	OversampleFactor int

	// MinCandidates is the candidate floor regardless of top-k.
	MinCandidates int

	// RerankTimeout bounds the synchronous rerank call. On expiry the
	// pipeline returns vector-ordered results instead of failing.
	RerankTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 100
	}
	if c.OversampleFactor <= 0 {
		c.OversampleFactor = 5
	}
	if c.MinCandidates <= 0 {
		c.MinCandidates = 50
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = 10 * time.Second
	}
}
