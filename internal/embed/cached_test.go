package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double that counts provider calls.
type mockEmbedder struct {
	queryCalls atomic.Int64
	batchCalls atomic.Int64
	batchTexts []string
	dimensions int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims}
}

// vectorFor produces a distinct vector per text so tests can tell cache
// hits apart from provider calls.
func (m *mockEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, m.dimensions)
	for i := range vec {
		vec[i] = float32(len(text)+i) * 0.001
	}
	return vec
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.queryCalls.Add(1)
	return m.vectorFor(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchTexts = texts
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vectorFor(text)
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dimensions }

func (m *mockEmbedder) ModelName() string { return "mock-model" }

func (m *mockEmbedder) Available(ctx context.Context) bool { return true }

func (m *mockEmbedder) Close() error { return nil }

func TestCachedEmbedder_QueryCacheHit(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	first, err := cached.EmbedQuery(ctx, "when are taxes due")
	require.NoError(t, err)

	second, err := cached.EmbedQuery(ctx, "when are taxes due")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.queryCalls.Load(), "second call should hit the cache")
}

func TestCachedEmbedder_DistinctQueriesMiss(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	_, err := cached.EmbedQuery(ctx, "first query")
	require.NoError(t, err)
	_, err = cached.EmbedQuery(ctx, "second query")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.queryCalls.Load())
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	warm, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, warm, 2)
	require.Equal(t, int64(1), inner.batchCalls.Load())

	// Second batch shares "beta"; only "gamma" should reach the provider.
	mixed, err := cached.EmbedBatch(ctx, []string{"beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, mixed, 2)

	assert.Equal(t, int64(2), inner.batchCalls.Load())
	assert.Equal(t, []string{"gamma"}, inner.batchTexts)
	assert.Equal(t, warm[1], mixed[0])
}

func TestCachedEmbedder_QueryAndDocumentKeyedSeparately(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	_, err := cached.EmbedQuery(ctx, "same text")
	require.NoError(t, err)

	// The query cache entry must not satisfy a document embed.
	_, err = cached.EmbedBatch(ctx, []string{"same text"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.queryCalls.Load())
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	result, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, int64(0), inner.batchCalls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(768)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, 768, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
}
