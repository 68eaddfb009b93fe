package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

func TestOpenAIEmbedder_RequiresDimensions(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: "http://localhost:8080/v1",
		Model:   "text-embedding-3-small",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestOpenAIEmbedder_PlacesVectorsByIndex(t *testing.T) {
	// Respond with data entries in reverse order; the Index field must
	// win over response position.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]datum, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			// Two nonzero components so normalization keeps the
			// vectors distinguishable per position.
			vec := make([]float64, 4)
			vec[0] = float64(i + 1)
			vec[1] = 1
			data = append(data, datum{Index: i, Embedding: vec})
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    server.URL + "/v1",
		Model:      "text-embedding-3-small",
		Dimensions: 4,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// vec[0]/vec[1] grows with the input position after normalization.
	assert.Less(t, vecs[0][0]/vecs[0][1], vecs[1][0]/vecs[1][1])
	assert.Less(t, vecs[1][0]/vecs[1][1], vecs[2][0]/vecs[2][1])
}

func TestOpenAIEmbedder_SendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{1, 0, 0, 0}}},
		}))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    server.URL,
		APIKey:     "sk-test",
		Model:      "text-embedding-3-small",
		Dimensions: 4,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{1, 0}}},
		}))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    server.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		MaxRetries: 1,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}
