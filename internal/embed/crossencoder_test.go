package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

type rerankTestResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// newRerankServer answers /rerank with the given results, which may be in
// any order relative to the input documents.
func newRerankServer(t *testing.T, results []rerankTestResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/rerank":
			var req rerankRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.NotEmpty(t, req.Query)

			resp := map[string]any{"results": results}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestHTTPCrossEncoder_ScoresAlignedWithPassages(t *testing.T) {
	// Server responds sorted by score, not input order.
	server := newRerankServer(t, []rerankTestResult{
		{Index: 2, Score: 0.9},
		{Index: 0, Score: 0.5},
		{Index: 1, Score: 0.1},
	})
	defer server.Close()

	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
	})
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()

	scores, err := ce.ScorePairs(context.Background(), "tax deadline",
		[]string{"passage a", "passage b", "passage c"})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.5, 0.1, 0.9}, scores)
}

func TestHTTPCrossEncoder_EmptyPassages(t *testing.T) {
	server := newRerankServer(t, nil)
	defer server.Close()

	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
	})
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()

	scores, err := ce.ScorePairs(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestHTTPCrossEncoder_MissingScoreIsBadResponse(t *testing.T) {
	server := newRerankServer(t, []rerankTestResult{
		{Index: 0, Score: 0.5},
	})
	defer server.Close()

	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
	})
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()

	_, err = ce.ScorePairs(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderResponse, apperrors.GetCode(err))
}

func TestHTTPCrossEncoder_OutOfRangeIndexIsBadResponse(t *testing.T) {
	server := newRerankServer(t, []rerankTestResult{
		{Index: 5, Score: 0.5},
	})
	defer server.Close()

	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
	})
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()

	_, err = ce.ScorePairs(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderResponse, apperrors.GetCode(err))
}

func TestHTTPCrossEncoder_TimeoutSurfacesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()

	_, err = ce.ScorePairs(context.Background(), "q", []string{"slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestHTTPCrossEncoder_HealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint: server.URL,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestHTTPCrossEncoder_ClosedRejectsCalls(t *testing.T) {
	ce, err := NewHTTPCrossEncoder(context.Background(), CrossEncoderConfig{
		Endpoint:        "http://localhost:1",
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	require.NoError(t, ce.Close())

	_, err = ce.ScorePairs(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
	assert.False(t, ce.Available(context.Background()))
}
