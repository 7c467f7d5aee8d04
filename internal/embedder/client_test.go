package embedder

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
)

func newTestClient(t *testing.T, dimension int, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := config.EmbedderConfig{BaseURL: srv.URL, ModelName: "ref-model", Dimension: dimension, Timeout: 5 * time.Second}
	reg := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	return New(cfg, reg), srv
}

func TestEmbed_EmptyText_ReturnsZeroVectorWithoutCallingModel(t *testing.T) {
	called := false
	client, srv := newTestClient(t, 4, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer srv.Close()

	vec, err := client.Embed(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
	assert.False(t, called)
}

func TestEmbed_SingleVector_IsL2Normalized(t *testing.T) {
	client, srv := newTestClient(t, 3, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ref-model", req.Model)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{3, 4, 0}})
	})
	defer srv.Close()

	vec, err := client.Embed(t.Context(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 3)
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestEmbed_MeanPoolsMultipleVectors(t *testing.T) {
	client, srv := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{Vectors: [][]float32{{1, 0}, {0, 1}}})
	})
	defer srv.Close()

	vec, err := client.Embed(t.Context(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.7071, vec[0], 1e-3)
	assert.InDelta(t, 0.7071, vec[1], 1e-3)
}

func TestEmbed_DimensionMismatch_Rejected(t *testing.T) {
	client, srv := newTestClient(t, 8, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2, 3}})
	})
	defer srv.Close()

	_, err := client.Embed(t.Context(), "hello world")
	require.Error(t, err)
	assert.Equal(t, entity.KindInvalidData, entity.KindOf(err))
}

func TestGet_ReturnsSameInstance(t *testing.T) {
	cfg := config.EmbedderConfig{BaseURL: "http://127.0.0.1:0", ModelName: "m", Dimension: 4, Timeout: time.Second}
	reg := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	a := Get(cfg, reg)
	b := Get(cfg, reg)
	assert.Same(t, a, b)
}
