// Package embedder implements the enrichment stage's text-embedding
// client (spec.md §4.I, §6 embedding_model_name/embedding_dimension).
// The embedding model is a heavy process-wide resource per spec.md §9's
// "Embedding model ownership" design note, so Get lazily constructs one
// shared *Client guarded by sync.Once and a singleflight.Group, mirroring
// the same pattern internal/breaker.Registry uses for its per-dependency
// breakers.
package embedder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// Client computes mean-pooled, L2-normalized embeddings of a configured
// dimension over HTTP.
type Client struct {
	httpClient *http.Client
	breakers   *breaker.Registry
	cfg        config.EmbedderConfig
}

// New builds a Client directly; most callers should use Get instead so
// the cold-start cost is paid once per process.
func New(cfg config.EmbedderConfig, breakers *breaker.Registry) *Client {
	return &Client{
		cfg:      cfg,
		breakers: breakers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

var (
	singletonOnce sync.Once
	singleton     *Client
	initGroup     singleflight.Group
)

// Get returns the process-wide embedder client, constructing it on the
// first call. Concurrent callers racing the first call block on the same
// construction rather than each building their own *Client.
func Get(cfg config.EmbedderConfig, breakers *breaker.Registry) *Client {
	singletonOnce.Do(func() {
		v, _, _ := initGroup.Do("embedder-singleton", func() (interface{}, error) {
			return New(cfg, breakers), nil
		})
		singleton = v.(*Client)
	})
	return singleton
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32   `json:"embedding"`
	Vectors   [][]float32 `json:"vectors"`
}

// Embed computes a mean-pooled, L2-normalized embedding of text. An
// empty text yields an all-zero vector of the configured dimension
// without calling the model, per spec.md §4.I. A non-empty result whose
// length doesn't match cfg.Dimension is rejected rather than stored.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, c.cfg.Dimension), nil
	}

	result, err := c.breakers.Execute(ctx, breaker.DependencyEmbedder, func(ctx context.Context) (interface{}, error) {
		var vec []float32
		retryErr := retry.WithBackoff(ctx, retry.AIAPIConfig(), func() error {
			v, doErr := c.embedOnce(ctx, text)
			if doErr == nil {
				vec = v
			}
			return doErr
		})
		return vec, retryErr
	})
	if err != nil {
		return nil, classifyError(err)
	}

	vector := result.([]float32)
	if len(vector) != c.cfg.Dimension {
		return nil, entity.NewError(entity.KindInvalidData,
			fmt.Errorf("embedder returned vector of length %d, want %d", len(vector), c.cfg.Dimension))
	}
	return vector, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.cfg.ModelName, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "embed request failed"}
		}
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "embed request failed"}
	}

	if len(out.Vectors) > 0 {
		return meanPoolAndNormalize(out.Vectors), nil
	}
	return normalize(out.Embedding), nil
}

// meanPoolAndNormalize averages a set of token/chunk vectors element-wise
// then L2-normalizes the result, the pooling strategy spec.md §4.I
// specifies for building the stored embedding.
func meanPoolAndNormalize(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			if i < dim {
				mean[i] += float64(x)
			}
		}
	}
	n := float64(len(vectors))
	pooled := make([]float32, dim)
	for i := range mean {
		pooled[i] = float32(mean[i] / n)
	}
	return normalize(pooled)
}

// normalize returns vec scaled to unit L2 norm, leaving an all-zero
// input unchanged (there is no direction to normalize to).
func normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, x := range vec {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return vec
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func classifyError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	var httpErr *retry.HTTPError
	for e := err; e != nil; {
		if he, ok := e.(*retry.HTTPError); ok {
			httpErr = he
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if httpErr != nil && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		return entity.NewError(entity.KindUpstreamRejected, err)
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}
