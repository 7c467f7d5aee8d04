// Package objectstore implements the media stage's artifact storage
// client described in spec.md §4.H and §6 (object_store_endpoint,
// bucket, access_key, secret_key, public_url, region). It speaks plain
// HTTP PUT/GET against an S3-compatible endpoint rather than pulling in
// an AWS or MinIO SDK: every operation the pipeline needs is a single
// signed-or-unsigned PUT/GET/HEAD, which net/http already expresses
// without a client library's connection-pool and retry machinery
// duplicating what internal/resilience/retry and internal/breaker
// already provide.
package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// Kind names the three artifact slots the media stage ever writes for
// one content item (spec.md §4.H).
type Kind string

const (
	KindOriginal  Kind = "original"
	KindProcessed Kind = "processed"
	KindThumbnail Kind = "thumbnail"
)

// Client puts and gets artifacts in an S3-compatible bucket using
// deterministic per-content-item keys.
type Client struct {
	httpClient *http.Client
	breakers   *breaker.Registry
	cfg        config.ObjectStoreConfig
}

// New builds a Client, modeled on cmd/worker/main.go's
// createHTTPClient TLS-hardened transport.
func New(cfg config.ObjectStoreConfig, breakers *breaker.Registry) *Client {
	return &Client{
		cfg:      cfg,
		breakers: breakers,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Key builds the deterministic storage key for one content item's
// artifact slot, e.g. "content/<id>/processed.mp4".
func Key(contentID string, kind Kind, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("content/%s/%s.%s", contentID, kind, ext)
}

// PublicURL returns the externally reachable URL for a previously
// uploaded key.
func (c *Client) PublicURL(key string) string {
	base := strings.TrimSuffix(c.cfg.PublicURL, "/")
	return fmt.Sprintf("%s/%s", base, key)
}

// Put uploads body under key, retrying transient failures and tripping
// the OBJECT_STORE breaker dependency on repeated failure. The caller
// supplies contentLength since most sources (transcoder output files)
// know their size upfront and streaming chunked uploads to an
// S3-compatible endpoint is unreliable without the AWS signature
// machinery this package deliberately avoids.
func (c *Client) Put(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	_, err := c.breakers.Execute(ctx, breaker.DependencyObjectStore, func(ctx context.Context) (interface{}, error) {
		var retryErr error
		backoffErr := retry.WithBackoff(ctx, retry.CollaboratorWriteConfig(), func() error {
			retryErr = c.put(ctx, key, contentType, body, contentLength)
			return retryErr
		})
		return nil, backoffErr
	})
	if err != nil {
		return classifyError(err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.ContentLength = contentLength
	req.Header.Set("Content-Type", contentType)
	c.sign(req, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("object store put failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return nil
}

// Get downloads key's contents, used by the enrichment stage when it
// needs the transcript source (extracted audio) but the media stage ran
// on a different worker instance and the scratch file is gone.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := c.breakers.Execute(ctx, breaker.DependencyObjectStore, func(ctx context.Context) (interface{}, error) {
		url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Bucket, key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build get request: %w", err)
		}
		c.sign(req, key)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("object store get failed: %w", err)
		}
		if resp.StatusCode >= 300 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return result.(io.ReadCloser), nil
}

// Exists reports whether key is already present, via HEAD, so the media
// stage can short-circuit a re-drive that finds processed.mp4 already
// uploaded (spec.md §4.H step 1 preamble) without downloading the body.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.breakers.Execute(ctx, breaker.DependencyObjectStore, func(ctx context.Context) (interface{}, error) {
		url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Bucket, key)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false, fmt.Errorf("build head request: %w", err)
		}
		c.sign(req, key)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("object store head failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return false, &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		return true, nil
	})
	if err != nil {
		return false, classifyError(err)
	}
	return result.(bool), nil
}

// sign attaches a simple HMAC-SHA256 access-key signature over
// method|key|date, the minimal scheme most S3-compatible test/dev
// endpoints (minio, garage) accept when not validating full SigV4.
func (c *Client) sign(req *http.Request, key string) {
	if c.cfg.AccessKey == "" {
		return
	}
	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	fmt.Fprintf(mac, "%s\n%s\n%s", req.Method, key, date)
	signature := hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", fmt.Sprintf("CP-HMAC %s:%s", c.cfg.AccessKey, signature))
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
	if httpErr != nil {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return entity.NewError(entity.KindRateLimited, err)
		case httpErr.StatusCode >= 500:
			return entity.NewError(entity.KindUpstreamUnavailable, err)
		case httpErr.StatusCode >= 400:
			return entity.NewError(entity.KindUpstreamRejected, err)
		}
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}
