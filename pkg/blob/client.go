package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/security"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 4
)

// Client is an S3-compatible object store client with SigV4 request signing.
type Client struct {
	endpoint *url.URL
	bucket   string
	signer   *Signer
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient creates a blob store client from the S3 configuration.
func NewClient(cfg config.S3Config) (*Client, error) {
	endpoint, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URI %q: %w", cfg.URI, err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("S3 URI scheme must be http or https, got %q", endpoint.Scheme)
	}

	return &Client{
		endpoint: endpoint,
		bucket:   cfg.Bucket,
		signer: &Signer{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Service:   cfg.Service,
		},
		http:   &http.Client{Timeout: requestTimeout},
		logger: log.WithComponent("blob"),
	}, nil
}

// ArchiveKey is the canonical object key for a crate archive.
func ArchiveKey(name, version string) string {
	return fmt.Sprintf("crates/%s/%s-%s.crate", name, name, version)
}

// DocsKey is the object key for one file of a documentation artifact tree.
func DocsKey(name, version, path string) string {
	return fmt.Sprintf("docs/%s/%s/%s", name, version, strings.TrimPrefix(path, "/"))
}

// objectURL builds the path-style URL for an object key.
func (c *Client) objectURL(key string) *url.URL {
	u := *c.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + c.bucket + "/" + key
	return &u
}

// Put uploads an object. The payload is hashed and the hash is both signed
// and sent as x-amz-content-sha256. Content-addressed keys make retries
// idempotent.
func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	payloadHash := security.Sha256Hex(data)
	_, err := c.do(ctx, http.MethodPut, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key).String(), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(data))
		return req, nil
	}, payloadHash)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("uploaded object")
	return nil
}

// Get downloads an object. Missing objects map to a typed not-found.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key).String(), nil)
	}, security.Sha256Hex(nil))
}

// Delete removes an object. Used only by compensating rollback.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.do(ctx, http.MethodDelete, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key).String(), nil)
	}, security.Sha256Hex(nil))
	return err
}

// PresignGet returns a pre-signed download URL for an object.
func (c *Client) PresignGet(key string, expiry time.Duration) string {
	req := &http.Request{URL: c.objectURL(key), Host: c.endpoint.Host, Method: http.MethodGet}
	return c.signer.Presign(req, expiry)
}

// do executes a signed request with bounded retries on transient failures.
// The request is rebuilt per attempt so the body reader is fresh.
func (c *Client) do(ctx context.Context, method string, build func() (*http.Request, error), payloadHash string) ([]byte, error) {
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.BlobRequestDuration, method) }()

	operation := func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Host = c.endpoint.Host
		c.signer.Sign(req, payloadHash)

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection-level failures are transient.
			return nil, apierr.Upstream("blob store unreachable", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apierr.Upstream("blob store read failed", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, backoff.Permanent(apierr.NotFound("object not found"))
		}
		failure := apierr.Upstream(
			fmt.Sprintf("blob store returned %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(body))),
		)
		if transientStatus(resp.StatusCode) {
			return nil, failure
		}
		return nil, backoff.Permanent(failure)
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		metrics.BlobRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	metrics.BlobRequestsTotal.WithLabelValues(method, "ok").Inc()
	return body, nil
}

// transientStatus reports whether a response status is worth retrying:
// 5xx plus the two 4xx statuses that signal throttling or timeouts.
func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}
