// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objectstore is a thin client for an S3-compatible object store:
// signed-URL issuance, HEAD metadata, and ranged GET streaming. It mirrors
// the hardened-transport shape of the openwebif client (retry/backoff,
// error classification, circuit breaker) but speaks to a storage backend
// instead of a receiver.
package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/dailyreel/reelgate/internal/resilience"
	"github.com/dailyreel/reelgate/internal/reviewerr"
	"golang.org/x/time/rate"
)

// Config describes the S3-compatible endpoint this client targets.
type Config struct {
	Endpoint  string // e.g. "https://s3.us-east-1.amazonaws.com" or a MinIO host
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string

	// HTTPTimeout bounds a single request attempt (not the whole download).
	HTTPTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	// SignedURLRPS and SignedURLBurst bound how fast this process issues
	// presigned URLs against the upstream store; zero picks the default.
	SignedURLRPS   float64
	SignedURLBurst int
}

// Metadata is the result of a HEAD request against an object.
type Metadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  time.Time
}

// Client issues signed URLs and performs HEAD/GET against the object store.
type Client struct {
	cfg        Config
	hc         *http.Client
	cb         *resilience.CircuitBreaker
	urlLimiter *rate.Limiter
}

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultMaxRetries  = 3
	defaultBackoff     = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second

	// SignedURLExpiry is the fixed presign TTL used by ensure() and probe(),
	// per spec §4.1.
	SignedURLExpiry = time.Hour

	defaultSignedURLRPS   = 20
	defaultSignedURLBurst = 20
)

// New builds a Client from cfg, filling in defaults for zero-value timing
// fields.
func New(cfg Config) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.SignedURLRPS <= 0 {
		cfg.SignedURLRPS = defaultSignedURLRPS
	}
	if cfg.SignedURLBurst <= 0 {
		cfg.SignedURLBurst = defaultSignedURLBurst
	}
	return &Client{
		cfg:        cfg,
		hc:         &http.Client{Timeout: cfg.HTTPTimeout},
		cb:         resilience.NewCircuitBreaker("objectstore", 5, 5, 30*time.Second, 30*time.Second),
		urlLimiter: rate.NewLimiter(rate.Limit(cfg.SignedURLRPS), cfg.SignedURLBurst),
	}
}

// SignedURL returns a presigned GET URL for key, valid for SignedURLExpiry.
// It uses AWS SigV4 query-string signing, compatible with AWS S3 and
// MinIO/Ceph-RGW style S3-compatible stores. Issuance is token-bucket
// limited (SignedURLRPS/SignedURLBurst) to protect the upstream store from
// a burst of key switches the way the teacher's receiver-box client
// throttles command issuance.
func (c *Client) SignedURL(ctx context.Context, key string) (string, error) {
	if err := c.urlLimiter.Wait(ctx); err != nil {
		return "", reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "presign", key, err)
	}
	return c.presign(http.MethodGet, key, SignedURLExpiry)
}

// Head retrieves object metadata without downloading the body.
func (c *Client) Head(ctx context.Context, key string) (Metadata, error) {
	u, err := c.presign(http.MethodHead, key, 5*time.Minute)
	if err != nil {
		return Metadata{}, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "head", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return Metadata{}, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "head", key, err)
	}

	resp, err := c.doWithRetry(ctx, req, "head", key)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	meta := Metadata{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        strings.Trim(resp.Header.Get("ETag"), `"`),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			meta.ContentLength = n
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = t
		}
	}
	return meta, nil
}

// Get opens a streaming GET of key, optionally resuming from byte offset
// rangeStart. The caller owns the returned body and must close it. The
// response's Content-Length header reflects the remaining bytes from
// rangeStart, not the full object size.
func (c *Client) Get(ctx context.Context, key string, rangeStart int64) (io.ReadCloser, int64, error) {
	u, err := c.presign(http.MethodGet, key, SignedURLExpiry)
	if err != nil {
		return nil, 0, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "get", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "get", key, err)
	}
	if rangeStart > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
	}

	resp, err := c.doWithRetry(ctx, req, "get", key)
	if err != nil {
		return nil, 0, err
	}

	total := resp.ContentLength
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx != -1 {
			if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				total = n
			}
		}
	} else if total >= 0 {
		total += rangeStart
	}
	return resp.Body, total, nil
}

// doWithRetry executes req with bounded retries, circuit breaking, and
// status→sentinel classification, the same shape as the openwebif client's
// doGet/backoffDuration/shouldRetry/classifyError chain.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, operation, key string) (*http.Response, error) {
	if !c.cb.AllowRequest() {
		metrics.ObjectStoreRequestsTotal.WithLabelValues(operation, "circuit_open").Inc()
		return nil, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, operation, key, resilience.ErrCircuitOpen)
	}
	c.cb.RecordAttempt()

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		start := time.Now()
		resp, err := c.hc.Do(req.Clone(ctx))
		dur := time.Since(start)
		metrics.ObjectStoreRequestDuration.WithLabelValues(operation).Observe(dur.Seconds())

		if err != nil {
			lastErr = err
			if shouldRetry(0, err) && attempt < c.cfg.MaxRetries {
				metrics.ObjectStoreRetries.WithLabelValues(operation).Inc()
				c.sleepBackoff(ctx, attempt)
				continue
			}
			c.cb.RecordTechnicalFailure()
			metrics.ObjectStoreRequestsTotal.WithLabelValues(operation, classifyError(err, 0)).Inc()
			return nil, wrapStoreError(operation, key, err, 0)
		}

		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
			c.cb.RecordSuccess()
			metrics.ObjectStoreRequestsTotal.WithLabelValues(operation, "ok").Inc()
			return resp, nil
		}

		_ = resp.Body.Close()
		if shouldRetry(resp.StatusCode, nil) && attempt < c.cfg.MaxRetries {
			metrics.ObjectStoreRetries.WithLabelValues(operation).Inc()
			c.sleepBackoff(ctx, attempt)
			continue
		}

		c.cb.RecordTechnicalFailure()
		metrics.ObjectStoreRequestsTotal.WithLabelValues(operation, classifyError(nil, resp.StatusCode)).Inc()
		return nil, wrapStoreError(operation, key, nil, resp.StatusCode)
	}

	return nil, wrapStoreError(operation, key, lastErr, lastStatus)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	d := c.backoffDuration(attempt)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	factor := 1 << (attempt - 1)
	d := time.Duration(factor) * c.cfg.Backoff
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

func classifyError(err error, status int) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return "timeout"
			}
			return "network"
		}
		return "error"
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "credential"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	default:
		return "unknown"
	}
}

// wrapStoreError maps a transport error or HTTP status into the reviewerr
// sentinel kinds per spec §7.
func wrapStoreError(operation, key string, err error, status int) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return reviewerr.Wrap(reviewerr.ErrTimeout, operation, key, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return reviewerr.Wrap(reviewerr.ErrTimeout, operation, key, err)
		}
		return reviewerr.Wrap(reviewerr.ErrSourceUnavailable, operation, key, err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return reviewerr.Wrap(reviewerr.ErrCredentialError, operation, key, fmt.Errorf("status %d", status))
	case status == http.StatusNotFound:
		return reviewerr.Wrap(reviewerr.ErrNotFound, operation, key, fmt.Errorf("status %d", status))
	default:
		return reviewerr.Wrap(reviewerr.ErrSourceUnavailable, operation, key, fmt.Errorf("status %d", status))
	}
}

// presign builds an AWS SigV4 query-string-signed URL for method and key,
// valid for ttl. This implements the subset of SigV4 needed for GET/HEAD
// against path-style or virtual-hosted S3-compatible endpoints; it does not
// sign a request body (none is sent for GET/HEAD).
func (c *Client) presign(method, key string, ttl time.Duration) (string, error) {
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	region := c.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	credentialScope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, region)
	credential := fmt.Sprintf("%s/%s", c.cfg.AccessKey, credentialScope)

	host := endpoint.Host
	canonicalURI := "/" + strings.TrimPrefix(c.cfg.Bucket, "/") + "/" + strings.TrimPrefix(key, "/")

	query := url.Values{}
	query.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	query.Set("X-Amz-Credential", credential)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")

	canonicalQuery := canonicalQueryString(query)
	canonicalHeaders := "host:" + host + "\n"
	payloadHash := "UNSIGNED-PAYLOAD"

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		"host",
		payloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hashHex(canonicalRequest),
	}, "\n")

	signingKey := signingKey(c.cfg.SecretKey, dateStamp, region, "s3")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	query.Set("X-Amz-Signature", signature)

	result := &url.URL{
		Scheme:   endpoint.Scheme,
		Host:     host,
		Path:     canonicalURI,
		RawQuery: query.Encode(),
	}
	return result.String(), nil
}

func canonicalQueryString(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v.Get(k)))
	}
	return strings.Join(parts, "&")
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func signingKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
