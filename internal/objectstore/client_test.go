// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objectstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dailyreel/reelgate/internal/reviewerr"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	return New(Config{
		Endpoint:    endpoint,
		Bucket:      "reviews",
		Region:      "us-east-1",
		AccessKey:   "AKIAEXAMPLE",
		SecretKey:   "secret",
		HTTPTimeout: time.Second,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
	})
}

func TestSignedURLIncludesRequiredQueryParams(t *testing.T) {
	c := testClient(t, "https://s3.example.com")
	raw, err := c.SignedURL(context.Background(), "videos/asset-1.mp4")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/reviews/videos/asset-1.mp4", u.Path)

	q := u.Query()
	require.Equal(t, "AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	require.NotEmpty(t, q.Get("X-Amz-Signature"))
	require.NotEmpty(t, q.Get("X-Amz-Credential"))
	require.Equal(t, "3600", q.Get("X-Amz-Expires"))
}

func TestHeadMapsNotFoundToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Head(context.Background(), "missing.mp4")
	require.Error(t, err)
	require.True(t, errors.Is(err, reviewerr.ErrNotFound))
}

func TestHeadMapsForbiddenToCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Head(context.Background(), "asset.mp4")
	require.Error(t, err)
	require.True(t, errors.Is(err, reviewerr.ErrCredentialError))
}

func TestGetRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	body, total, err := c.Get(context.Background(), "asset.mp4", 0)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	require.Equal(t, int64(5), total)
	require.Equal(t, 2, attempts)
}

func TestGetSetsRangeHeaderWhenResuming(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 100-199/200")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	body, total, err := c.Get(context.Background(), "asset.mp4", 100)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	require.True(t, strings.HasPrefix(gotRange, "bytes=100-"))
	require.Equal(t, int64(200), total)
}
