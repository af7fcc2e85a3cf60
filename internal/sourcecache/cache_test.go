// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sourcecache

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	body []byte
}

type nopReadCloser struct {
	io.Reader
}

func (nopReadCloser) Close() error { return nil }

func (f *fakeStore) Get(ctx context.Context, key string, rangeStart int64) (readCloser, int64, error) {
	return nopReadCloser{bytes.NewReader(f.body[rangeStart:])}, int64(len(f.body)), nil
}

type fakeBitrate struct{ bps int64 }

func (f *fakeBitrate) BestBitrateForKey(ctx context.Context, key, localPath string) int64 {
	return f.bps
}

func TestEnsureDownloadsFullFileWhenNoNeedSecs(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("a"), 1<<20)
	store := &fakeStore{body: payload}
	c := New(dir, int64(100<<20), store, &fakeBitrate{bps: 8_000_000}, nil)

	path, err := c.Ensure(context.Background(), "movies/one.mp4", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestEnsureComputesDeterministicLocalPath(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, int64(100<<20), &fakeStore{body: []byte("x")}, &fakeBitrate{bps: 8_000_000}, nil)

	p1 := c.LocalPath("movies/one.mp4")
	p2 := c.LocalPath("movies/one.mp4")
	require.Equal(t, p1, p2)
	require.Equal(t, ".mp4", filepath.Ext(p1))
	require.True(t, filepath.IsAbs(p1) || filepath.Dir(p1) == dir)
}

func TestProgressReflectsCompletedEntry(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("b"), 2048)
	store := &fakeStore{body: payload}
	c := New(dir, int64(100<<20), store, &fakeBitrate{bps: 8_000_000}, nil)

	_, err := c.Ensure(context.Background(), "movies/two.mp4", nil)
	require.NoError(t, err)

	prog := c.Progress("movies/two.mp4")
	require.True(t, prog.Complete)
	require.Equal(t, int64(len(payload)), prog.BytesHave)
}

func TestEvictLRUSkipsSessionBackedEntries(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("c"), 1<<20)

	protected := "movies/protected.mp4"
	sessionBacked := func(key string) bool { return key == protected }

	c := New(dir, int64(1<<20), &fakeStore{body: payload}, &fakeBitrate{bps: 8_000_000}, sessionBacked)

	_, err := c.Ensure(context.Background(), protected, nil)
	require.NoError(t, err)

	c.mu.Lock()
	c.entries["movies/other.mp4"] = &Entry{
		Key:          "movies/other.mp4",
		LocalPath:    c.LocalPath("movies/other.mp4"),
		Size:         int64(len(payload)),
		Total:        int64(len(payload)),
		LastAccessAt: time.Now().Add(-time.Hour),
	}
	c.mu.Unlock()
	require.NoError(t, os.WriteFile(c.LocalPath("movies/other.mp4"), payload, 0o644))

	c.EvictLRU()

	c.mu.Lock()
	_, stillHasProtected := c.entries[protected]
	_, stillHasOther := c.entries["movies/other.mp4"]
	c.mu.Unlock()

	require.True(t, stillHasProtected)
	require.False(t, stillHasOther)
}

func TestAbortCancelsInFlightDownload(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, int64(100<<20), &fakeStore{body: []byte("z")}, &fakeBitrate{bps: 8_000_000}, nil)

	c.mu.Lock()
	_, cancel := context.WithCancel(context.Background())
	task := newDownloadTask("movies/three.mp4", cancel)
	c.downloads["movies/three.mp4"] = task
	c.mu.Unlock()

	c.Abort("movies/three.mp4")

	select {
	case <-task.done:
		t.Fatal("abort must not itself close done; only the running download's finish() should")
	default:
	}
}
