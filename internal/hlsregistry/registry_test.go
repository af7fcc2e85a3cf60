// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hlsregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetEvict(t *testing.T) {
	r := New()
	_, ok := r.Get("movies/one.mp4")
	require.False(t, ok)

	r.Put("movies/one.mp4", &Session{Key: "movies/one.mp4", WorkDir: "/tmp/one"})
	s, ok := r.Get("movies/one.mp4")
	require.True(t, ok)
	require.Equal(t, "/tmp/one", s.WorkDir)

	r.Evict("movies/one.mp4")
	_, ok = r.Get("movies/one.mp4")
	require.False(t, ok)
}

func TestIsActiveReflectsPresence(t *testing.T) {
	r := New()
	require.False(t, r.IsActive("movies/one.mp4"))
	r.Put("movies/one.mp4", &Session{Key: "movies/one.mp4"})
	require.True(t, r.IsActive("movies/one.mp4"))
}

func TestListSnapshotIsIndependentOfLiveMap(t *testing.T) {
	r := New()
	r.Put("a", &Session{Key: "a"})
	r.Put("b", &Session{Key: "b"})
	list := r.List()
	require.Len(t, list, 2)
	r.Evict("a")
	require.Len(t, list, 2) // snapshot unaffected by subsequent mutation
}

func TestMarkReady(t *testing.T) {
	r := New()
	r.Put("a", &Session{Key: "a"})
	r.MarkReady("a")
	s, _ := r.Get("a")
	require.True(t, s.Ready)
}
