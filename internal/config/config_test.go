// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load("test-version")

	require.Equal(t, defaultCacheDir, cfg.CacheDir)
	assert.EqualValues(t, defaultCacheByteBudget, cfg.CacheByteBudget)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, defaultSegmentSeconds, cfg.DefaultSegmentSeconds)
	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, time.Hour, cfg.AnalysisCacheTTL)
	assert.Equal(t, defaultReadyMinSegments, cfg.ReadyMinSegments)
	assert.Equal(t, "test-version", cfg.Version)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("REELGATE_CACHE_DIR", "/tmp/review-cache")
	t.Setenv("REELGATE_SEGMENT_SECONDS", "6")
	t.Setenv("REELGATE_CACHE_ENABLED", "false")
	t.Setenv("REELGATE_S3_BUCKET", "review-bucket")

	cfg := Load("test-version")

	assert.Equal(t, "/tmp/review-cache", cfg.CacheDir)
	assert.Equal(t, 6, cfg.DefaultSegmentSeconds)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, "review-bucket", cfg.ObjectStore.Bucket)
}
