// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/dailyreel/reelgate/internal/log"
)

// Config is the fully resolved, immutable process configuration. It is
// loaded once at startup and passed by value to every component that needs
// it; nothing in this service watches for configuration changes.
type Config struct {
	// CacheDir is the root of all local artifacts: source copies and
	// live-hls working directories.
	CacheDir string
	// CacheByteBudget is the eviction threshold for the local source cache.
	CacheByteBudget int64
	// CacheEnabled, when false, routes all reads through signed URLs;
	// HLS and analyses still function, at the cost of re-fetching bytes.
	CacheEnabled bool

	// Debug promotes debug-level log lines.
	Debug bool

	// DefaultSegmentSeconds is the HLS target segment length used when a
	// request does not override it.
	DefaultSegmentSeconds int

	// FFmpegPath and FFprobePath override binary lookup on PATH.
	FFmpegPath  string
	FFprobePath string

	// ListenAddr is the HTTP bind address for the review API.
	ListenAddr string

	// ObjectStore holds the S3-compatible object store client configuration.
	ObjectStore ObjectStoreConfig

	// AnalysisCacheTTL is how long waveform/loudness results are memoized.
	AnalysisCacheTTL time.Duration
	// ProbeCacheTTL is how long probe records are memoized.
	ProbeCacheTTL time.Duration

	// ReadyMinSegments and ReadyTimeout parameterize the readiness gate (C6).
	ReadyMinSegments int
	ReadyTimeout     time.Duration

	// SessionTTL is read from REELGATE_SESSION_TTL. It is not passed to the
	// transcoder supervisor, which reclaims working directories after a
	// fixed one hour regardless of this value.
	SessionTTL time.Duration

	// Version is the build version string attached to every log line.
	Version string
}

// ObjectStoreConfig configures the signed-URL/HEAD client (C1).
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

const (
	defaultCacheDir          = "/var/lib/reelgate/cache"
	defaultCacheByteBudget   = 10 << 30 // 10 GiB
	defaultSegmentSeconds    = 10
	defaultListenAddr        = ":8080"
	defaultAnalysisCacheTTL  = time.Hour
	defaultProbeCacheTTL     = time.Hour
	defaultReadyMinSegments  = 2
	defaultReadyTimeout      = 30 * time.Second
	defaultSessionTTL        = time.Hour
)

// Load resolves a Config from the process environment, logging the source
// of every value it reads. version is the version string supplied by
// cmd/reelgated and is copied into Config.Version unchanged.
func Load(version string) Config {
	cfg := Config{
		CacheDir:              ParseString("REELGATE_CACHE_DIR", defaultCacheDir),
		CacheByteBudget:       ParseInt64("REELGATE_CACHE_BYTES", defaultCacheByteBudget),
		CacheEnabled:          ParseBool("REELGATE_CACHE_ENABLED", true),
		Debug:                 ParseBool("REELGATE_DEBUG", false),
		DefaultSegmentSeconds: ParseInt("REELGATE_SEGMENT_SECONDS", defaultSegmentSeconds),
		FFmpegPath:            ParseString("REELGATE_FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           ParseString("REELGATE_FFPROBE_PATH", "ffprobe"),
		ListenAddr:            ParseString("REELGATE_LISTEN_ADDR", defaultListenAddr),
		ObjectStore: ObjectStoreConfig{
			Endpoint:  ParseString("REELGATE_S3_ENDPOINT", ""),
			Bucket:    ParseString("REELGATE_S3_BUCKET", ""),
			Region:    ParseString("REELGATE_S3_REGION", "us-east-1"),
			AccessKey: ParseString("REELGATE_S3_ACCESS_KEY", ""),
			SecretKey: ParseString("REELGATE_S3_SECRET_KEY", ""),
		},
		AnalysisCacheTTL: ParseDuration("REELGATE_ANALYSIS_TTL", defaultAnalysisCacheTTL),
		ProbeCacheTTL:    ParseDuration("REELGATE_PROBE_TTL", defaultProbeCacheTTL),
		ReadyMinSegments: ParseInt("REELGATE_READY_MIN_SEGMENTS", defaultReadyMinSegments),
		ReadyTimeout:     ParseDuration("REELGATE_READY_TIMEOUT", defaultReadyTimeout),
		SessionTTL:       ParseDuration("REELGATE_SESSION_TTL", defaultSessionTTL),
		Version:          version,
	}

	log.WithComponent("config").Info().
		Str("cache_dir", cfg.CacheDir).
		Int64("cache_byte_budget", cfg.CacheByteBudget).
		Bool("cache_enabled", cfg.CacheEnabled).
		Int("default_segment_seconds", cfg.DefaultSegmentSeconds).
		Str("listen_addr", cfg.ListenAddr).
		Str("s3_endpoint", cfg.ObjectStore.Endpoint).
		Str("s3_bucket", cfg.ObjectStore.Bucket).
		Msg("configuration loaded")

	return cfg
}
