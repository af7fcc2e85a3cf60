// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dailyreel/reelgate/internal/analysis"
	"github.com/dailyreel/reelgate/internal/config"
	"github.com/dailyreel/reelgate/internal/hlsregistry"
	"github.com/dailyreel/reelgate/internal/httpapi"
	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/objectstore"
	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/dailyreel/reelgate/internal/sourcecache"
	"github.com/dailyreel/reelgate/internal/transcoder"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logLevel := "info"
	if config.ParseBool("REELGATE_DEBUG", false) {
		logLevel = "debug"
	}
	xglog.Configure(xglog.Config{Level: logLevel, Service: "reelgate", Version: version})
	logger := xglog.WithComponent("reelgated")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(version)

	if cfg.CacheEnabled {
		if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
			logger.Fatal().Err(err).Str("event", "startup.cache_dir_failed").Msg("cache directory is not writable")
		}
	}

	store := objectstore.New(objectstore.Config{
		Endpoint:   cfg.ObjectStore.Endpoint,
		Bucket:     cfg.ObjectStore.Bucket,
		Region:     cfg.ObjectStore.Region,
		AccessKey:  cfg.ObjectStore.AccessKey,
		SecretKey:  cfg.ObjectStore.SecretKey,
		MaxRetries: 3,
	})

	registry := hlsregistry.New()
	supervisor := transcoder.New(cfg.FFmpegPath, cfg.CacheDir, registry)

	if transcoder.HasVAAPIDevice() {
		if err := transcoder.PreflightVAAPI(cfg.FFmpegPath); err != nil {
			logger.Warn().Err(err).Str("event", "startup.vaapi_preflight_failed").Msg("vaapi preflight failed, falling back to software encoder")
		} else {
			logger.Info().Str("event", "startup.vaapi_preflight_passed").Msg("vaapi hardware encoder available")
		}
	}

	prober := probe.New(cfg.FFprobePath, cfg.ProbeCacheTTL)
	analysisWorker := analysis.New(cfg.FFmpegPath, cfg.AnalysisCacheTTL)

	var cache *sourcecache.Cache
	if cfg.CacheEnabled {
		cache = sourcecache.New(cfg.CacheDir, cfg.CacheByteBudget, store, prober, registry.IsActive)
	}

	preflight := func() error {
		if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
			return fmt.Errorf("ffmpeg not resolvable: %w", err)
		}
		if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
			return fmt.Errorf("ffprobe not resolvable: %w", err)
		}
		if cfg.CacheEnabled {
			probeFile, err := os.CreateTemp(cfg.CacheDir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("cache dir not writable: %w", err)
			}
			name := probeFile.Name()
			_ = probeFile.Close()
			_ = os.Remove(name)
		}
		return nil
	}

	srv := httpapi.New(httpapi.Config{
		CacheEnabled:       cfg.CacheEnabled,
		DefaultSegmentSecs: cfg.DefaultSegmentSeconds,
		ReadyMinSegments:   cfg.ReadyMinSegments,
		ReadyTimeout:       cfg.ReadyTimeout,
		AllowedOrigins:     []string{"*"},
	}, store, cache, prober, supervisor, analysisWorker, preflight)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Bool("cache_enabled", cfg.CacheEnabled).
		Msg("starting reelgate")

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Fatal().Err(err).Str("event", "server.failed").Msg("http server failed")
		}
	}

	supervisor.AbortAll()
	if cache != nil {
		cache.AbortAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server exiting")
}
