// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi exposes the review-service HTTP surface (spec §6): it
// composes the source cache (C2), probe (C3), transcoder supervisor (C4),
// HLS session registry (C5), readiness gate (C6), and analysis workers
// (C7) behind chi routes, grounded on the teacher's validate/resolve/
// await/serve HLS-artifact handler shape.
package httpapi

import (
	"net/http"
	"time"

	"github.com/dailyreel/reelgate/internal/analysis"
	"github.com/dailyreel/reelgate/internal/api/middleware"
	"github.com/dailyreel/reelgate/internal/objectstore"
	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/dailyreel/reelgate/internal/sourcecache"
	"github.com/dailyreel/reelgate/internal/transcoder"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the options the router needs beyond its component
// dependencies (spec §6 "Configuration").
type Config struct {
	CacheEnabled       bool
	DefaultSegmentSecs int
	ReadyMinSegments   int
	ReadyTimeout       time.Duration
	AllowedOrigins     []string

	// RateLimitRPS bounds per-client requests/sec to the info and abort
	// routes, guarding against a storm of key switches re-triggering
	// downloads and transcodes. Zero picks the default.
	RateLimitRPS int
}

// Server wires C1-C7 behind the HTTP surface in spec §6.
type Server struct {
	cfg        Config
	store      *objectstore.Client
	cache      *sourcecache.Cache
	prober     *probe.Prober
	supervisor *transcoder.Supervisor
	analysis   *analysis.Worker

	// preflight reports readyz: true once the startup checks (binary
	// availability, cache dir writable) have passed.
	preflight func() error
}

// New builds a Server from its component dependencies.
func New(cfg Config, store *objectstore.Client, cache *sourcecache.Cache, prober *probe.Prober, supervisor *transcoder.Supervisor, analysisWorker *analysis.Worker, preflight func() error) *Server {
	if cfg.DefaultSegmentSecs <= 0 {
		cfg.DefaultSegmentSecs = 10
	}
	if cfg.ReadyMinSegments <= 0 {
		cfg.ReadyMinSegments = 2
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if preflight == nil {
		preflight = func() error { return nil }
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		cache:      cache,
		prober:     prober,
		supervisor: supervisor,
		analysis:   analysisWorker,
		preflight:  preflight,
	}
}

// Handler returns the configured chi router for this server.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		CSP:                   middleware.DefaultCSP,
		EnableMetrics:         true,
		TracingService:        "reelgate-httpapi",
		EnableLogging:         true,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	// Per-route limiter on /info and /abort*: these are the endpoints a
	// client can hammer to re-trigger a download+probe or tear down a live
	// session, so they get a tighter limit than the rest of the surface.
	storm := middleware.APIRateLimit(true, s.cfg.RateLimitRPS, s.cfg.RateLimitRPS, nil)

	r.Route("/video", func(r chi.Router) {
		r.With(storm).Post("/abort-all", s.handleAbortAll)

		r.Route("/{key}", func(r chi.Router) {
			r.With(storm).Get("/info", s.handleInfo)
			r.Get("/playlist.m3u8", s.handlePlaylist)
			r.Get("/segment{seq}.ts", s.handleSegment)
			r.Get("/thumb{seq}.jpg", s.handleThumb)
			r.Get("/thumbnails", s.handleThumbnails)
			r.Get("/waveform", s.handleWaveform)
			r.Get("/ebu-r128", s.handleEBUR128)
			r.Get("/progress", s.handleProgress)
			r.Get("/stream", s.handleStream)
			r.With(storm).Post("/abort", s.handleAbortOne)
		})
	})

	return r
}
