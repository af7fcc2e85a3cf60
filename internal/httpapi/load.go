// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"context"

	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/dailyreel/reelgate/internal/transcoder"
)

// loadOptions parameterizes one load(K) call: the playlist endpoint's
// segmentDuration and goniometer query params (spec §6) flow through here
// so a key switch also re-targets the transcoder with the caller's chosen
// encode shape.
type loadOptions struct {
	SegmentSeconds int
	Goniometer     bool
}

// defaultLoadOptions is used by every endpoint except the playlist one,
// which is the only place these parameters are caller-controlled.
func (s *Server) defaultLoadOptions() loadOptions {
	return loadOptions{SegmentSeconds: s.cfg.DefaultSegmentSecs}
}

// LoadResult is what every endpoint needs after load(K): the probe record
// and the live (or newly started) transcoder session.
type LoadResult struct {
	Probe     *probe.Record
	Session   *transcoder.Session
	LocalPath string
	SignedURL string
}

// load implements the "switch to key K" operation shared by every endpoint
// in spec §6 that has "side effect: calls load(key)": ensure enough of the
// source is local to start decoding, probe it, then (re)target the
// transcoder supervisor at K. Switching away from a different previously
// loaded key is handled inside Supervisor.Start (spec §4.3 "switching
// keys").
func (s *Server) load(ctx context.Context, key string, opts loadOptions) (*LoadResult, error) {
	signedURL, err := s.store.SignedURL(ctx, key)
	if err != nil {
		return nil, err
	}

	segSecs := opts.SegmentSeconds
	if segSecs <= 0 {
		segSecs = s.cfg.DefaultSegmentSecs
	}

	var localPath string
	streaming := false

	if s.cfg.CacheEnabled {
		needSecs := float64(segSecs)
		path, ensureErr := s.cache.Ensure(ctx, key, &needSecs)
		if ensureErr != nil {
			return nil, ensureErr
		}
		localPath = path
		streaming = !s.cache.Progress(key).Complete
	}

	probeIn := probe.Input{Key: key, LocalPath: localPath, SignedURL: signedURL}
	rec, err := s.prober.Probe(ctx, probeIn)
	if err != nil {
		return nil, err
	}

	sess, err := s.supervisor.Start(ctx, transcoder.StartInput{
		Key:            key,
		InputPath:      localPath,
		InputURL:       signedURL,
		Streaming:      streaming,
		SegmentSeconds: segSecs,
		Goniometer:     opts.Goniometer,
		Probe:          rec,
		ReadyMinSeg:    s.cfg.ReadyMinSegments,
		ReadyTimeout:   s.cfg.ReadyTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &LoadResult{Probe: rec, Session: sess, LocalPath: localPath, SignedURL: signedURL}, nil
}

// transcoderStartInput rebuilds the StartInput used to launch key's
// session, for one-shot operations (the preview fragment) that need the
// same input selection without installing a new session.
func transcoderStartInput(key string, res *LoadResult) transcoder.StartInput {
	return transcoder.StartInput{
		Key:       key,
		InputPath: res.LocalPath,
		InputURL:  res.SignedURL,
		Probe:     res.Probe,
	}
}
