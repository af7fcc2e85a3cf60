// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dailyreel/reelgate/internal/analysis"
	"github.com/dailyreel/reelgate/internal/fsutil"
	"github.com/dailyreel/reelgate/internal/hlsplaylist"
	"github.com/dailyreel/reelgate/internal/reviewerr"
	"github.com/go-chi/chi/v5"
)

// keyFromRequest decodes the percent-encoded {key} path parameter (spec
// §6: "key is percent-encoded so it may contain slashes").
func keyFromRequest(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "key")
	return url.PathUnescape(raw)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}

// handleHealthz is a pure liveness probe: no component is touched.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness via the injected startup preflight (spec
// §6: ffmpeg/ffprobe binaries resolvable, cache dir writable).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.preflight(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleInfo loads key and returns its probe record verbatim (spec §6
// "GET /video/{key}/info").
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	res, err := s.load(r.Context(), key, s.defaultLoadOptions())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Probe)
}

// handlePlaylist implements spec §4.6's playlist-serving flow: ensure a
// session exists for key, wait for it through C6 (done inside load via the
// supervisor's readiness gate), then return the current playlist bytes
// verbatim with no-cache headers.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}

	opts := loadOptions{
		SegmentSeconds: queryInt(r, "segmentDuration", s.cfg.DefaultSegmentSecs),
		Goniometer:     queryBool(r, "goniometer"),
	}
	res, err := s.load(r.Context(), key, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	data, err := hlsplaylist.Read(res.Session.WorkDir)
	if err != nil {
		writeServiceError(w, reviewerr.Wrap(reviewerr.ErrNotFound, "playlist", key, err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// segmentPath validates the {seq} wildcard, builds the expected
// segmentNNN.ts filename, and confines it under workDir via
// fsutil.ConfineRelPath rather than trusting the raw request text for the
// filename itself (spec §8 path-confinement invariant).
func segmentPath(workDir, rawSeq string) (string, error) {
	n, err := strconv.Atoi(rawSeq)
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid segment index %q", rawSeq)
	}
	return fsutil.ConfineRelPath(workDir, fmt.Sprintf("segment%03d.ts", n))
}

func thumbPath(workDir, rawSeq string) (string, error) {
	n, err := strconv.Atoi(rawSeq)
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid thumbnail index %q", rawSeq)
	}
	return fsutil.ConfineRelPath(workDir, fmt.Sprintf("thumb%03d.jpg", n))
}

// handleSegment serves one immutable .ts segment (spec §6 "GET
// /video/{key}/segment{NNN}.ts").
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	sess, ok := s.supervisor.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no active session for key"})
		return
	}
	path, err := segmentPath(sess.WorkDir, chi.URLParam(r, "seq"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

// handleThumb serves one thumbnail JPEG (spec §6 "GET
// /video/{key}/thumb{NNN}.jpg").
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	sess, ok := s.supervisor.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no active session for key"})
		return
	}
	path, err := thumbPath(sess.WorkDir, chi.URLParam(r, "seq"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

type thumbnailEntry struct {
	SegmentIndex int    `json:"segmentIndex"`
	Source       string `json:"source"`
}

// handleThumbnails lists every thumbnail currently on disk for the
// session's working directory (spec §6 "GET /video/{key}/thumbnails").
func (s *Server) handleThumbnails(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	sess, ok := s.supervisor.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no active session for key"})
		return
	}

	entries := make([]thumbnailEntry, 0)
	for i := 0; ; i++ {
		name := fmt.Sprintf("thumb%03d.jpg", i)
		if _, statErr := os.Stat(filepath.Join(sess.WorkDir, name)); statErr != nil {
			break
		}
		entries = append(entries, thumbnailEntry{SegmentIndex: i, Source: name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"thumbnails": entries})
}

// handleWaveform loads key and runs (or returns the memoized) waveform
// extraction (spec §6 "GET /video/{key}/waveform").
func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	res, err := s.load(r.Context(), key, s.defaultLoadOptions())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	n := queryInt(r, "samples", 1000)
	wf, err := s.analysis.Waveform(r.Context(), analysis.Input{
		Key: key, LocalPath: res.LocalPath, SignedURL: res.SignedURL, Probe: res.Probe,
	}, n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleEBUR128 loads key and runs (or returns the memoized) loudness
// extraction over the requested window (spec §6 "GET /video/{key}/ebu-r128").
func (s *Server) handleEBUR128(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	res, err := s.load(r.Context(), key, s.defaultLoadOptions())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	startTime := queryFloat(r, "startTime", 0)
	duration := queryFloat(r, "duration", 10)
	lw, err := s.analysis.LoudnessWindow(r.Context(), analysis.Input{
		Key: key, LocalPath: res.LocalPath, SignedURL: res.SignedURL, Probe: res.Probe,
	}, startTime, duration)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lw)
}

type progressResponse struct {
	Status          string  `json:"status"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	OverallProgress int     `json:"overallProgress"`
	Error           *string `json:"error,omitempty"`
}

// handleProgress reports the download/transcode status machine described
// in spec §6, without triggering load(key) itself: progress reflects
// whatever state other requests (or a prior load) already put the key in.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}

	var dlProgress sourcecacheProgress
	if s.cfg.CacheEnabled {
		p := s.cache.Progress(key)
		dlProgress = sourcecacheProgress{Exists: p.Exists, Have: p.BytesHave, Total: p.BytesTotal, Complete: p.Complete}
	} else {
		dlProgress = sourcecacheProgress{Exists: true, Complete: true}
	}

	sess, haveSess := s.supervisor.Get(key)

	resp := progressResponse{Status: "initializing"}

	switch {
	case !dlProgress.Exists && !haveSess:
		resp.Status = "initializing"
		resp.OverallProgress = 0
	case dlProgress.Exists && !dlProgress.Complete:
		resp.Status = "downloading"
		resp.DownloadedBytes = dlProgress.Have
		resp.TotalBytes = dlProgress.Total
		downloadProgress := 0.0
		if dlProgress.Total > 0 {
			downloadProgress = float64(dlProgress.Have) / float64(dlProgress.Total) * 100
		}
		resp.OverallProgress = int(math.Round(downloadProgress * 0.5))
	case haveSess && sess.Ready:
		resp.Status = "ready"
		resp.OverallProgress = 100
		resp.DownloadedBytes = dlProgress.Have
		resp.TotalBytes = dlProgress.Total
	case haveSess && !sess.Ready:
		resp.Status = "processing"
		resp.DownloadedBytes = dlProgress.Have
		resp.TotalBytes = dlProgress.Total
		processingProgress := processingProgressFor(sess.WorkDir)
		resp.OverallProgress = int(math.Round(50 + processingProgress*0.5))
	case dlProgress.Exists && dlProgress.Complete && !haveSess:
		resp.Status = "downloaded"
		resp.DownloadedBytes = dlProgress.Have
		resp.TotalBytes = dlProgress.Total
		resp.OverallProgress = 50
	}

	writeJSON(w, http.StatusOK, resp)
}

// sourcecacheProgress is the subset of sourcecache.Progress the progress
// endpoint needs, decoupled from the cache package's own zero-value shape.
type sourcecacheProgress struct {
	Exists   bool
	Have     int64
	Total    int64
	Complete bool
}

// processingProgressFor estimates transcode completion from the segment
// count already on disk; a playlist that cannot be read yet reports 0.
func processingProgressFor(workDir string) float64 {
	data, err := hlsplaylist.Read(workDir)
	if err != nil {
		return 0
	}
	truth := hlsplaylist.Extract(data)
	if truth.IsVOD {
		return 100
	}
	// No fixed total is known mid-stream; report steady partial credit
	// that approaches, but never reaches, 100 until Ready flips.
	return math.Min(95, float64(truth.SegmentCount)*10)
}

// handleStream produces a one-shot MP4 fragment starting at query param
// "t" (default 0) for "d" seconds (default 10), per spec §4.9 "preview".
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	res, err := s.load(r.Context(), key, s.defaultLoadOptions())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	start := queryFloat(r, "t", 0)
	dur := queryFloat(r, "d", 10)

	path, err := s.supervisor.RunFragment(r.Context(), transcoderStartInput(key, res), start, dur)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer os.Remove(path)

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

// handleAbortAll cancels every active session and download task (spec §6
// "POST /video/abort-all").
func (s *Server) handleAbortAll(w http.ResponseWriter, r *http.Request) {
	n := s.supervisor.AbortAll()
	if s.cfg.CacheEnabled {
		s.cache.AbortAll()
	}
	writeJSON(w, http.StatusOK, map[string]int{"abortedCount": n})
}

// handleAbortOne cancels the session and download task for one key (spec
// §6 "POST /video/{key}/abort").
func (s *Server) handleAbortOne(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed key"})
		return
	}
	s.supervisor.Abort(key)
	if s.cfg.CacheEnabled {
		s.cache.Abort(key)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}
