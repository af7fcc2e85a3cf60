// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcoder owns the per-key long-lived ffmpeg child that
// produces a growing HLS playlist, segment files, and thumbnails (C4). Its
// exactly-once-per-key supervision is grounded on the teacher's vod.Manager
// run-registry, generalized from one-shot VOD remux jobs to long-running
// live sessions with a readiness gate and TTL reclaim.
package transcoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dailyreel/reelgate/internal/hlsregistry"
	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/dailyreel/reelgate/internal/readiness"
	"github.com/dailyreel/reelgate/internal/reviewerr"
	"github.com/dailyreel/reelgate/internal/telemetry"
)

const (
	defaultSessionTTL  = time.Hour
	abortGraceTimeout  = 2 * time.Second
	abortRemovalDelay  = 5 * time.Second
	defaultThumbFrames = 60
)

// Session is one key's live supervision handle.
type Session struct {
	Key            string
	WorkDir        string
	SegmentSeconds int
	StartedAt      time.Time
	Ready          bool

	cancel    context.CancelFunc
	proc      *runningProcess
	thumbProc *runningProcess
	ttlTimer  *time.Timer

	mu   sync.Mutex
	done chan struct{}
}

// Supervisor runs at most one ffmpeg child per key, per spec §5's ordering
// guarantee, with purge-on-restart working directories and a bounded
// readiness wait before installation.
type Supervisor struct {
	ffmpegPath string
	cacheDir   string
	registry   *hlsregistry.Registry

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Supervisor rooted at cacheDir, invoking ffmpegPath (or
// "ffmpeg" from PATH when empty) for every session. registry is the
// process-wide C5 table; the supervisor keeps it in sync with its own
// lifecycle so other components (the source cache's eviction guard, the
// HTTP layer) can query "is key live" without reaching into transcoder
// internals.
func New(ffmpegPath, cacheDir string, registry *hlsregistry.Registry) *Supervisor {
	return &Supervisor{
		ffmpegPath: ffmpegPath,
		cacheDir:   cacheDir,
		registry:   registry,
		sessions:   make(map[string]*Session),
	}
}

// Registry returns the C5 session registry this supervisor keeps in sync.
func (s *Supervisor) Registry() *hlsregistry.Registry {
	return s.registry
}

// StartInput is everything the supervisor needs to (re)target a key,
// mirroring spec §9's "explicit configuration, not ad-hoc options bag".
type StartInput struct {
	Key            string
	InputPath      string
	InputURL       string
	Streaming      bool
	SegmentSeconds int
	Goniometer     bool
	Probe          *probe.Record
	ReadyMinSeg    int
	ReadyTimeout   time.Duration
}

// Start (re)targets the supervisor at key: if a live session already
// exists for a *different* key, it is aborted first (spec §4.3 "switching
// keys"); if a session already exists for the *same* key, it is returned
// unchanged whether or not its process is still running.
func (s *Supervisor) Start(ctx context.Context, in StartInput) (*Session, error) {
	s.mu.Lock()
	stale := make([]*Session, 0, 1)
	for key, sess := range s.sessions {
		if key != in.Key {
			stale = append(stale, sess)
			delete(s.sessions, key)
		}
	}
	existing, ok := s.sessions[in.Key]
	s.mu.Unlock()

	// abortLocked blocks up to abortGraceTimeout waiting on the old
	// session's process exit; it must run with s.mu released so a key
	// switch doesn't stall every other Get/Start/Abort call in the
	// meantime.
	for _, sess := range stale {
		s.abortLocked(sess)
	}

	if ok {
		return existing, nil
	}

	return s.launch(ctx, in)
}

func (s *Supervisor) launch(ctx context.Context, in StartInput) (*Session, error) {
	_, span := telemetry.Tracer("transcoder").Start(ctx, "transcoder.launch")
	defer span.End()

	workDir := WorkDirFor(s.cacheDir, in.Key)
	if err := PurgeAndCreate(workDir); err != nil {
		return nil, reviewerr.Wrap(reviewerr.ErrIOError, "transcoder_start", in.Key, err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	bin := s.ffmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	encoder := SelectEncoderPath()
	args := BuildLiveArgs(Options{
		InputPath:      in.InputPath,
		InputURL:       in.InputURL,
		Streaming:      in.Streaming,
		WorkDir:        workDir,
		SegmentSeconds: in.SegmentSeconds,
		Goniometer:     in.Goniometer,
		Encoder:        encoder,
		Probe:          in.Probe,
	})

	inputCodec := ""
	if in.Probe != nil && in.Probe.Video != nil {
		inputCodec = in.Probe.Video.Codec
	}
	span.SetAttributes(telemetry.TranscodeAttributes(inputCodec, "h264", string(encoder), encoder == EncoderVAAPI)...)

	logger := xglog.WithComponent("transcoder")
	logger.Info().Str("key", in.Key).Str("encoder", string(encoder)).Msg("starting transcoder session")

	start := time.Now()
	proc := spawn(sessionCtx, bin, args, in.Key)
	metrics.TranscoderSessionsStarted.WithLabelValues(string(encoder)).Inc()
	metrics.TranscoderSessionsActive.Inc()

	thumbProc := s.launchThumbnails(sessionCtx, bin, in, workDir, encoder)

	sess := &Session{
		Key:            in.Key,
		WorkDir:        workDir,
		SegmentSeconds: in.SegmentSeconds,
		StartedAt:      start,
		cancel:         cancel,
		proc:           proc,
		thumbProc:      thumbProc,
		done:           make(chan struct{}),
	}

	minSeg := in.ReadyMinSeg
	if minSeg <= 0 {
		minSeg = 2
	}
	readyTimeout := in.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}
	expectedTotal := 0
	if in.Probe != nil && in.Probe.DurationSeconds > 0 && in.SegmentSeconds > 0 {
		expectedTotal = int(in.Probe.DurationSeconds/float64(in.SegmentSeconds)) + 1
	}

	readyCh := make(chan readiness.Result, 1)
	go func() {
		readyCh <- readiness.Wait(readiness.Options{
			WorkDir:       workDir,
			MinSegments:   minSeg,
			Timeout:       readyTimeout,
			ExpectedTotal: expectedTotal,
		})
	}()

	select {
	case res := <-readyCh:
		metrics.TranscoderStartupDuration.Observe(time.Since(start).Seconds())
		if res.ContiguousCount == 0 {
			tail := proc.stderrTailString()
			cancel()
			metrics.TranscoderSessionsActive.Dec()
			metrics.TranscoderErrors.WithLabelValues("startup", "no_segments").Inc()
			return nil, reviewerr.Wrap(reviewerr.ErrTranscodeStartupFailed, "transcoder_start", in.Key, fmt.Errorf("no segments after readiness wait: %s", tail))
		}
		sess.Ready = true
	case <-time.After(readyTimeout + 5*time.Second):
		// Belt-and-braces: readiness.Wait never fails, but guard against a
		// pathological stall in the poll goroutine itself.
		sess.Ready = false
	}

	s.mu.Lock()
	s.sessions[in.Key] = sess
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.Put(in.Key, &hlsregistry.Session{
			Key:            sess.Key,
			WorkDir:        sess.WorkDir,
			SegmentSeconds: sess.SegmentSeconds,
			StartedAt:      sess.StartedAt,
			Ready:          sess.Ready,
			Cancel:         cancel,
		})
		if sess.Ready {
			s.registry.MarkReady(in.Key)
		}
	}

	s.armTTL(sess)
	go s.awaitExit(sess)

	return sess, nil
}

// launchThumbnails spawns the one-shot thumbnail-sampling ffmpeg process
// (spec §4.3 item 7 / §4.7) as a second process alongside the main HLS
// child, sharing sessionCtx so Abort/TTL teardown kills both together. A
// spawn failure here is logged and otherwise ignored: thumbnail generation
// never gates session readiness.
func (s *Supervisor) launchThumbnails(sessionCtx context.Context, bin string, in StartInput, workDir string, encoder EncoderPath) *runningProcess {
	maxFrames := defaultThumbFrames
	if in.Probe != nil && in.Probe.DurationSeconds > 0 && in.SegmentSeconds > 0 {
		if n := int(in.Probe.DurationSeconds/float64(in.SegmentSeconds)) + 1; n > 0 {
			maxFrames = n
		}
	}

	args := BuildThumbnailArgs(Options{
		InputPath:      in.InputPath,
		InputURL:       in.InputURL,
		Streaming:      in.Streaming,
		WorkDir:        workDir,
		SegmentSeconds: in.SegmentSeconds,
		Encoder:        encoder,
		Probe:          in.Probe,
	}, maxFrames)

	proc := spawn(sessionCtx, bin, args, in.Key+":thumb")
	go func() {
		if err := proc.wait(); err != nil && sessionCtx.Err() == nil {
			xglog.WithComponent("transcoder").Warn().Str("key", in.Key).Err(err).Msg("thumbnail generation failed")
		}
	}()
	return proc
}

func (s *Supervisor) armTTL(sess *Session) {
	sess.ttlTimer = time.AfterFunc(defaultSessionTTL, func() {
		s.Abort(sess.Key)
	})
}

// awaitExit logs the process's terminal error (if any) and marks the
// session done, per spec §4.3's "failures after readiness are logged but
// not retried" rule.
func (s *Supervisor) awaitExit(sess *Session) {
	err := sess.proc.wait()
	metrics.TranscoderSessionsActive.Dec()
	close(sess.done)

	logger := xglog.WithComponent("transcoder")
	if err != nil {
		metrics.TranscoderErrors.WithLabelValues("runtime", "exit").Inc()
		logger.Warn().Str("key", sess.Key).Err(err).Msg("transcoder session exited")
	} else {
		logger.Info().Str("key", sess.Key).Msg("transcoder session exited cleanly")
	}
}

// Get returns the session for key, if any.
func (s *Supervisor) Get(key string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// Abort tears down the session for key: graceful terminate, 2s grace, then
// kill; working-directory removal is deferred to allow the child to
// release file handles (spec §4.3 "Abort").
func (s *Supervisor) Abort(key string) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.abortLocked(sess)
}

func (s *Supervisor) abortLocked(sess *Session) {
	if sess.ttlTimer != nil {
		sess.ttlTimer.Stop()
	}
	sess.cancel()

	select {
	case <-sess.done:
	case <-time.After(abortGraceTimeout):
	}

	xglog.AuditInfo(context.Background(), "transcoder.abort", "session aborted", map[string]any{"key": sess.Key})

	if s.registry != nil {
		s.registry.Evict(sess.Key)
	}

	time.AfterFunc(abortRemovalDelay, func() {
		removeWorkDirIfIdle(sess.WorkDir)
	})
}

// AbortAll iterates every session and aborts it, per spec §5 "abort_all".
func (s *Supervisor) AbortAll() int {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		s.abortLocked(sess)
	}
	return len(sessions)
}
