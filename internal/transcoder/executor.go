// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	startupGrace = 30 * time.Second
	stallTimeout = 5 * time.Minute
	watchTick    = 5 * time.Second
)

// progress is a point-in-time snapshot parsed from ffmpeg's "-progress
// pipe:1" key=value stream.
type progress struct {
	OutTimeUs int64
	TotalSize int64
	Frame     int64
	Speed     string
}

func (p progress) hasAdvanced(prev progress) bool {
	return p.OutTimeUs > prev.OutTimeUs || p.TotalSize > prev.TotalSize || p.Frame > prev.Frame
}

// runningProcess is a live ffmpeg child with continuously drained stderr
// and a stall watchdog, grounded on the teacher's runFFmpegWithProgress/
// watchFFmpegProgress pair.
type runningProcess struct {
	cmd *exec.Cmd

	stderrTail *ringBuffer

	done chan error
}

// spawn starts bin with args, wiring "-progress pipe:1" the way the
// teacher's executor does, and begins the stderr-draining and stall-watch
// goroutines. The caller must call wait() to collect the final error.
func spawn(ctx context.Context, bin string, args []string, key string) *runningProcess {
	fullArgs := append([]string{"-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, bin, fullArgs...)

	rp := &runningProcess{
		cmd:        cmd,
		stderrTail: newRingBuffer(8 * 1024),
		done:       make(chan error, 1),
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		rp.done <- err
		close(rp.done)
		return rp
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		rp.done <- err
		close(rp.done)
		return rp
	}

	logger := xglog.WithComponent("transcoder").With().Str("key", key).Logger()

	if err := cmd.Start(); err != nil {
		rp.done <- err
		close(rp.done)
		return rp
	}

	progressCh := make(chan progress, 64)
	go func() {
		defer close(progressCh)
		parseProgress(stdout, progressCh)
	}()

	go drainStderr(stderr, rp.stderrTail, logger)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	go rp.watch(ctx, waitDone, progressCh, logger)

	return rp
}

// watch mirrors the teacher's watchFFmpegProgress: it tracks the last time
// progress advanced and kills the process on a stall once past the
// startup grace period.
func (rp *runningProcess) watch(ctx context.Context, waitDone <-chan error, progressCh <-chan progress, logger zerolog.Logger) {
	start := time.Now()
	lastProgressAt := start
	var last progress

	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitDone:
			rp.done <- err
			close(rp.done)
			return

		case <-ctx.Done():
			if rp.cmd.Process != nil {
				_ = rp.cmd.Process.Kill()
			}
			rp.done <- ctx.Err()
			close(rp.done)
			return

		case p, ok := <-progressCh:
			if !ok {
				continue
			}
			if p.hasAdvanced(last) {
				last = p
				lastProgressAt = time.Now()
			}

		case <-ticker.C:
			if time.Since(start) < startupGrace {
				continue
			}
			if time.Since(lastProgressAt) > stallTimeout {
				logger.Error().
					Dur("since_progress", time.Since(lastProgressAt)).
					Int64("last_out_time_us", last.OutTimeUs).
					Str("last_speed", last.Speed).
					Msg("transcoder stalled, killing process")
				metrics.TranscoderErrors.WithLabelValues("stall", "timeout").Inc()
				if rp.cmd.Process != nil {
					_ = rp.cmd.Process.Kill()
				}
			}
		}
	}
}

// wait blocks until the process terminates and returns its error, if any.
func (rp *runningProcess) wait() error { return <-rp.done }

// stderrTailString returns the captured stderr tail for startup-failure
// diagnostics.
func (rp *runningProcess) stderrTailString() string {
	return rp.stderrTail.String()
}

func drainStderr(r io.Reader, tail *ringBuffer, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Write(line)
		if isNotableFFmpegLine(line) {
			logger.Debug().Str("ffmpeg", line).Msg("transcoder stderr")
		}
	}
}

// isNotableFFmpegLine filters the high-volume per-frame chatter down to
// segment/thumbnail open-close markers worth a debug log line.
func isNotableFFmpegLine(line string) bool {
	return strings.Contains(line, "Opening") || strings.Contains(line, "segment") || strings.Contains(line, "error") || strings.Contains(line, "Error")
}

func parseProgress(r io.Reader, ch chan<- progress) {
	scanner := bufio.NewScanner(r)
	var current progress

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch key {
		case "out_time_us":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "frame":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.Frame = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			ch <- current
		}
	}
}

// ringBuffer keeps the last N bytes written to it, for capturing a bounded
// stderr tail without unbounded memory growth. Write and String run on
// different goroutines (the stderr drain loop and a readiness-failure
// reporter, respectively), so access is internally synchronized.
type ringBuffer struct {
	mu    sync.Mutex
	buf   *bytes.Buffer
	limit int
}

func newRingBuffer(limit int) *ringBuffer {
	return &ringBuffer{buf: &bytes.Buffer{}, limit: limit}
}

func (r *ringBuffer) Write(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.WriteString(line)
	r.buf.WriteByte('\n')
	if r.buf.Len() > r.limit {
		excess := r.buf.Len() - r.limit
		r.buf.Next(excess)
	}
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
