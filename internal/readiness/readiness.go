// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package readiness implements the bounded poll-loop that waits for a
// transcoder's initial segments to appear before a session is exposed to
// HTTP clients (C6), grounded on the HLS playlist poll-loop shape used by
// the teacher's artifact-await logic.
package readiness

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

const pollInterval = 100 * time.Millisecond

// Options configures one Wait call (spec §4.5).
type Options struct {
	WorkDir       string
	MinSegments   int
	Timeout       time.Duration
	ExpectedTotal int // 0 when unknown
}

// Result reports what Wait observed when it returned.
type Result struct {
	ContiguousCount int
	TimedOut        bool
}

// Wait polls WorkDir for contiguous segment000.ts, segment001.ts, … files
// until MinSegments exist, ExpectedTotal is fully present, or Timeout
// elapses. It never returns an error: a timeout is reported via
// Result.TimedOut but the gate always succeeds, per spec §4.5's explicit
// "the gate never returns failure" rule.
func Wait(opts Options) Result {
	minSegments := opts.MinSegments
	timeout := opts.Timeout

	if opts.ExpectedTotal > 0 && opts.ExpectedTotal <= 2 {
		shrunk := int(math.Ceil(float64(opts.ExpectedTotal) / 2))
		if shrunk < minSegments {
			minSegments = shrunk
		}
		if timeout > 10*time.Second {
			timeout = 10 * time.Second
		}
	}
	if minSegments < 1 {
		minSegments = 1
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		count := contiguousSegmentCount(opts.WorkDir)
		if count >= minSegments {
			return Result{ContiguousCount: count}
		}
		if opts.ExpectedTotal > 0 && count >= opts.ExpectedTotal {
			return Result{ContiguousCount: count}
		}
		if time.Now().After(deadline) {
			return Result{ContiguousCount: count, TimedOut: true}
		}
		<-ticker.C
	}
}

// contiguousSegmentCount counts segment000.ts, segment001.ts, … starting
// from 0 until the first gap.
func contiguousSegmentCount(workDir string) int {
	count := 0
	for {
		name := fmt.Sprintf("segment%03d.ts", count)
		if _, err := os.Stat(filepath.Join(workDir, name)); err != nil {
			return count
		}
		count++
	}
}
