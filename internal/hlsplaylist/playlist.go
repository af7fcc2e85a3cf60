// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hlsplaylist reads and validates HLS event playlists written by
// the transcoder, grounded on the scanner-based rewrite/extraction shape
// used by the teacher's HLS artifact server.
package hlsplaylist

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// preferredFilenames lists the manifest filenames to try in order; a
// ".m3u8.tmp" file, when present, is preferred over the final name because
// some transcoders rename into place atomically and the tmp file is
// already consistent (spec §4.6, §9 open questions).
var preferredFilenames = []string{"playlist.m3u8.tmp", "playlist.m3u8"}

// Read returns the current bytes of the playlist in workDir, preferring
// the ".tmp" variant when both exist.
func Read(workDir string) ([]byte, error) {
	for _, name := range preferredFilenames {
		path := filepath.Join(workDir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("hlsplaylist: no playlist found in %s", workDir)
}

// SegmentTruth is the result of scanning a playlist for the facts this
// service cares about: how many segments it lists, their total duration,
// and whether the stream has been marked complete (VOD/ENDLIST).
type SegmentTruth struct {
	SegmentCount    int
	TotalDuration   float64
	TargetDuration  int
	IsVOD           bool
	LastSegmentName string
}

// Extract scans playlist bytes for target duration, EXTINF entries, and
// VOD/ENDLIST markers.
func Extract(data []byte) SegmentTruth {
	var truth SegmentTruth
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil {
				truth.TargetDuration = v
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			truth.SegmentCount++
			fields := strings.TrimPrefix(line, "#EXTINF:")
			fields = strings.TrimSuffix(fields, ",")
			if idx := strings.IndexByte(fields, ','); idx != -1 {
				fields = fields[:idx]
			}
			if v, err := strconv.ParseFloat(fields, 64); err == nil {
				truth.TotalDuration += v
			}
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			truth.IsVOD = true
		case line == "#EXT-X-ENDLIST":
			truth.IsVOD = true
		case strings.HasSuffix(line, ".ts") && !strings.HasPrefix(line, "#"):
			truth.LastSegmentName = line
		}
	}
	return truth
}

// ValidateMonotonic reports whether the EXTINF-tagged segment filenames in
// data are numbered contiguously from 000 with no gaps, per spec §8's
// invariant on segment sequencing.
func ValidateMonotonic(data []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	expected := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasSuffix(line, ".ts") || strings.HasPrefix(line, "#") {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(line), ".ts")
		digits := strings.TrimPrefix(name, "segment")
		n, err := strconv.Atoi(digits)
		if err != nil || n != expected {
			return false
		}
		expected++
	}
	return true
}
