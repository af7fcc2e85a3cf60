// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package analysis runs the waveform and EBU R128 loudness extractors (C7):
// one-shot ffmpeg invocations against the best available input, memoized
// per (key, parameters), grounded on the probe package's exec-and-parse
// shape and the generic TTL cache used elsewhere in the service.
package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dailyreel/reelgate/internal/cache"
	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/dailyreel/reelgate/internal/reviewerr"
)

// Waveform is the result of the waveform extractor (spec §4.8).
type Waveform struct {
	Duration         float64   `json:"duration"`
	Samples          []float64 `json:"samples"`
	SampleRate       int       `json:"sampleRate"`
	HasAudio         bool      `json:"hasAudio"`
	SamplesPerSecond float64   `json:"samplesPerSecond,omitempty"`
}

// LoudnessWindow is the result of the EBU R128 extractor (spec §4.8).
type LoudnessWindow struct {
	Integrated *float64 `json:"integrated,omitempty"`
	Range      *float64 `json:"range,omitempty"`
	LRALow     *float64 `json:"lraLow,omitempty"`
	LRAHigh    *float64 `json:"lraHigh,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// Input selects the source for an analysis run.
type Input struct {
	Key       string
	LocalPath string
	SignedURL string
	Probe     *probe.Record
}

func (in Input) target() string {
	if in.LocalPath != "" {
		return in.LocalPath
	}
	return in.SignedURL
}

// Worker runs waveform and loudness extraction, memoizing results.
type Worker struct {
	ffmpegPath string
	timeout    time.Duration
	ttl        time.Duration
	cache      cache.Cache
}

// New builds a Worker invoking ffmpegPath (or PATH lookup) with results
// memoized for ttl.
func New(ffmpegPath string, ttl time.Duration) *Worker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Worker{
		ffmpegPath: ffmpegPath,
		timeout:    60 * time.Second,
		ttl:        ttl,
		cache:      cache.NewMemoryCache(time.Minute),
	}
}

func (w *Worker) bin() string {
	if w.ffmpegPath != "" {
		return w.ffmpegPath
	}
	return "ffmpeg"
}

// Waveform computes (or returns memoized) RMS-per-bucket samples for in,
// partitioned into n buckets (spec §4.8).
func (w *Worker) Waveform(ctx context.Context, in Input, n int) (*Waveform, error) {
	if n <= 0 {
		n = 1000
	}
	combined := hasCombinableAudio(in.Probe)
	cacheKey := fmt.Sprintf("waveform:%s:%d:%v", in.Key, n, combined)

	if cached, ok := w.cache.Get(cacheKey); ok {
		if wf, ok := cached.(*Waveform); ok {
			metrics.AnalysisCacheResult.WithLabelValues("waveform", "cache_hit").Inc()
			return wf, nil
		}
	}

	if in.Probe == nil || len(in.Probe.Audio) == 0 {
		wf := &Waveform{HasAudio: false, Samples: []float64{}}
		if in.Probe != nil {
			wf.Duration = in.Probe.DurationSeconds
		}
		w.cache.Set(cacheKey, wf, w.ttl)
		metrics.AnalysisCacheResult.WithLabelValues("waveform", "no_audio").Inc()
		return wf, nil
	}

	pcm, err := w.extractPCM(ctx, in, combined)
	if err != nil {
		metrics.AnalysisCacheResult.WithLabelValues("waveform", "error").Inc()
		return nil, err
	}

	samples := bucketRMS(pcm, n)
	duration := in.Probe.DurationSeconds
	wf := &Waveform{
		Duration:         duration,
		Samples:          samples,
		SampleRate:       waveformSampleRate,
		HasAudio:         true,
		SamplesPerSecond: safeDiv(float64(n), duration),
	}

	w.cache.Set(cacheKey, wf, w.ttl)
	metrics.AnalysisCacheResult.WithLabelValues("waveform", "ok").Inc()
	return wf, nil
}

const waveformSampleRate = 8000

// extractPCM runs the compand->resample->float32 pipeline and returns the
// decoded samples (spec §4.8 "Waveform").
func (w *Worker) extractPCM(ctx context.Context, in Input, combined bool) ([]float32, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	filter := waveformAudioMap(in.Probe, combined) + "compand=attacks=0:decays=0.3:points=-80/-80|-45/-15|0/-5,aresample=8000,aformat=sample_fmts=flt:channel_layouts=mono"

	//nolint:gosec // target is either our own cache path or a presigned URL we generated
	cmd := exec.CommandContext(runCtx, w.bin(),
		"-i", in.target(),
		"-filter_complex", filter,
		"-f", "f32le",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, reviewerr.Wrap(reviewerr.ErrTimeout, "waveform", in.Key, runCtx.Err())
		}
		return nil, reviewerr.Wrap(reviewerr.ErrAnalysisFailed, "waveform", in.Key, fmt.Errorf("%s: %w", stderr.String(), err))
	}

	samples := make([]float32, len(out)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(out[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

func waveformAudioMap(rec *probe.Record, combined bool) string {
	if combined && rec != nil && rec.MonoCombinable != nil {
		return fmt.Sprintf("[0:a:%d][0:a:%d]amerge=inputs=2[wav];", rec.MonoCombinable.IndexA, rec.MonoCombinable.IndexB) + "[wav]"
	}
	idx := 0
	if rec != nil && len(rec.Audio) > 0 {
		idx = rec.Audio[0].Index
	}
	return fmt.Sprintf("[0:a:%d]", idx)
}

func hasCombinableAudio(rec *probe.Record) bool {
	return rec != nil && rec.MonoCombinable != nil && rec.MonoCombinable.Compatible
}

// bucketRMS partitions samples into n equal buckets and computes
// sqrt(mean(x^2)) clamped to [0,1] for each.
func bucketRMS(samples []float32, n int) []float64 {
	out := make([]float64, n)
	if len(samples) == 0 {
		return out
	}
	bucketSize := float64(len(samples)) / float64(n)
	for i := 0; i < n; i++ {
		start := int(float64(i) * bucketSize)
		end := int(float64(i+1) * bucketSize)
		if end > len(samples) {
			end = len(samples)
		}
		if end <= start {
			continue
		}
		var sumSq float64
		for _, s := range samples[start:end] {
			v := float64(s)
			sumSq += v * v
		}
		rms := math.Sqrt(sumSq / float64(end-start))
		if rms > 1 {
			rms = 1
		}
		out[i] = rms
	}
	return out
}

func safeDiv(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

var loudnessValueRe = regexp.MustCompile(`^\s*([A-Za-z ]+):\s*(-?[0-9.]+)\s*(LUFS|LU|dBFS)?\s*$`)

// LoudnessWindow runs the ebur128 filter in analysis mode (framelog=verbose)
// over [startTime, startTime+duration) and parses its end-of-run Summary
// block (spec §4.8 "Loudness window (EBU R128)"). loudnorm's own summary
// never emits the LRA low/high breakdown the spec's 5-field contract
// requires; ebur128's verbose Summary does.
func (w *Worker) LoudnessWindow(ctx context.Context, in Input, startTime, duration float64) (*LoudnessWindow, error) {
	combined := hasCombinableAudio(in.Probe)
	cacheKey := fmt.Sprintf("ebur128:%s:%v:%v:%v", in.Key, startTime, duration, combined)

	if cached, ok := w.cache.Get(cacheKey); ok {
		if lw, ok := cached.(*LoudnessWindow); ok {
			metrics.AnalysisCacheResult.WithLabelValues("ebu_r128", "cache_hit").Inc()
			return lw, nil
		}
	}

	if in.Probe == nil || len(in.Probe.Audio) == 0 {
		lw := &LoudnessWindow{}
		w.cache.Set(cacheKey, lw, w.ttl)
		metrics.AnalysisCacheResult.WithLabelValues("ebu_r128", "no_audio").Inc()
		return lw, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	audioMap := waveformAudioMap(in.Probe, combined)
	filter := audioMap + "ebur128=peak=true:framelog=verbose"

	args := []string{"-ss", fmt.Sprintf("%.3f", startTime)}
	args = append(args, "-i", in.target())
	if duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", duration))
	}
	args = append(args, "-filter_complex", filter, "-f", "null", "-")

	//nolint:gosec // target is either our own cache path or a presigned URL we generated
	cmd := exec.CommandContext(runCtx, w.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, reviewerr.Wrap(reviewerr.ErrTimeout, "ebu_r128", in.Key, runCtx.Err())
		}
		return nil, reviewerr.Wrap(reviewerr.ErrAnalysisFailed, "ebu_r128", in.Key, fmt.Errorf("%s: %w", stderr.String(), err))
	}

	lw := parseEBUR128Summary(stderr.String())
	w.cache.Set(cacheKey, lw, w.ttl)
	metrics.AnalysisCacheResult.WithLabelValues("ebu_r128", "ok").Inc()

	xglog.WithComponent("analysis").Debug().Str("key", in.Key).Msg("loudness window computed")
	return lw, nil
}

// parseEBUR128Summary extracts the integrated loudness, loudness range, its
// LRA low/high bounds, and the integrated threshold from the "Summary:"
// block ebur128's framelog=verbose mode writes to stderr at end of run:
//
//	Integrated loudness:
//	  I:         -23.0 LUFS
//	  Threshold: -33.0 LUFS
//
//	Loudness range:
//	  LRA:         7.0 LU
//	  Threshold:  -43.0 LUFS
//	  LRA low:    -28.0 LUFS
//	  LRA high:   -21.0 LUFS
//
// Threshold is reported under both sections; the integrated-loudness one
// is what the spec's contract means by "threshold". Unreadable fields are
// left absent rather than defaulted (spec §4.8).
func parseEBUR128Summary(stderr string) *LoudnessWindow {
	lw := &LoudnessWindow{}
	section := ""
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "Integrated loudness:":
			section = "integrated"
			continue
		case "Loudness range:":
			section = "range"
			continue
		case "True peak:":
			section = "peak"
			continue
		}

		m := loudnessValueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		field := strings.TrimSpace(strings.ToLower(m[1]))
		val, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		switch {
		case section == "integrated" && field == "i":
			lw.Integrated = &val
		case section == "integrated" && field == "threshold":
			lw.Threshold = &val
		case section == "range" && field == "lra":
			lw.Range = &val
		case field == "lra low":
			lw.LRALow = &val
		case field == "lra high":
			lw.LRAHigh = &val
		}
	}
	return lw
}
