// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dailyreel/reelgate/internal/cache"
	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/dailyreel/reelgate/internal/reviewerr"
)

// ffprobeFormat mirrors ffprobe's "format" JSON object.
type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ffprobeStream mirrors the fields of ffprobe's "streams[]" JSON entries
// that this service needs, grounded on the Stream/BaseStream shapes used
// elsewhere in the retrieval pack's ffprobe wrapper.
type ffprobeStream struct {
	Index         int    `json:"index"`
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	BitRate       string `json:"bit_rate"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout"`
	BitsPerSample int    `json:"bits_per_sample"`
	Duration      string `json:"duration"`
	Tags          struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

type ffprobeResult struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Prober runs ffprobe and memoizes results per asset key.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	ttl         time.Duration
	cache       cache.Cache
}

// New creates a Prober. ffprobePath overrides PATH lookup when non-empty.
// ttl is the memoization window (spec: ~1 hour).
func New(ffprobePath string, ttl time.Duration) *Prober {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
		ttl:         ttl,
		cache:       cache.NewMemoryCache(time.Minute),
	}
}

// Input selects what ffprobe reads: a local path, or (when absent) a signed
// URL, per spec §4.2's input-selection rule.
type Input struct {
	Key        string
	LocalPath  string // preferred when non-empty
	SignedURL  string // used when LocalPath is empty
}

// Probe returns the memoized record for key, running ffprobe on a cache
// miss or expiry.
func (p *Prober) Probe(ctx context.Context, in Input) (*Record, error) {
	if cached, ok := p.cache.Get(in.Key); ok {
		if rec, ok := cached.(*Record); ok {
			metrics.ProbeResult.WithLabelValues("cache_hit").Inc()
			return rec, nil
		}
	}

	target := in.LocalPath
	if target == "" {
		target = in.SignedURL
	}
	if target == "" {
		return nil, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "probe", in.Key, fmt.Errorf("no local path or signed URL available"))
	}

	bin := p.ffprobePath
	if bin == "" {
		bin = "ffprobe"
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	//nolint:gosec // target is either our own cache path or a presigned URL we generated
	cmd := exec.CommandContext(runCtx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		target,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		metrics.ProbeResult.WithLabelValues("error").Inc()
		if runCtx.Err() != nil {
			return nil, reviewerr.Wrap(reviewerr.ErrTimeout, "probe", in.Key, runCtx.Err())
		}
		return nil, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "probe", in.Key, fmt.Errorf("%s: %w", stderr.String(), err))
	}

	var raw ffprobeResult
	if err := json.Unmarshal(out, &raw); err != nil {
		metrics.ProbeResult.WithLabelValues("error").Inc()
		return nil, reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "probe", in.Key, fmt.Errorf("parse ffprobe json: %w", err))
	}

	rec := toRecord(raw)
	p.cache.Set(in.Key, rec, p.ttl)
	metrics.ProbeResult.WithLabelValues("ok").Inc()

	xglog.WithComponent("probe").Debug().
		Str("key", in.Key).
		Float64("duration", rec.DurationSeconds).
		Int("audio_streams", len(rec.Audio)).
		Msg("probe complete")

	return rec, nil
}

// Invalidate drops the memoized record for key.
func (p *Prober) Invalidate(key string) { p.cache.Delete(key) }

// BestBitrateForKey returns the bitrate estimate for key, probing localPath
// on a cache miss. It satisfies sourcecache.BitrateSource. Probe failures
// fall back to Record's zero-value bitrate (8 Mbit/s) rather than blocking
// the caller's need_secs→bytes calculation.
func (p *Prober) BestBitrateForKey(ctx context.Context, key, localPath string) int64 {
	rec, err := p.Probe(ctx, Input{Key: key, LocalPath: localPath})
	if err != nil {
		return (&Record{}).BestBitrate()
	}
	return rec.BestBitrate()
}

func toRecord(raw ffprobeResult) *Record {
	rec := &Record{
		Container:        firstToken(raw.Format.FormatName),
		ContainerBitRate: parseInt(raw.Format.BitRate),
		DurationSeconds:  parseFloat(raw.Format.Duration),
		TotalBytes:       parseInt(raw.Format.Size),
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if rec.Video != nil {
				continue // only the primary video stream per spec §3
			}
			rec.Video = &VideoStream{
				Codec:     s.CodecName,
				Width:     s.Width,
				Height:    s.Height,
				FrameRate: parseRational(s.RFrameRate),
				BitRate:   parseInt(s.BitRate),
			}
		case "audio":
			layout := s.ChannelLayout
			if layout == "" {
				layout = DefaultChannelLayout(s.Channels)
			}
			rec.Audio = append(rec.Audio, AudioStream{
				Index:         len(rec.Audio),
				Codec:         s.CodecName,
				SampleRate:    int(parseInt(s.SampleRate)),
				Channels:      s.Channels,
				ChannelLayout: layout,
				BitRate:       parseInt(s.BitRate),
				BitsPerSample: s.BitsPerSample,
				Language:      s.Tags.Language,
				Title:         s.Tags.Title,
				Duration:      parseFloat(s.Duration),
			})
		}
	}

	rec.MonoCombinable = computeMonoCombinable(rec.Audio)
	return rec
}

func firstToken(csv string) string {
	if idx := strings.IndexByte(csv, ','); idx != -1 {
		return csv[:idx]
	}
	return csv
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseRational parses ffprobe's "num/den" frame-rate fields, per spec §4.2.
func parseRational(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return parseFloat(s)
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	v := num / den
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// RoundFrameRate rounds a rational frame rate to the nearest integer for
// callers that need an integer fps, per spec §4.2.
func RoundFrameRate(fps float64) int {
	return int(math.Round(fps))
}

// BestBitrate picks the bitrate to use for need_secs→bytes buffer math in
// the source cache (spec §4.1 step 2): container bitrate, else primary
// video stream bitrate, else size·8/duration, else an 8 Mbit/s fallback.
func (r *Record) BestBitrate() int64 {
	const fallbackBitsPerSecond = 8_000_000

	if r == nil {
		return fallbackBitsPerSecond
	}
	if r.ContainerBitRate > 0 {
		return r.ContainerBitRate
	}
	if r.Video != nil && r.Video.BitRate > 0 {
		return r.Video.BitRate
	}
	if r.DurationSeconds > 0 && r.TotalBytes > 0 {
		return int64(float64(r.TotalBytes) * 8 / r.DurationSeconds)
	}
	return fallbackBitsPerSecond
}
