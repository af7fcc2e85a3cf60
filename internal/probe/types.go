// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe extracts container/stream metadata from a local file or
// signed URL via ffprobe, and memoizes the result per asset key (spec §4.2).
package probe

// VideoStream describes the primary video stream of an asset.
type VideoStream struct {
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	BitRate   int64   `json:"bitRate"`
}

// AudioStream describes one audio stream of an asset.
type AudioStream struct {
	// Index is the position among the asset's audio streams (the N in
	// ffmpeg's 0:a:N selector), not ffprobe's container-wide stream index.
	Index         int     `json:"index"`
	Codec         string  `json:"codec"`
	SampleRate    int     `json:"sampleRate"`
	Channels      int     `json:"channels"`
	ChannelLayout string  `json:"channelLayout"`
	BitRate       int64   `json:"bitRate"`
	BitsPerSample int     `json:"bitsPerSample"`
	Language      string  `json:"language"`
	Title         string  `json:"title"`
	Duration      float64 `json:"duration"`
}

// MonoCombinable describes the first two mono audio streams, if any, and
// whether they can be merged into a synthesized stereo output (spec §4.2).
type MonoCombinable struct {
	IndexA     int    `json:"indexA"`
	IndexB     int    `json:"indexB"`
	Compatible bool   `json:"compatible"`
	Title      string `json:"title"`
	Language   string `json:"language"`
}

// Record is the full probe result for one asset, memoized ~1h (spec §3).
type Record struct {
	DurationSeconds  float64         `json:"durationSeconds"`
	TotalBytes       int64           `json:"totalBytes"`
	Container        string          `json:"container"`
	ContainerBitRate int64           `json:"containerBitRate,omitempty"`
	Video            *VideoStream    `json:"video,omitempty"`
	Audio            []AudioStream   `json:"audio"`
	MonoCombinable   *MonoCombinable `json:"monoCombinable,omitempty"`
}

// channelLayoutDefaults implements the channel-count → layout-name fallback
// table from spec §4.2.
var channelLayoutDefaults = map[int]string{
	1: "mono",
	2: "stereo",
	3: "2.1",
	4: "quad",
	5: "4.1",
	6: "5.1",
	7: "6.1",
	8: "7.1",
}

// DefaultChannelLayout returns the spec's fallback channel-layout name for a
// channel count when ffprobe does not report one.
func DefaultChannelLayout(channels int) string {
	if name, ok := channelLayoutDefaults[channels]; ok {
		return name
	}
	if channels <= 0 {
		return "unknown"
	}
	return formatChannelCount(channels)
}

func formatChannelCount(n int) string {
	return itoa(n) + " channels"
}

// itoa avoids importing strconv twice across the package for one call site.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// computeMonoCombinable finds the first two mono (1-channel) audio streams
// in order, per spec §4.2/§4.3.6, and synthesizes their merged title/lang.
func computeMonoCombinable(streams []AudioStream) *MonoCombinable {
	var first, second *AudioStream
	for i := range streams {
		if streams[i].Channels != 1 {
			continue
		}
		if first == nil {
			first = &streams[i]
			continue
		}
		second = &streams[i]
		break
	}
	if first == nil || second == nil {
		return nil
	}

	compatible := first.SampleRate == second.SampleRate && first.Codec == second.Codec

	titleA := first.Title
	if titleA == "" {
		titleA = "Track " + itoa(first.Index)
	}
	titleB := second.Title
	if titleB == "" {
		titleB = "Track " + itoa(second.Index)
	}

	lang := first.Language
	if lang == "" {
		lang = second.Language
	}

	return &MonoCombinable{
		IndexA:     first.Index,
		IndexB:     second.Index,
		Compatible: compatible,
		Title:      titleA + " + " + titleB + " (Stereo)",
		Language:   lang,
	}
}
