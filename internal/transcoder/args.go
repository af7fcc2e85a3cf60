// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"fmt"
	"path/filepath"

	"github.com/dailyreel/reelgate/internal/probe"
)

// Options describes one session's transcode target, grounded on the
// teacher's BuildArgsInput decision record but reshaped for a live HLS
// pipeline instead of a one-shot VOD remux (spec §4.3).
type Options struct {
	InputPath      string // local cache path, preferred when non-empty
	InputURL       string // signed URL, used when InputPath is empty
	Streaming      bool   // true when the input file is still being written
	WorkDir        string
	SegmentSeconds int
	Goniometer     bool
	Encoder        EncoderPath
	Probe          *probe.Record
}

const (
	outputWidth   = 1280
	outputHeight  = 720
	outputFPS     = 25
	thumbWidth    = 320
	thumbHeight   = 180
	thumbQuality  = "3"
	goniometerPx  = 300
	audioBitrate  = "128k"
)

func (o Options) input() string {
	if o.InputPath != "" {
		return o.InputPath
	}
	return o.InputURL
}

// BuildLiveArgs constructs the ffmpeg invocation for the long-running HLS
// session: video output (1280x720/25fps/yuv420p/H.264), timecode and
// optional goniometer burn-in, mono-combinable audio merge or 1:1 mapping,
// and AAC audio. Thumbnails are not part of this invocation: they come
// from a separate ffmpeg process built by BuildThumbnailArgs.
func BuildLiveArgs(o Options) []string {
	args := []string{"-y", "-nostdin", "-hide_banner", "-loglevel", "warning"}

	if o.Streaming {
		// Input may still be growing: generate PTS, ignore broken input
		// DTS, normalize negative timestamps (spec §4.3 item 2).
		args = append(args, "-fflags", "+genpts+igndts+nobuffer")
	} else {
		args = append(args, "-fflags", "+genpts")
	}

	if o.Encoder == EncoderVAAPI {
		args = append(args, "-init_hw_device", "vaapi=va:/dev/dri/renderD128", "-filter_hw_device", "va")
	}

	args = append(args, "-i", o.input())

	videoFilter := buildVideoFilter(o)
	audioMaps, audioFilters, audioLabels := buildAudioPlan(o)

	filterComplex := videoFilter
	if audioFilters != "" {
		filterComplex += ";" + audioFilters
	}
	args = append(args, "-filter_complex", filterComplex)

	args = append(args, "-map", "[vout]")
	for _, label := range audioLabels {
		args = append(args, "-map", "["+label+"]")
	}
	_ = audioMaps // audioMaps folded into filterComplex; kept for readability at call sites

	if o.Encoder == EncoderVAAPI {
		args = append(args, "-c:v", "h264_vaapi", "-level", "41", "-qp", "24")
	} else {
		args = append(args, "-c:v", "libx264", "-profile:v", "high", "-level", "4.0", "-pix_fmt", "yuv420p")
	}

	for range audioLabels {
		args = append(args, "-c:a", "aac", "-b:a", audioBitrate)
	}

	seg := o.SegmentSeconds
	if seg <= 0 {
		seg = 10
	}

	args = append(args,
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seg),
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", seg),
		"-hls_segment_type", "mpegts",
		"-hls_flags", "independent_segments+program_date_time",
		"-hls_playlist_type", "event",
		"-hls_segment_filename", filepath.Join(o.WorkDir, "segment%03d.ts"),
		filepath.Join(o.WorkDir, "playlist.m3u8.tmp"),
	)

	return args
}

// buildVideoFilter assembles the scale/fps/format chain plus the timecode
// and optional goniometer burn-in (spec §4.3 items 3-5).
func buildVideoFilter(o Options) string {
	chain := fmt.Sprintf("[0:v:0]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d,format=yuv420p,setpts=PTS-STARTPTS",
		outputWidth, outputHeight, outputWidth, outputHeight, outputFPS)
	chain += fmt.Sprintf(",drawtext=text='%%{pts\\:hms}':x=w-tw-20:y=h-th-20:fontsize=24:fontcolor=white:box=1:boxcolor=black@0.5[tc]")

	if !o.Goniometer || o.Probe == nil || len(o.Probe.Audio) == 0 {
		return chain[:len(chain)-len("[tc]")] + "[vout]"
	}

	vectorscopeSrc := goniometerAudioLabel(o.Probe)
	gonio := fmt.Sprintf("%s;[%s]avectorscope=mode=lissajous:size=%dx%d[gonio]", chain, vectorscopeSrc, goniometerPx, goniometerPx)
	gonio += fmt.Sprintf(";[tc][gonio]overlay=W-w-20:H-h-50[vout]")
	return gonio
}

// goniometerAudioLabel picks the vectorscope input. When a compatible mono
// pair exists it reads input stream 0:a:0, not the merged pair; otherwise it
// reads the first probed audio stream.
func goniometerAudioLabel(rec *probe.Record) string {
	if rec.MonoCombinable != nil && rec.MonoCombinable.Compatible {
		return "0:a:0"
	}
	if len(rec.Audio) > 0 {
		return fmt.Sprintf("0:a:%d", rec.Audio[0].Index)
	}
	return "0:a:0"
}

// buildAudioPlan implements spec §4.3 item 6: merge the mono-combinable
// pair into one stereo track labelled first, then map remaining streams
// 1:1 preserving order. Returns the raw stream-map references (for
// documentation), the filter_complex fragment producing named labels, and
// the ordered list of those labels.
func buildAudioPlan(o Options) (mapRefs []string, filters string, labels []string) {
	rec := o.Probe
	if rec == nil || len(rec.Audio) == 0 {
		return nil, "", nil
	}

	if rec.MonoCombinable != nil && rec.MonoCombinable.Compatible {
		a, b := rec.MonoCombinable.IndexA, rec.MonoCombinable.IndexB
		label := "amix0"
		filters = fmt.Sprintf("[0:a:%d][0:a:%d]amerge=inputs=2[%s]", a, b, label)
		labels = append(labels, label)
		mapRefs = append(mapRefs, fmt.Sprintf("0:a:%d", a), fmt.Sprintf("0:a:%d", b))

		for _, s := range rec.Audio {
			if s.Index == a || s.Index == b {
				continue
			}
			l := fmt.Sprintf("apass%d", s.Index)
			sep := ""
			if filters != "" {
				sep = ";"
			}
			filters += fmt.Sprintf("%s[0:a:%d]anull[%s]", sep, s.Index, l)
			labels = append(labels, l)
			mapRefs = append(mapRefs, fmt.Sprintf("0:a:%d", s.Index))
		}
		return mapRefs, filters, labels
	}

	for _, s := range rec.Audio {
		l := fmt.Sprintf("apass%d", s.Index)
		sep := ""
		if filters != "" {
			sep = ";"
		}
		filters += fmt.Sprintf("%s[0:a:%d]anull[%s]", sep, s.Index, l)
		labels = append(labels, l)
		mapRefs = append(mapRefs, fmt.Sprintf("0:a:%d", s.Index))
	}
	return mapRefs, filters, labels
}

// BuildFragmentArgs constructs a one-shot MP4 fragment covering
// [startSecs, startSecs+durSecs) with the same video pipeline as
// BuildLiveArgs (scale/fps/format, timecode burn-in) fixed to exactly one
// output segment, for the /stream preview endpoint (spec §4.9). It reuses
// buildVideoFilter/buildAudioPlan rather than duplicating the filter-graph
// construction.
func BuildFragmentArgs(o Options, startSecs, durSecs float64, outputPath string) []string {
	args := []string{"-y", "-nostdin", "-hide_banner", "-loglevel", "warning"}
	if startSecs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", startSecs))
	}
	args = append(args, "-i", o.input())
	if durSecs > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", durSecs))
	}

	videoFilter := buildVideoFilter(o)
	_, audioFilters, audioLabels := buildAudioPlan(o)

	filterComplex := videoFilter
	if audioFilters != "" {
		filterComplex += ";" + audioFilters
	}
	args = append(args, "-filter_complex", filterComplex, "-map", "[vout]")
	for _, label := range audioLabels {
		args = append(args, "-map", "["+label+"]")
	}

	args = append(args, "-c:v", "libx264", "-profile:v", "high", "-level", "4.0", "-pix_fmt", "yuv420p")
	for range audioLabels {
		args = append(args, "-c:a", "aac", "-b:a", audioBitrate)
	}
	args = append(args, "-movflags", "+faststart", "-f", "mp4", outputPath)
	return args
}

// BuildThumbnailArgs constructs the second-output branch that samples one
// frame per SegmentSeconds, offset by half a segment, scaled to 320x180,
// capped at maxFrames (spec §4.3 item 7). It is a distinct ffmpeg process
// invocation from BuildLiveArgs so the HLS video/audio pipeline never
// blocks on thumbnail extraction.
func BuildThumbnailArgs(o Options, maxFrames int) []string {
	seg := o.SegmentSeconds
	if seg <= 0 {
		seg = 10
	}
	half := float64(seg) / 2

	args := []string{"-y", "-nostdin", "-hide_banner", "-loglevel", "warning"}
	if o.Streaming {
		args = append(args, "-fflags", "+genpts+igndts")
	}
	args = append(args,
		"-i", o.input(),
		"-vf", fmt.Sprintf("select='isnan(prev_selected_t)*gte(t\\,%g)+not(isnan(prev_selected_t))*gte(t-prev_selected_t\\,%d)',scale=%d:%d", half, seg, thumbWidth, thumbHeight),
		"-vsync", "vfr",
		"-q:v", thumbQuality,
		"-frames:v", fmt.Sprintf("%d", maxFrames),
		filepath.Join(o.WorkDir, "thumb%03d.jpg"),
	)
	return args
}
