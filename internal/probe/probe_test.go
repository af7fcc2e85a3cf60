// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultChannelLayoutTable(t *testing.T) {
	cases := map[int]string{
		1: "mono", 2: "stereo", 3: "2.1", 4: "quad",
		5: "4.1", 6: "5.1", 7: "6.1", 8: "7.1",
	}
	for channels, want := range cases {
		require.Equal(t, want, DefaultChannelLayout(channels))
	}
	require.Equal(t, "12 channels", DefaultChannelLayout(12))
}

func TestComputeMonoCombinableRequiresTwoMonoStreams(t *testing.T) {
	streams := []AudioStream{
		{Index: 0, Channels: 2, Codec: "aac", SampleRate: 48000},
	}
	require.Nil(t, computeMonoCombinable(streams))
}

func TestComputeMonoCombinableMatchingPair(t *testing.T) {
	streams := []AudioStream{
		{Index: 0, Channels: 1, Codec: "pcm_s16le", SampleRate: 48000, Title: "Boom L", Language: "eng"},
		{Index: 1, Channels: 1, Codec: "pcm_s16le", SampleRate: 48000, Title: "Boom R"},
		{Index: 2, Channels: 2, Codec: "aac", SampleRate: 48000},
	}
	mc := computeMonoCombinable(streams)
	require.NotNil(t, mc)
	require.Equal(t, 0, mc.IndexA)
	require.Equal(t, 1, mc.IndexB)
	require.True(t, mc.Compatible)
	require.Equal(t, "Boom L + Boom R (Stereo)", mc.Title)
	require.Equal(t, "eng", mc.Language)
}

func TestComputeMonoCombinableIncompatibleSampleRate(t *testing.T) {
	streams := []AudioStream{
		{Index: 0, Channels: 1, Codec: "pcm_s16le", SampleRate: 48000},
		{Index: 1, Channels: 1, Codec: "pcm_s16le", SampleRate: 44100},
	}
	mc := computeMonoCombinable(streams)
	require.NotNil(t, mc)
	require.False(t, mc.Compatible)
}

func TestParseRationalFrameRate(t *testing.T) {
	require.InDelta(t, 25.0, parseRational("25/1"), 0.0001)
	require.InDelta(t, 29.97, parseRational("30000/1001"), 0.01)
	require.Equal(t, float64(0), parseRational("0/0"))
}

func TestToRecordBuildsAudioAndVideoStreams(t *testing.T) {
	raw := ffprobeResult{
		Format: ffprobeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   "35.040000",
			Size:       "123456",
			BitRate:    "4000000",
		},
		Streams: []ffprobeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1280, Height: 720, RFrameRate: "25/1", BitRate: "3500000"},
			{Index: 1, CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 2},
		},
	}
	rec := toRecord(raw)
	require.Equal(t, "mov", rec.Container)
	require.InDelta(t, 35.04, rec.DurationSeconds, 0.001)
	require.NotNil(t, rec.Video)
	require.Equal(t, 1280, rec.Video.Width)
	require.InDelta(t, 25.0, rec.Video.FrameRate, 0.001)
	require.Len(t, rec.Audio, 1)
	require.Equal(t, "stereo", rec.Audio[0].ChannelLayout)
	require.Nil(t, rec.MonoCombinable)
}

func TestToRecordGoldenShapeForMonoPairAsset(t *testing.T) {
	raw := ffprobeResult{
		Format: ffprobeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   "12.500000",
			Size:       "999000",
		},
		Streams: []ffprobeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, RFrameRate: "25/1", BitRate: "4000000"},
			{Index: 1, CodecType: "audio", CodecName: "pcm_s16le", SampleRate: "48000", Channels: 1, Tags: struct {
				Language string `json:"language"`
				Title    string `json:"title"`
			}{Title: "Boom L"}},
			{Index: 2, CodecType: "audio", CodecName: "pcm_s16le", SampleRate: "48000", Channels: 1, Tags: struct {
				Language string `json:"language"`
				Title    string `json:"title"`
			}{Title: "Boom R"}},
		},
	}

	want := &Record{
		DurationSeconds: 12.5,
		TotalBytes:      999000,
		Container:       "mov",
		Video: &VideoStream{
			Codec:     "h264",
			Width:     1920,
			Height:    1080,
			FrameRate: 25,
			BitRate:   4_000_000,
		},
		Audio: []AudioStream{
			{Index: 0, Codec: "pcm_s16le", SampleRate: 48000, Channels: 1, ChannelLayout: "mono", Title: "Boom L"},
			{Index: 1, Codec: "pcm_s16le", SampleRate: 48000, Channels: 1, ChannelLayout: "mono", Title: "Boom R"},
		},
		MonoCombinable: &MonoCombinable{
			IndexA:     0,
			IndexB:     1,
			Compatible: true,
			Title:      "Boom L + Boom R (Stereo)",
		},
	}

	got := toRecord(raw)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("toRecord mismatch (-want +got):\n%s", diff)
	}
}

func TestBestBitratePrefersContainerThenVideoThenComputedThenFallback(t *testing.T) {
	require.Equal(t, int64(8_000_000), (&Record{}).BestBitrate())

	r := &Record{DurationSeconds: 10, TotalBytes: 20_000_000}
	require.Equal(t, int64(16_000_000), r.BestBitrate())

	r = &Record{Video: &VideoStream{BitRate: 2_000_000}}
	require.Equal(t, int64(2_000_000), r.BestBitrate())

	r = &Record{ContainerBitRate: 5_000_000, Video: &VideoStream{BitRate: 2_000_000}}
	require.Equal(t, int64(5_000_000), r.BestBitrate())
}
