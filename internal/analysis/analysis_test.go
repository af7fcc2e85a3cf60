// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package analysis

import (
	"context"
	"testing"

	"github.com/dailyreel/reelgate/internal/probe"
	"github.com/stretchr/testify/require"
)

func TestWaveformNoAudioReturnsEmptySamples(t *testing.T) {
	w := New("", 0)
	rec := &probe.Record{DurationSeconds: 12}
	wf, err := w.Waveform(context.Background(), Input{Key: "k", Probe: rec}, 1000)
	require.NoError(t, err)
	require.False(t, wf.HasAudio)
	require.Empty(t, wf.Samples)
	require.Equal(t, 0, wf.SampleRate)
}

func TestBucketRMSClampsAndPartitions(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 1.0
	}
	out := bucketRMS(samples, 10)
	require.Len(t, out, 10)
	for _, v := range out {
		require.InDelta(t, 1.0, v, 0.0001)
	}
}

func TestBucketRMSHandlesSilence(t *testing.T) {
	samples := make([]float32, 800)
	out := bucketRMS(samples, 8)
	require.Len(t, out, 8)
	for _, v := range out {
		require.Equal(t, 0.0, v)
	}
}

func TestParseEBUR128SummaryExtractsFields(t *testing.T) {
	summary := `
[Parsed_ebur128_0 @ 0x0] Summary:

  Integrated loudness:
    I:         -23.1 LUFS
    Threshold: -33.4 LUFS

  Loudness range:
    LRA:         7.2 LU
    Threshold:  -43.0 LUFS
    LRA low:   -28.0 LUFS
    LRA high:  -18.0 LUFS

  True peak:
    Peak:       -1.5 dBFS
`
	lw := parseEBUR128Summary(summary)
	require.NotNil(t, lw.Integrated)
	require.InDelta(t, -23.1, *lw.Integrated, 0.001)
	require.NotNil(t, lw.Range)
	require.InDelta(t, 7.2, *lw.Range, 0.001)
	require.NotNil(t, lw.Threshold)
	require.InDelta(t, -33.4, *lw.Threshold, 0.001)
	require.NotNil(t, lw.LRALow)
	require.InDelta(t, -28.0, *lw.LRALow, 0.001)
	require.NotNil(t, lw.LRAHigh)
	require.InDelta(t, -18.0, *lw.LRAHigh, 0.001)
}

func TestWaveformAudioMapPrefersCombinedPair(t *testing.T) {
	rec := &probe.Record{
		Audio:          []probe.AudioStream{{Index: 0, Channels: 1}, {Index: 1, Channels: 1}},
		MonoCombinable: &probe.MonoCombinable{IndexA: 0, IndexB: 1, Compatible: true},
	}
	ref := waveformAudioMap(rec, true)
	require.Contains(t, ref, "amerge=inputs=2")
}
