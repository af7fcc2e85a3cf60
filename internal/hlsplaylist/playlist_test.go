// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hlsplaylist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:10
#EXT-X-PLAYLIST-TYPE:EVENT
#EXT-X-INDEPENDENT-SEGMENTS
#EXTINF:10.0,
segment000.ts
#EXTINF:10.0,
segment001.ts
#EXTINF:5.0,
segment002.ts
`

func TestReadPrefersTmpVariant(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "playlist.m3u8.tmp"), []byte("fresh"), 0o644))

	data, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))
}

func TestReadFallsBackToFinalName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte(samplePlaylist), 0o644))

	data, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, samplePlaylist, string(data))
}

func TestExtractCountsSegmentsAndDuration(t *testing.T) {
	truth := Extract([]byte(samplePlaylist))
	require.Equal(t, 3, truth.SegmentCount)
	require.InDelta(t, 25.0, truth.TotalDuration, 0.001)
	require.Equal(t, 10, truth.TargetDuration)
	require.False(t, truth.IsVOD)
	require.Equal(t, "segment002.ts", truth.LastSegmentName)
}

func TestExtractGoldenShapeForVODPlaylist(t *testing.T) {
	vod := `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:10
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:10.0,
segment000.ts
#EXTINF:10.0,
segment001.ts
#EXT-X-ENDLIST
`
	want := SegmentTruth{
		SegmentCount:    2,
		TotalDuration:   20.0,
		TargetDuration:  10,
		IsVOD:           true,
		LastSegmentName: "segment001.ts",
	}

	got := Extract([]byte(vod))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateMonotonicDetectsGap(t *testing.T) {
	require.True(t, ValidateMonotonic([]byte(samplePlaylist)))

	withGap := `#EXTM3U
#EXTINF:10.0,
segment000.ts
#EXTINF:10.0,
segment002.ts
`
	require.False(t, ValidateMonotonic([]byte(withGap)))
}
