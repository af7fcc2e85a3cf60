// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dailyreel/reelgate/internal/hlsregistry"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies the whole package leaves no goroutine running once its
// tests finish, catching a Supervisor.launch/Abort pairing that forgets to
// tear down the main or thumbnail ffmpeg-watch goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFFmpegScript stands in for the real ffmpeg binary: it locates its own
// output path (always the final positional argument, whether that is
// playlist.m3u8.tmp from BuildLiveArgs or thumb%03d.jpg from
// BuildThumbnailArgs), drops two segment files next to it so readiness.Wait
// observes a contiguous pair, then exits.
const fakeFFmpegScript = `#!/bin/sh
set -e
for last; do :; done
dir=$(dirname "$last")
mkdir -p "$dir"
: > "$dir/segment000.ts"
: > "$dir/segment001.ts"
sleep 0.2
exit 0
`

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeFFmpegScript), 0o755))
	return path
}

func TestSupervisorLaunchAndAbortLifecycle(t *testing.T) {
	bin := writeFakeFFmpeg(t)
	sup := New(bin, t.TempDir(), hlsregistry.New())

	sess, err := sup.Start(context.Background(), StartInput{
		Key:            "asset-1",
		InputPath:      os.DevNull,
		SegmentSeconds: 2,
		ReadyMinSeg:    2,
		ReadyTimeout:   2 * time.Second,
	})
	require.NoError(t, err)
	require.True(t, sess.Ready)

	got, ok := sup.Get("asset-1")
	require.True(t, ok)
	require.Same(t, sess, got)

	sup.Abort("asset-1")
	_, ok = sup.Get("asset-1")
	require.False(t, ok)
}

func TestSupervisorAbortAllTerminatesEverySession(t *testing.T) {
	bin := writeFakeFFmpeg(t)
	sup := New(bin, t.TempDir(), hlsregistry.New())

	_, err := sup.Start(context.Background(), StartInput{
		Key:            "asset-2",
		InputPath:      os.DevNull,
		SegmentSeconds: 2,
		ReadyMinSeg:    2,
		ReadyTimeout:   2 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, 1, sup.AbortAll())
	_, ok := sup.Get("asset-2")
	require.False(t, ok)
}

func TestSupervisorStartSwitchesKeysAbortingThePrevious(t *testing.T) {
	bin := writeFakeFFmpeg(t)
	sup := New(bin, t.TempDir(), hlsregistry.New())

	_, err := sup.Start(context.Background(), StartInput{
		Key:            "asset-3",
		InputPath:      os.DevNull,
		SegmentSeconds: 2,
		ReadyMinSeg:    2,
		ReadyTimeout:   2 * time.Second,
	})
	require.NoError(t, err)

	_, err = sup.Start(context.Background(), StartInput{
		Key:            "asset-4",
		InputPath:      os.DevNull,
		SegmentSeconds: 2,
		ReadyMinSeg:    2,
		ReadyTimeout:   2 * time.Second,
	})
	require.NoError(t, err)

	_, ok := sup.Get("asset-3")
	require.False(t, ok)
	_, ok = sup.Get("asset-4")
	require.True(t, ok)

	sup.AbortAll()
}
