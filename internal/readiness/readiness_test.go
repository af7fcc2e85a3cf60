// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package readiness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touchSegments(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("segment%03d.ts", i))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func TestWaitReturnsAsSoonAsMinSegmentsExist(t *testing.T) {
	dir := t.TempDir()
	touchSegments(t, dir, 2)

	res := Wait(Options{WorkDir: dir, MinSegments: 2, Timeout: 2 * time.Second})
	require.False(t, res.TimedOut)
	require.Equal(t, 2, res.ContiguousCount)
}

func TestWaitIgnoresNonContiguousSegments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment000.ts"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment002.ts"), []byte("x"), 0o644))

	res := Wait(Options{WorkDir: dir, MinSegments: 2, Timeout: 300 * time.Millisecond})
	require.True(t, res.TimedOut)
	require.Equal(t, 1, res.ContiguousCount)
}

func TestWaitNeverFailsOnTimeout(t *testing.T) {
	dir := t.TempDir()
	res := Wait(Options{WorkDir: dir, MinSegments: 5, Timeout: 150 * time.Millisecond})
	require.True(t, res.TimedOut)
	require.Equal(t, 0, res.ContiguousCount)
}

func TestWaitShrinksForShortAssets(t *testing.T) {
	dir := t.TempDir()
	touchSegments(t, dir, 1)

	res := Wait(Options{WorkDir: dir, MinSegments: 2, Timeout: 30 * time.Second, ExpectedTotal: 1})
	require.False(t, res.TimedOut)
	require.Equal(t, 1, res.ContiguousCount)
}
