// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeCollapsesUnsafeRuns(t *testing.T) {
	require.Equal(t, "movies_one_mp4", Sanitize("movies/one!!mp4"))
	require.Equal(t, "a-b.c", Sanitize("a-b.c"))
	require.Equal(t, "_", Sanitize("///"))
}

func TestPurgeAndCreateResetsDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "session")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.ts"), []byte("x"), 0o644))

	require.NoError(t, PurgeAndCreate(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
