// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"os"
	"path/filepath"
	"strings"
)

// Sanitize maps an asset key to a filesystem-safe directory name: any
// character outside [A-Za-z0-9._-] becomes '_', and runs of '_' collapse
// to one (spec §4.3 item 1).
func Sanitize(key string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range key {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-'
		if safe {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := b.String()
	if out == "" {
		out = "_"
	}
	return out
}

// WorkDirFor returns the per-session working directory path under
// cacheDir for key.
func WorkDirFor(cacheDir, key string) string {
	return filepath.Join(cacheDir, "live-hls", Sanitize(key))
}

// PurgeAndCreate removes any existing contents of dir and recreates it
// empty, per the "(re)start purges and recreates" rule in spec §4.3 item 1.
func PurgeAndCreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// removeWorkDirIfIdle removes dir after an abort's grace period. Removal
// failure (child still holding file handles) is left for the next abort
// to retry, per spec §4.3: "if the child is still alive at that point,
// removal is skipped and re-attempted on the next abort".
func removeWorkDirIfIdle(dir string) {
	_ = os.RemoveAll(dir)
}
