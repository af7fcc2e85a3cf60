// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sourcecache implements the per-key progressive source-object
// download cache (C2): it guarantees a local file containing at least the
// bytes needed to decode a requested prefix of an asset, signals waiters as
// bytes arrive, and evicts least-recently-used entries under a byte budget
// (spec §4.1).
package sourcecache

import "time"

// Entry is the bookkeeping record for one asset's local copy (spec §3).
type Entry struct {
	Key             string
	LocalPath       string
	Size            int64 // bytes currently on disk
	Total           int64 // -1 if not yet known
	Partial         bool
	FirstDownloadAt time.Time
	LastAccessAt    time.Time
}

// Progress is the public snapshot returned by Cache.Progress (spec §4.1).
type Progress struct {
	BytesHave  int64
	BytesTotal int64 // -1 if unknown
	Complete   bool
	StartedAt  time.Time
	Exists     bool
}
