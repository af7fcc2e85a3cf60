// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sourcecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	xglog "github.com/dailyreel/reelgate/internal/log"
	"github.com/dailyreel/reelgate/internal/metrics"
	"github.com/dailyreel/reelgate/internal/reviewerr"
	"golang.org/x/sync/singleflight"
)

// earlyResolveWaitTimeout bounds how long ensure() waits on a running
// task's "bytes advanced" signal before falling back to waiting for full
// completion (spec §4.1 step 3).
const earlyResolveWaitTimeout = 30 * time.Second

// needSecsBufferMultiplier is the fixed safety buffer mandated by spec §4.1
// step 2 and reaffirmed as a non-negotiable constant in §9's open questions.
const needSecsBufferMultiplier = 2.0

// Store is the subset of the object-store client the cache needs.
type Store interface {
	Get(ctx context.Context, key string, rangeStart int64) (body readCloser, total int64, err error)
}

// readCloser avoids importing io just for this alias in the interface decl.
type readCloser = interface {
	Read(p []byte) (int, error)
	Close() error
}

// BitrateSource supplies the bitrate estimate used to translate need_secs
// into a byte requirement (spec §4.1 step 2). Satisfied by *probe.Prober.
type BitrateSource interface {
	BestBitrateForKey(ctx context.Context, key, localPath string) int64
}

// Cache is the process-wide local source cache (C2).
type Cache struct {
	cacheDir   string
	byteBudget int64
	store      Store
	bitrate    BitrateSource
	sessionBackedKey func(key string) bool

	// sfg collapses concurrent callers' "is there a task running for K"
	// check into a single task-creation decision (spec §4.1, §5): the wait
	// itself is never deduped, only the decision to start a new task.
	sfg singleflight.Group

	mu        sync.Mutex
	entries   map[string]*Entry
	downloads map[string]*downloadTask
}

// New builds a Cache rooted at cacheDir with the given byte budget.
// sessionBacked reports whether a key currently backs an active HLS
// session (spec §4.1 eviction rule: never evict a session's source file).
func New(cacheDir string, byteBudget int64, store Store, bitrate BitrateSource, sessionBacked func(key string) bool) *Cache {
	if sessionBacked == nil {
		sessionBacked = func(string) bool { return false }
	}
	return &Cache{
		cacheDir:         cacheDir,
		byteBudget:       byteBudget,
		store:            store,
		bitrate:          bitrate,
		sessionBackedKey: sessionBacked,
		entries:          make(map[string]*Entry),
		downloads:        make(map[string]*downloadTask),
	}
}

// LocalPath computes the deterministic on-disk path for key, per spec §4.1
// step 1: sha256(K) + ext(K).
func (c *Cache) LocalPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:])+keyExt(key))
}

func keyExt(key string) string {
	ext := filepath.Ext(key)
	if ext == "" {
		return ".bin"
	}
	return ext
}

// Ensure returns a local path containing at least the bytes needed to
// decode needSecs of content from the start, or the whole file when
// needSecs is nil, per spec §4.1.
func (c *Cache) Ensure(ctx context.Context, key string, needSecs *float64) (string, error) {
	localPath := c.LocalPath(key)

	for {
		c.mu.Lock()
		entry, haveEntry := c.entries[key]
		task, haveTask := c.downloads[key]
		c.mu.Unlock()

		if haveEntry && !haveTask {
			// Fully present locally (or failed and cleaned up elsewhere).
			if needSecs == nil || c.satisfiesNeed(ctx, key, localPath, entry.Size, entry.Total, *needSecs) {
				c.touch(key)
				return localPath, nil
			}
			// Entry exists but is short of need and no task is running:
			// this should not normally happen (entries with Partial=true
			// always have a task), but guard by starting a fresh download.
		}

		if haveTask {
			have, total, taskErr := task.snapshot()
			if taskErr != nil {
				return "", reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "ensure", key, taskErr)
			}
			if needSecs == nil {
				// Caller wants the complete file: wait for completion.
				if err := c.waitForCompletion(ctx, task); err != nil {
					return "", err
				}
				continue
			}
			if c.satisfiesNeed(ctx, key, localPath, have, total, *needSecs) {
				c.touch(key)
				return localPath, nil
			}
			if err := c.waitAdvanceOrFallback(ctx, task); err != nil {
				return "", err
			}
			continue
		}

		// No entry, no task: start a new download.
		if err := c.startDownload(ctx, key, localPath); err != nil {
			return "", err
		}
		// Loop back around to re-evaluate against the task we just started.
	}
}

// satisfiesNeed implements spec §4.1 step 2's threshold:
// on_disk >= min(total, need_secs * bitrate/8 * 2.0).
func (c *Cache) satisfiesNeed(ctx context.Context, key, localPath string, onDisk, total int64, needSecs float64) bool {
	if total > 0 && onDisk >= total {
		return true
	}
	bitrate := int64(8_000_000)
	if c.bitrate != nil {
		bitrate = c.bitrate.BestBitrateForKey(ctx, key, localPath)
	}
	required := int64(needSecs * float64(bitrate) / 8 * needSecsBufferMultiplier)
	if total > 0 && required > total {
		required = total
	}
	return onDisk >= required
}

// waitAdvanceOrFallback blocks until the next "bytes advanced" signal, a
// hard 30s timeout (after which it falls back to waiting for full
// completion), or context cancellation.
func (c *Cache) waitAdvanceOrFallback(ctx context.Context, task *downloadTask) error {
	timer := time.NewTimer(earlyResolveWaitTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return reviewerr.Wrap(reviewerr.ErrCancelled, "ensure", task.key, ctx.Err())
	case <-task.done:
		_, _, err := task.snapshot()
		if err != nil {
			return reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "ensure", task.key, err)
		}
		return nil
	case <-task.waitAdvanced():
		return nil
	case <-timer.C:
		return c.waitForCompletion(ctx, task)
	}
}

func (c *Cache) waitForCompletion(ctx context.Context, task *downloadTask) error {
	select {
	case <-ctx.Done():
		return reviewerr.Wrap(reviewerr.ErrCancelled, "ensure", task.key, ctx.Err())
	case <-task.done:
		_, _, err := task.snapshot()
		if err != nil {
			return reviewerr.Wrap(reviewerr.ErrSourceUnavailable, "ensure", task.key, err)
		}
		return nil
	}
}

// Progress reports download state for key, per the /progress endpoint.
func (c *Cache) Progress(key string) Progress {
	c.mu.Lock()
	entry, haveEntry := c.entries[key]
	task, haveTask := c.downloads[key]
	c.mu.Unlock()

	if haveTask {
		have, total, _ := task.snapshot()
		return Progress{BytesHave: have, BytesTotal: total, Complete: false, StartedAt: task.startedAt, Exists: true}
	}
	if haveEntry {
		return Progress{
			BytesHave:  entry.Size,
			BytesTotal: entry.Total,
			Complete:   !entry.Partial,
			StartedAt:  entry.FirstDownloadAt,
			Exists:     true,
		}
	}
	return Progress{}
}

func (c *Cache) touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.LastAccessAt = time.Now()
	}
}

// Abort cancels any in-flight download task for key without touching the
// completed local file, per spec §4.3 "switching keys": cache entries for
// the previous key's download task (not the local file) are cleared.
func (c *Cache) Abort(key string) {
	c.mu.Lock()
	task, ok := c.downloads[key]
	c.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// AbortAll cancels every in-flight download task.
func (c *Cache) AbortAll() {
	c.mu.Lock()
	tasks := make([]*downloadTask, 0, len(c.downloads))
	for _, t := range c.downloads {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
}

// startDownload decides, for key, whether a new download task needs to be
// created. Concurrent callers collapse onto one decision via sfg (spec
// §4.1's singleflight requirement); each still re-evaluates its own need
// against the resulting task after this returns.
func (c *Cache) startDownload(ctx context.Context, key, localPath string) error {
	_, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if _, ok := c.downloads[key]; ok {
			c.mu.Unlock()
			return nil, nil
		}
		taskCtx, cancel := context.WithCancel(context.Background())
		task := newDownloadTask(key, cancel)
		c.downloads[key] = task
		c.entries[key] = &Entry{
			Key:             key,
			LocalPath:       localPath,
			Partial:         true,
			FirstDownloadAt: time.Now(),
			LastAccessAt:    time.Now(),
			Total:           -1,
		}
		c.mu.Unlock()

		go c.runDownload(taskCtx, task, localPath)
		return nil, nil
	})
	if err != nil {
		return reviewerr.Wrap(reviewerr.ErrIOError, "ensure", key, err)
	}
	if ctx.Err() != nil {
		return reviewerr.Wrap(reviewerr.ErrCancelled, "ensure", key, ctx.Err())
	}
	return nil
}

func (c *Cache) runDownload(ctx context.Context, task *downloadTask, localPath string) {
	logger := xglog.WithComponent("sourcecache")

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		c.failDownload(task, reviewerr.Wrap(reviewerr.ErrIOError, "download", task.key, err), localPath)
		return
	}

	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		c.failDownload(task, reviewerr.Wrap(reviewerr.ErrIOError, "download", task.key, err), localPath)
		return
	}
	defer func() { _ = f.Close() }()

	body, total, err := c.store.Get(ctx, task.key, 0)
	if err != nil {
		c.failDownload(task, err, localPath)
		return
	}
	defer func() { _ = body.Close() }()

	if total > 0 {
		task.setTotal(total)
		c.mu.Lock()
		if e, ok := c.entries[task.key]; ok {
			e.Total = total
		}
		c.mu.Unlock()
	}

	dst := &writeCounter{w: f, task: task}
	written, copyErr := copyWithStallDetection(ctx, dst, body)
	_ = written

	if copyErr != nil {
		kind := reviewerr.ErrSourceUnavailable
		if copyErr == context.DeadlineExceeded {
			kind = reviewerr.ErrTimeout
		} else if ctx.Err() != nil {
			kind = reviewerr.ErrCancelled
		}
		c.failDownload(task, reviewerr.Wrap(kind, "download", task.key, copyErr), localPath)
		return
	}

	c.mu.Lock()
	if e, ok := c.entries[task.key]; ok {
		e.Partial = false
		e.Size, _, _ = task.snapshot()
		if e.Total <= 0 {
			e.Total = e.Size
		}
	}
	delete(c.downloads, task.key)
	c.mu.Unlock()

	task.finish(nil)
	logger.Info().Str("key", task.key).Msg("download complete")

	c.evictOpportunistic()
}

func (c *Cache) failDownload(task *downloadTask, err error, localPath string) {
	c.mu.Lock()
	delete(c.entries, task.key)
	delete(c.downloads, task.key)
	c.mu.Unlock()

	_ = os.Remove(localPath)

	xglog.WithComponent("sourcecache").Error().Str("key", task.key).Err(err).Msg("download failed")
	task.finish(err)
}

// evictOpportunistic runs EvictLRU only when the budget is exceeded,
// invoked at the end of a completed download per spec §4.1 "Eviction".
func (c *Cache) evictOpportunistic() {
	if c.totalBytes() > c.byteBudget {
		c.EvictLRU()
	}
}

func (c *Cache) totalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, e := range c.entries {
		total += e.Size
	}
	return total
}

// EvictLRU deletes least-recently-accessed, non-partial, non-session-backed
// entries until total bytes <= 0.8 * budget, per spec §4.1.
func (c *Cache) EvictLRU() {
	const targetFraction = 0.8

	c.mu.Lock()
	candidates := make([]*Entry, 0, len(c.entries))
	for key, e := range c.entries {
		if e.Partial || c.sessionBackedKey(key) {
			continue
		}
		candidates = append(candidates, e)
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessAt.Before(candidates[j].LastAccessAt)
	})

	target := int64(float64(c.byteBudget) * targetFraction)
	for _, e := range candidates {
		if c.totalBytes() <= target {
			break
		}
		if err := os.Remove(e.LocalPath); err != nil && !os.IsNotExist(err) {
			xglog.WithComponent("sourcecache").Warn().Str("key", e.Key).Err(err).Msg("eviction remove failed")
			continue
		}
		c.mu.Lock()
		delete(c.entries, e.Key)
		c.mu.Unlock()
		metrics.SourceCacheEvictions.Inc()
	}
	metrics.SourceCacheBytesOnDisk.Set(float64(c.totalBytes()))
}
