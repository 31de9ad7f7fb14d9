// Package engine is the storage engine's public contract: a write-back,
// LRU-evicting in-memory cache layered over a hash-sharded on-disk file
// store. It is adapted from the teacher's kvcache.KVCache, generalized
// from a TTL-expiring cache to a disk-backed one (the Cache Index and
// Eviction Policy live in internal/cacheindex; the on-disk half in
// internal/diskstore; the background flush loop in internal/flusher).
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fastdb-project/fdb/internal/cacheindex"
	"github.com/fastdb-project/fdb/internal/diskstore"
	"github.com/fastdb-project/fdb/internal/flusher"
	"github.com/fastdb-project/fdb/internal/glob"
)

type lifecycleState int32

const (
	stateFresh lifecycleState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Engine is the facade described in spec.md §4.5: set, get, delete,
// exists, keys, dbsize, flushdb, flush, start, stop.
type Engine struct {
	cfg Config

	index *cacheindex.Index
	disk  *diskstore.Store
	sched *flusher.Scheduler

	logger Logger

	state     atomic.Int32
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Logger is the minimal structured-logging surface the engine needs.
// *zap.SugaredLogger satisfies it; so does zap.NewNop().Sugar() for
// callers that don't want engine log output.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// New creates an engine rooted at cfg.DataDir, creating it if absent.
// The engine is usable immediately (Fresh state); call Start to also
// spawn the background flush scheduler.
func New(cfg Config, logger Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	disk, err := diskstore.New(cfg.DataDir, cfg.FileExtension)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		index:  cacheindex.New(),
		disk:   disk,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	e.sched = flusher.New(cfg.FlushInterval, e.Flush, logger)
	e.state.Store(int32(stateFresh))
	e.logger.Infow("engine initialized", "data_dir", cfg.DataDir, "cache_size", cfg.CacheSize)
	return e, nil
}

func (e *Engine) checkOpen() error {
	switch lifecycleState(e.state.Load()) {
	case stateStopped, stateStopping:
		return ErrClosed
	default:
		return nil
	}
}

// Start transitions Fresh -> Running and spawns the flush scheduler. It is
// idempotent: calling Start again while already Running is a no-op.
func (e *Engine) Start() error {
	if lifecycleState(e.state.Load()) == stateRunning {
		return nil
	}
	if !e.state.CompareAndSwap(int32(stateFresh), int32(stateRunning)) {
		return ErrClosed
	}
	e.startedAt = time.Now()
	e.sched.Start()
	e.logger.Infow("engine started", "flush_interval", e.cfg.FlushInterval)
	return nil
}

// Stop transitions Running -> Stopping -> Stopped: cancels the scheduler,
// performs a final flush, and waits for inflight work. It is safe to call
// more than once; later calls are no-ops.
func (e *Engine) Stop() error {
	switch {
	case e.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)):
		e.sched.Stop()
	case e.state.CompareAndSwap(int32(stateFresh), int32(stateStopping)):
		// Scheduler was never started (embedded use without Start); still
		// owe a final flush so no dirty entry set before Stop is lost.
	default:
		return nil
	}

	_, err := e.Flush(context.Background())
	e.cancel()
	e.state.Store(int32(stateStopped))
	e.logger.Infow("engine stopped")
	return err
}

// Set installs a fresh dirty cache entry for key, evicting if the cache
// now exceeds CacheSize.
func (e *Engine) Set(key string, value interface{}) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	size := e.index.Set(key, value)
	if size > e.cfg.CacheSize {
		if _, err := e.index.Evict(e.disk.Save); err != nil {
			e.logger.Errorw("eviction could not persist a dirty entry", "error", err)
		}
	}
	return nil
}

// Get returns the value for key. It returns ErrNotFound if key is absent
// from both cache and disk, or if the disk load failed (see SPEC_FULL.md
// §4.7 for why a disk error on the cache-miss path is reported as
// not-found rather than bubbled up).
func (e *Engine) Get(key string) (interface{}, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	if v, ok := e.index.Get(key); ok {
		return v, nil
	}

	v, found, err := e.disk.Load(key)
	if err != nil {
		e.logger.Errorw("disk load failed, reporting not-found", "key", key, "error", err)
		return nil, ErrNotFound
	}
	if !found {
		return nil, ErrNotFound
	}
	e.index.Warm(key, v)
	return v, nil
}

// Delete removes key from cache unconditionally and from disk. A missing
// disk file is success, matching spec.md §4.5.
func (e *Engine) Delete(key string) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	e.index.Delete(key)
	if err := e.disk.Remove(key); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether key is present in cache or on disk.
func (e *Engine) Exists(key string) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if e.index.Contains(key) {
		return true, nil
	}
	return e.disk.Exists(key), nil
}

// Keys returns the union of live cache keys and disk-record keys, filtered
// by a shell-style glob pattern ("*" matches everything). Keys are matched
// as opaque strings, not filesystem paths, so '*' also matches '/' —
// matching fnmatch.fnmatch's behavior in the original fdb_server.py rather
// than path/filepath.Match's path-separator-aware one. Ordering is
// unspecified.
func (e *Engine) Keys(pattern string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}

	union := make(map[string]struct{})
	for _, k := range e.index.Keys() {
		union[k] = struct{}{}
	}

	diskKeys, err := e.disk.ScanKeys(e.ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: scan disk keys: %w", err)
	}
	for _, k := range diskKeys {
		union[k] = struct{}{}
	}

	if pattern == "*" {
		out := make([]string, 0, len(union))
		for k := range union {
			out = append(out, k)
		}
		return out, nil
	}

	out := make([]string, 0, len(union))
	for k := range union {
		matched, err := glob.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid pattern %q: %w", pattern, err)
		}
		if matched {
			out = append(out, k)
		}
	}
	return out, nil
}

// DBSize returns the size of the same cache-union-disk set Keys computes.
func (e *Engine) DBSize() (int, error) {
	keys, err := e.Keys("*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// FlushDB clears both the cache and the disk store. It blocks until both
// complete.
func (e *Engine) FlushDB() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.index.Clear()
	return e.disk.ClearAll()
}

// Flush snapshots every currently-dirty cache entry, dispatches the writes
// to a bounded worker pool, and — for each write that both succeeds and
// whose entry identity hasn't changed since the snapshot — clears its
// dirty flag. It returns the count of entries cleared. An aggregate error
// is returned if any individual write failed, but cleared entries are
// still reported: callers (including the background scheduler, which
// logs-and-continues per spec.md §4.4) must not treat a non-nil error as
// "nothing was flushed".
func (e *Engine) Flush(ctx context.Context) (int, error) {
	dirty := e.index.DirtySnapshot()
	if len(dirty) == 0 {
		return 0, nil
	}

	type outcome struct {
		key   string
		entry cacheindex.DirtyEntry
		err   error
	}
	results := make(chan outcome, len(dirty))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for key, entry := range dirty {
		key, entry := key, entry
		g.Go(func() error {
			select {
			case <-gctx.Done():
				results <- outcome{key, entry, gctx.Err()}
				return nil
			default:
			}
			err := e.disk.Save(key, entry.Value)
			results <- outcome{key, entry, err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	cleared := 0
	var firstErr error
	for r := range results {
		if r.err != nil {
			e.logger.Errorw("flush write failed", "key", r.key, "error", r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		e.index.ClearDirty(r.key, r.entry)
		cleared++
	}
	if firstErr != nil {
		return cleared, fmt.Errorf("engine: %d of %d dirty writes failed, first error: %w", len(dirty)-cleared, len(dirty), firstErr)
	}
	return cleared, nil
}

// Info reports a snapshot of engine state for the line protocol's INFO
// command: at least cache_entries, as spec.md §6 requires.
func (e *Engine) Info() map[string]string {
	stats := e.index.Stats()
	dbsize, err := e.DBSize()
	if err != nil {
		dbsize = -1
	}
	uptime := time.Duration(0)
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}
	return map[string]string{
		"cache_entries":  strconv.Itoa(stats.Size),
		"dirty_entries":  strconv.Itoa(len(e.index.DirtySnapshot())),
		"hits":           strconv.FormatUint(stats.Hits, 10),
		"misses":         strconv.FormatUint(stats.Misses, 10),
		"evictions":      strconv.FormatUint(stats.Evictions, 10),
		"dbsize":         strconv.Itoa(dbsize),
		"uptime_seconds": strconv.FormatInt(int64(uptime.Seconds()), 10),
	}
}

// Ping always returns "PONG", backing the line protocol's liveness check.
func (e *Engine) Ping() string {
	return "PONG"
}
