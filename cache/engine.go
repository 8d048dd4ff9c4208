package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine is the multi-tier caching engine. Reads check the partitioned
// in-memory tier first and fall back to the optional remote tier, promoting
// on hit. Writes land in memory unconditionally and in the remote tier
// opportunistically. All remote failures degrade the engine to L1-only
// behavior; they are never surfaced to callers.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config
	log    *zap.Logger

	hasher     Hasher
	codec      *codec
	partitions []*partition
	patterns   *registry
	stats      *Stats
	remote     *remoteTier // nil when no remote store is configured
	telemetry  Telemetry

	l1Budget int64
	seq      atomic.Uint64

	fetchGroup singleflight.Group
	waitGroup  sync.WaitGroup
	once       sync.Once

	// taskMu serializes prefetch task registration against Close, so no
	// task is added to the group after Close started waiting on it.
	taskMu    sync.Mutex
	taskGroup sync.WaitGroup
	closed    bool
}

// New constructs an Engine. The returned error is non-nil only for invalid
// configuration; it wraps ErrInvalidConfig.
func New(parent context.Context, opts ...Option) (*Engine, error) {
	cfg := applyOptions(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	e := &Engine{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		log:    cfg.logger,
		hasher: cfg.hasher,
		codec: &codec{
			threshold: cfg.compressionThreshold,
			level:     cfg.compressionLevel,
		},
		partitions: make([]*partition, cfg.partitions),
		patterns:   newRegistry(),
		stats:      &Stats{},
		telemetry:  cfg.telemetry,
		l1Budget:   int64(float64(cfg.maxMemory) * cfg.l1SizeRatio),
	}
	for i := range e.partitions {
		e.partitions[i] = newPartition()
	}
	if cfg.remote != nil {
		e.remote = newRemoteTier(cfg.remote, cfg.remoteTimeout, cfg.remoteFailureLimit)
	}
	e.waitGroup.Add(1)
	go e.run()
	return e, nil
}

// partitionFor routes a key to its owning partition. Deterministic for the
// lifetime of the engine.
func (e *Engine) partitionFor(key string) *partition {
	return e.partitions[e.hasher.Sum64(key)%uint64(len(e.partitions))]
}

// usedBytes aggregates the per-partition byte counters. Lock-free: the
// counters are atomics maintained under each partition's lock.
func (e *Engine) usedBytes() int64 {
	var total int64
	for _, p := range e.partitions {
		total += p.bytes.Load()
	}
	return total
}

// Get retrieves the value for key. Every failure path reports a miss; Get
// never returns an error.
func (e *Engine) Get(ctx context.Context, key string) (bool, any) {
	var out any
	if !e.getInto(ctx, key, &out) {
		return false, nil
	}
	return true, out
}

// GetAs retrieves the value for key decoded into T. Like Engine.Get, every
// failure path reports a miss.
func GetAs[T any](ctx context.Context, e *Engine, key string) (bool, T) {
	var out T
	if !e.getInto(ctx, key, &out) {
		var zero T
		return false, zero
	}
	return true, out
}

func (e *Engine) getInto(ctx context.Context, key string, out any) bool {
	ctx, span := e.telemetry.StartSpan(ctx, "cache.get", map[string]any{"cache.key": key})
	defer span.End()

	now := time.Now()
	p := e.partitionFor(key)
	if h, ok := p.get(key, now); ok {
		if err := e.codec.decode(h.data, h.compressed, out); err != nil {
			// The entry stays: a decode failure is typically a
			// mismatched target type on the caller's side, and a
			// read must never destroy the value for other readers.
			e.stats.l1.errors.Add(1)
			e.stats.l1.misses.Add(1)
			e.log.Error("failed to decode cached value", zap.String("key", key), zap.Error(err))
			span.RecordError(err)
			return false
		}
		e.stats.l1.hits.Add(1)
		span.SetAttribute("cache.tier", "l1")
		e.maybePrefetch(key, h.ttlUsed)
		return true
	}
	e.stats.l1.misses.Add(1)

	if e.remote == nil || !e.remote.attempting() {
		span.SetAttribute("cache.result", "miss")
		return false
	}

	raw, found := e.remoteFetch(ctx, key, span)
	if !found {
		span.SetAttribute("cache.result", "miss")
		return false
	}
	e.stats.l2.hits.Add(1)
	span.SetAttribute("cache.tier", "l2")

	if err := e.codec.decode(raw, false, out); err != nil {
		e.stats.l2.errors.Add(1)
		e.log.Error("failed to decode remote value", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return false
	}

	// Promote into L1 only once the payload proved decodable, so the next
	// read is local.
	e.promote(key, raw, e.cfg.ttl)
	return true
}

// fetchResult is the shared flight result for remote reads. Both the read
// path and the prefetcher join the same singleflight group, so they must
// agree on the stored type.
type fetchResult struct {
	data  []byte
	found bool
}

// remoteFetch reads key from the remote tier, collapsing concurrent fetches
// for the same key into one call.
func (e *Engine) remoteFetch(ctx context.Context, key string, span Span) ([]byte, bool) {
	v, err, _ := e.fetchGroup.Do(key, func() (any, error) {
		data, found, err := e.remote.get(ctx, key)
		if err != nil {
			return nil, err
		}
		return fetchResult{data: data, found: found}, nil
	})
	if err != nil {
		e.stats.l2.errors.Add(1)
		e.logRemoteFailure("get", key, err)
		span.RecordError(err)
		return nil, false
	}
	res := v.(fetchResult)
	if !res.found {
		e.stats.l2.misses.Add(1)
	}
	return res.data, res.found
}

// Set stores the value for key. The returned error is non-nil only when the
// value cannot be serialized; every other failure is absorbed and counted.
func (e *Engine) Set(ctx context.Context, key string, val any, opts ...SetOption) error {
	ctx, span := e.telemetry.StartSpan(ctx, "cache.set", map[string]any{"cache.key": key})
	defer span.End()

	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}
	ttl := so.ttl
	if ttl <= 0 {
		ttl = e.cfg.ttl
	}

	enc, compressErr, err := e.codec.encode(val)
	if err != nil {
		e.stats.l1.errors.Add(1)
		span.RecordError(err)
		return err
	}
	if compressErr != nil {
		e.stats.l1.errors.Add(1)
		e.log.Warn("compression failed, storing uncompressed",
			zap.String("key", key), zap.Error(compressErr))
	}
	if enc.compressed {
		e.stats.compressionOriginal.Add(int64(enc.originalSize))
		e.stats.compressionStored.Add(int64(len(enc.data)))
		span.SetAttribute("cache.compressed", true)
	}

	e.insert(key, enc, ttl, so.metadata)
	e.stats.l1.sets.Add(1)

	if len(so.prefetch) > 0 {
		pattern := so.pattern
		if pattern == "" {
			pattern = key
		}
		e.patterns.registerPrefetch(pattern, key, so.prefetch)
	} else if so.pattern != "" {
		e.patterns.registerInvalidation(so.pattern, key)
	}

	if e.remote != nil && e.remote.attempting() {
		if rerr := e.remote.set(ctx, key, enc.raw, ttl); rerr != nil {
			e.stats.l2.errors.Add(1)
			e.logRemoteFailure("set", key, rerr)
			span.RecordError(rerr)
		} else {
			e.stats.l2.sets.Add(1)
		}
	}
	return nil
}

// insert places an encoded value into L1, evicting first when the byte
// budget would be exceeded. Values larger than the whole L1 budget are not
// cached locally.
func (e *Engine) insert(key string, enc encoded, ttl time.Duration, metadata map[string]string) {
	size := int64(len(enc.data))
	if size > e.l1Budget {
		e.log.Warn("value exceeds L1 budget, skipping local tier",
			zap.String("key", key), zap.Int64("size", size))
		return
	}
	if used := e.usedBytes(); used+size > e.l1Budget {
		evicted, freed := e.evict(used + size - e.l1Budget)
		if evicted > 0 {
			e.log.Debug("evicted entries to free space",
				zap.Int("evicted", evicted),
				zap.Int64("freed", freed),
				zap.String("policy", e.cfg.policy.String()))
		}
	}
	now := time.Now()
	e.partitionFor(key).set(key, &entry{
		data:         enc.data,
		createdAt:    now,
		lastAccess:   now,
		ttl:          ttl,
		originalSize: enc.originalSize,
		storedSize:   len(enc.data),
		compressed:   enc.compressed,
		seq:          e.seq.Add(1),
		metadata:     metadata,
	})
}

// promote compresses a remote payload as needed and inserts it into L1.
func (e *Engine) promote(key string, raw []byte, ttl time.Duration) {
	enc, compressErr := e.codec.encodeRaw(raw)
	if compressErr != nil {
		e.stats.l1.errors.Add(1)
	}
	if enc.compressed {
		e.stats.compressionOriginal.Add(int64(enc.originalSize))
		e.stats.compressionStored.Add(int64(len(enc.data)))
	}
	e.insert(key, enc, ttl, nil)
}

// Delete removes key from both tiers. Reports whether the key existed in
// either.
func (e *Engine) Delete(ctx context.Context, key string) bool {
	removed := e.partitionFor(key).delete(key)
	if removed {
		e.stats.l1.deletes.Add(1)
	}
	e.patterns.forget(key)
	if e.remote != nil && e.remote.attempting() {
		n, err := e.remote.delete(ctx, key)
		if err != nil {
			e.stats.l2.errors.Add(1)
			e.logRemoteFailure("delete", key, err)
		} else if n > 0 {
			e.stats.l2.deletes.Add(int64(n))
			removed = true
		}
	}
	return removed
}

// InvalidatePattern removes every key registered under pattern from both
// tiers. When the pattern contains wildcard syntax (* or ?), matching keys
// found by scanning L1 and the remote keyspace are removed as well. Returns
// the number of distinct keys invalidated; partial failures reduce the
// count but never raise an error.
func (e *Engine) InvalidatePattern(ctx context.Context, pattern string) int {
	ctx, span := e.telemetry.StartSpan(ctx, "cache.invalidate_pattern", map[string]any{"cache.pattern": pattern})
	defer span.End()

	registered, matcher := e.patterns.take(pattern)

	processed := make(map[string]struct{})
	var count int
	var counted, uncounted []string
	removeL1 := func(key string) {
		if _, ok := processed[key]; ok {
			return
		}
		processed[key] = struct{}{}
		if e.partitionFor(key).delete(key) {
			e.stats.l1.deletes.Add(1)
			count++
			counted = append(counted, key)
		} else {
			uncounted = append(uncounted, key)
		}
	}

	// Exact registered keys are removed unconditionally.
	for _, key := range registered {
		removeL1(key)
	}
	if matcher != nil {
		for _, p := range e.partitions {
			for _, key := range p.keysMatching(matcher.MatchString) {
				removeL1(key)
			}
		}
	}

	if e.remote != nil && e.remote.attempting() {
		if matcher != nil {
			if rkeys, err := e.remote.keys(ctx, pattern); err != nil {
				e.stats.l2.errors.Add(1)
				e.logRemoteFailure("keys", pattern, err)
			} else {
				for _, key := range rkeys {
					if _, ok := processed[key]; !ok {
						processed[key] = struct{}{}
						uncounted = append(uncounted, key)
					}
				}
			}
		}
		// Keys already counted from L1 are removed remotely too but not
		// counted twice. Keys found only remotely count as invalidated.
		if len(counted) > 0 {
			if n, err := e.remote.delete(ctx, counted...); err != nil {
				e.stats.l2.errors.Add(1)
				e.logRemoteFailure("delete", pattern, err)
			} else {
				e.stats.l2.deletes.Add(int64(n))
			}
		}
		if len(uncounted) > 0 {
			if n, err := e.remote.delete(ctx, uncounted...); err != nil {
				e.stats.l2.errors.Add(1)
				e.logRemoteFailure("delete", pattern, err)
			} else {
				e.stats.l2.deletes.Add(int64(n))
				count += n
			}
		}
	}

	span.SetAttribute("cache.invalidated", count)
	return count
}

// Flush empties both tiers and drops every pattern subscription. Remote
// failures are absorbed; Flush reports success as long as the in-memory
// tier was cleared, so invoking it twice leaves the same empty state as
// once.
func (e *Engine) Flush(ctx context.Context) bool {
	ctx, span := e.telemetry.StartSpan(ctx, "cache.flush", nil)
	defer span.End()

	for _, p := range e.partitions {
		p.flush()
	}
	e.patterns.flush()
	if e.remote != nil && e.remote.attempting() {
		if err := e.remote.flush(ctx); err != nil {
			e.stats.l2.errors.Add(1)
			e.logRemoteFailure("flush", "", err)
		}
	}
	return true
}

// Stats returns an immutable snapshot of the engine counters. Partition
// locks are not held beyond each counter read.
func (e *Engine) Stats() Snapshot {
	snap := Snapshot{
		L1:                       e.stats.l1.snapshot(),
		L2:                       e.stats.l2.snapshot(),
		CompressionOriginalBytes: e.stats.compressionOriginal.Load(),
		CompressionStoredBytes:   e.stats.compressionStored.Load(),
		PrefetchAttempts:         e.stats.prefetchAttempts.Load(),
		PrefetchHits:             e.stats.prefetchHits.Load(),
		Partitions:               make([]PartitionStats, len(e.partitions)),
		RemoteHealth:             HealthDisabled,
	}
	for i, p := range e.partitions {
		items, bytes := p.usage()
		snap.Partitions[i] = PartitionStats{Items: items, Bytes: bytes}
		snap.Items += items
		snap.Bytes += bytes
	}
	if e.remote != nil {
		snap.RemoteHealth = e.remote.health()
	}
	return snap
}

// RemoteHealth reports the remote tier's health state. HealthDisabled when
// no remote store is configured.
func (e *Engine) RemoteHealth() HealthState {
	if e.remote == nil {
		return HealthDisabled
	}
	return e.remote.health()
}

// ResetRemote re-enables a remote tier disabled by repeated failures.
func (e *Engine) ResetRemote() {
	if e.remote != nil {
		e.remote.reset()
		e.log.Info("remote tier reset", zap.String("health", e.remote.health().String()))
	}
}

// Close stops the background sweeper and waits for in-flight prefetch
// tasks.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.cancel()
		e.taskMu.Lock()
		e.closed = true
		e.taskMu.Unlock()
		e.taskGroup.Wait()
		e.waitGroup.Wait()
	})
	return nil
}

// maybePrefetch schedules a background warm-up of the keys related to key
// once the entry has consumed enough of its TTL. Fire-and-forget: failures
// are counted, never surfaced, never retried synchronously.
func (e *Engine) maybePrefetch(key string, ttlUsed float64) {
	if e.remote == nil || !e.remote.attempting() {
		return
	}
	if ttlUsed < e.cfg.prefetchThreshold {
		return
	}
	targets := e.patterns.prefetchTargets(key)
	if len(targets) == 0 {
		return
	}
	e.taskMu.Lock()
	if e.closed {
		e.taskMu.Unlock()
		return
	}
	e.taskGroup.Add(1)
	e.taskMu.Unlock()
	go e.prefetch(targets)
}

func (e *Engine) prefetch(targets []string) {
	defer e.taskGroup.Done()
	now := time.Now()
	for _, key := range targets {
		if e.ctx.Err() != nil {
			return
		}
		if e.partitionFor(key).has(key, now) {
			continue
		}
		if !e.remote.attempting() {
			return
		}
		e.stats.prefetchAttempts.Add(1)
		raw, found := e.prefetchFetch(key)
		if !found {
			continue
		}
		e.promote(key, raw, e.cfg.ttl)
		e.stats.prefetchHits.Add(1)
	}
}

func (e *Engine) prefetchFetch(key string) ([]byte, bool) {
	v, err, _ := e.fetchGroup.Do(key, func() (any, error) {
		data, found, err := e.remote.get(e.ctx, key)
		if err != nil {
			return nil, err
		}
		return fetchResult{data: data, found: found}, nil
	})
	if err != nil {
		e.stats.l2.errors.Add(1)
		e.log.Debug("prefetch fetch failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	res := v.(fetchResult)
	return res.data, res.found
}

// logRemoteFailure logs a remote tier failure, escalating to a warning when
// the failure run disables the tier.
func (e *Engine) logRemoteFailure(op, key string, err error) {
	if e.remote.health() == HealthDisabled {
		e.log.Warn("remote tier disabled after repeated failures",
			zap.String("op", op), zap.String("key", key), zap.Error(err))
		return
	}
	e.log.Debug("remote tier call failed",
		zap.String("op", op), zap.String("key", key), zap.Error(err))
}

// run is the background expired entry sweeper. Partition locks are taken
// one at a time.
func (e *Engine) run() {
	defer e.waitGroup.Done()
	ticker := time.NewTicker(e.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var removed int
			for _, p := range e.partitions {
				n, _ := p.sweep(now)
				removed += n
			}
			if removed > 0 {
				e.log.Debug("swept expired entries", zap.Int("removed", removed))
			}
		}
	}
}
