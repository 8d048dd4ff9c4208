package cache

import "sync/atomic"

// tierCounters holds the per-tier operation counters. All fields are
// atomics so updates never require a lock.
type tierCounters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64
}

func (t *tierCounters) snapshot() TierStats {
	return TierStats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Sets:      t.sets.Load(),
		Deletes:   t.deletes.Load(),
		Evictions: t.evictions.Load(),
		Errors:    t.errors.Load(),
	}
}

// Stats accumulates engine counters using lock-free atomics.
type Stats struct {
	l1 tierCounters
	l2 tierCounters

	compressionOriginal atomic.Int64
	compressionStored   atomic.Int64

	prefetchAttempts atomic.Int64
	prefetchHits     atomic.Int64
}

// TierStats is a point-in-time copy of one tier's counters.
type TierStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
	Errors    int64
}

// HitRate returns the tier hit rate in [0,1], 0 when there were no reads.
func (t TierStats) HitRate() float64 {
	total := t.Hits + t.Misses
	if total == 0 {
		return 0
	}
	return float64(t.Hits) / float64(total)
}

// PartitionStats is a point-in-time copy of one partition's usage.
type PartitionStats struct {
	Items int
	Bytes int64
}

// Snapshot is an immutable point-in-time copy of the engine statistics.
type Snapshot struct {
	L1 TierStats
	L2 TierStats

	// Compression accounting over every stored value that crossed the
	// compression threshold.
	CompressionOriginalBytes int64
	CompressionStoredBytes   int64

	PrefetchAttempts int64
	PrefetchHits     int64

	Partitions []PartitionStats
	Items      int
	Bytes      int64

	RemoteHealth HealthState
}

// CompressionSavings returns the bytes saved by compression.
func (s Snapshot) CompressionSavings() int64 {
	return s.CompressionOriginalBytes - s.CompressionStoredBytes
}

// CompressionRatio returns stored/original bytes, 1 when nothing was
// compressed.
func (s Snapshot) CompressionRatio() float64 {
	if s.CompressionOriginalBytes == 0 {
		return 1
	}
	return float64(s.CompressionStoredBytes) / float64(s.CompressionOriginalBytes)
}

// HitRate returns the fraction of reads served from either tier. Every
// read counts once against L1, so L1 traffic is the request total.
func (s Snapshot) HitRate() float64 {
	requests := s.L1.Hits + s.L1.Misses
	if requests == 0 {
		return 0
	}
	return float64(s.L1.Hits+s.L2.Hits) / float64(requests)
}
