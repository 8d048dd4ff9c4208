package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// partition is one independently locked shard of the L1 keyspace. The byte
// counter is atomic so aggregate usage can be read without taking the lock;
// it is only ever written while the lock is held.
type partition struct {
	mu      sync.Mutex
	entries map[string]*entry
	bytes   atomic.Int64
}

func newPartition() *partition {
	return &partition{entries: make(map[string]*entry)}
}

// hit carries the fields of an entry a reader needs after the partition lock
// is released. The data slice is never mutated after insertion.
type hit struct {
	data       []byte
	compressed bool
	ttlUsed    float64
}

// get returns the stored bytes for key, refreshing the access timestamp and
// count. An expired entry is removed and reported as a miss.
func (p *partition) get(key string, now time.Time) (hit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return hit{}, false
	}
	if e.expired(now) {
		p.removeLocked(key, e)
		return hit{}, false
	}
	used := e.ttlUsed(now)
	e.touch(now)
	return hit{data: e.data, compressed: e.compressed, ttlUsed: used}, true
}

// set inserts or replaces the entry for key and updates the byte counter.
func (p *partition) set(key string, e *entry) {
	p.mu.Lock()
	if old, ok := p.entries[key]; ok {
		p.bytes.Add(-int64(old.storedSize))
	}
	p.entries[key] = e
	p.bytes.Add(int64(e.storedSize))
	p.mu.Unlock()
}

// has reports whether a live entry exists for key without refreshing it.
func (p *partition) has(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	return ok && !e.expired(now)
}

// delete removes key and reports whether it was present.
func (p *partition) delete(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return false
	}
	p.removeLocked(key, e)
	return true
}

// removeSeq removes key only if it still holds the entry identified by seq.
// Used by the eviction loop to avoid removing an entry replaced between the
// candidate scan and the removal.
func (p *partition) removeSeq(key string, seq uint64) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok || e.seq != seq {
		return 0, false
	}
	p.removeLocked(key, e)
	return int64(e.storedSize), true
}

func (p *partition) removeLocked(key string, e *entry) {
	delete(p.entries, key)
	p.bytes.Add(-int64(e.storedSize))
}

// sweep removes every expired entry and returns the freed byte count.
func (p *partition) sweep(now time.Time) (int, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed int
	var freed int64
	for key, e := range p.entries {
		if e.expired(now) {
			freed += int64(e.storedSize)
			p.removeLocked(key, e)
			removed++
		}
	}
	return removed, freed
}

// flush drops every entry and returns how many were removed.
func (p *partition) flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.entries)
	p.entries = make(map[string]*entry)
	p.bytes.Store(0)
	return n
}

// keysMatching returns the keys accepted by match.
func (p *partition) keysMatching(match func(string) bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for key := range p.entries {
		if match(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// candidates appends an eviction candidate for every live entry.
func (p *partition) candidates(idx int, now time.Time, out []candidate) []candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if e.expired(now) {
			continue
		}
		out = append(out, candidate{
			key:         key,
			part:        idx,
			size:        int64(e.storedSize),
			createdAt:   e.createdAt,
			lastAccess:  e.lastAccess,
			ttl:         e.ttl,
			accessCount: e.accessCount,
			seq:         e.seq,
		})
	}
	return out
}

// usage returns the item count and byte usage of the partition.
func (p *partition) usage() (int, int64) {
	p.mu.Lock()
	n := len(p.entries)
	p.mu.Unlock()
	return n, p.bytes.Load()
}
