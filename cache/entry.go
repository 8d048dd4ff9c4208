package cache

import "time"

// entry is the stored form of a cached value. Owned exclusively by the
// partition holding it; every field access happens under that partition's
// lock.
type entry struct {
	data         []byte
	createdAt    time.Time
	lastAccess   time.Time
	ttl          time.Duration
	originalSize int
	storedSize   int
	compressed   bool
	accessCount  int64
	seq          uint64
	metadata     map[string]string
}

// expired reports whether the entry's TTL has elapsed since its last access.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.lastAccess) > e.ttl
}

// ttlUsed returns the fraction of the TTL consumed since the last access.
func (e *entry) ttlUsed(now time.Time) float64 {
	if e.ttl <= 0 {
		return 1
	}
	return float64(now.Sub(e.lastAccess)) / float64(e.ttl)
}

// touch refreshes the access timestamp and bumps the access count.
func (e *entry) touch(now time.Time) {
	e.lastAccess = now
	e.accessCount++
}
