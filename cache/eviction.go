package cache

import (
	"sort"
	"time"
)

// candidate is a point-in-time view of an entry considered for eviction.
// Captured one partition lock at a time; the seq guard on removal handles
// entries replaced after the scan.
type candidate struct {
	key         string
	part        int
	size        int64
	createdAt   time.Time
	lastAccess  time.Time
	ttl         time.Duration
	accessCount int64
	seq         uint64
}

// evict frees at least need bytes from L1. Expired entries are removed
// first regardless of policy; if that is not enough, live entries are
// evicted in policy order. Returns the number of policy evictions and the
// total bytes freed. The loop terminates when enough space is freed or no
// evictable entries remain.
func (e *Engine) evict(need int64) (int, int64) {
	now := time.Now()

	var freed int64
	for _, p := range e.partitions {
		_, f := p.sweep(now)
		freed += f
	}
	if freed >= need {
		return 0, freed
	}

	var cands []candidate
	for i, p := range e.partitions {
		cands = p.candidates(i, now, cands)
	}
	if len(cands) == 0 {
		return 0, freed
	}

	e.rank(cands, now)

	var evicted int
	for _, c := range cands {
		if freed >= need {
			break
		}
		size, ok := e.partitions[c.part].removeSeq(c.key, c.seq)
		if !ok {
			continue
		}
		freed += size
		evicted++
		e.stats.l1.evictions.Add(1)
	}
	return evicted, freed
}

// rank orders candidates so the first entries are the first to evict.
func (e *Engine) rank(cands []candidate, now time.Time) {
	switch e.cfg.policy {
	case PolicyLFU:
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].accessCount != cands[j].accessCount {
				return cands[i].accessCount < cands[j].accessCount
			}
			return cands[i].seq < cands[j].seq
		})
	case PolicyFIFO:
		sort.Slice(cands, func(i, j int) bool {
			return cands[i].seq < cands[j].seq
		})
	case PolicyHybrid:
		var maxAccess int64 = 1
		for _, c := range cands {
			if c.accessCount > maxAccess {
				maxAccess = c.accessCount
			}
		}
		scores := make([]float64, len(cands))
		for i, c := range cands {
			scores[i] = e.hybridScore(c, now, maxAccess)
		}
		sort.Sort(&byScoreDesc{cands: cands, scores: scores})
	default: // PolicyLRU
		sort.Slice(cands, func(i, j int) bool {
			return cands[i].lastAccess.Before(cands[j].lastAccess)
		})
	}
}

// hybridScore combines normalized recency and inverse normalized frequency.
// Higher scores mean older and less used, evicted first. Recency is
// unbounded above 1 for entries idle past their TTL.
func (e *Engine) hybridScore(c candidate, now time.Time, maxAccess int64) float64 {
	recency := float64(now.Sub(c.lastAccess)) / float64(c.ttl)
	frequency := float64(c.accessCount) / float64(maxAccess)
	return e.cfg.recencyWeight*recency + e.cfg.frequencyWeight*(1-frequency)
}

type byScoreDesc struct {
	cands  []candidate
	scores []float64
}

func (s *byScoreDesc) Len() int           { return len(s.cands) }
func (s *byScoreDesc) Less(i, j int) bool { return s.scores[i] > s.scores[j] }
func (s *byScoreDesc) Swap(i, j int) {
	s.cands[i], s.cands[j] = s.cands[j], s.cands[i]
	s.scores[i], s.scores[j] = s.scores[j], s.scores[i]
}
