package cache

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes engine statistics as Prometheus metrics. It reads a
// snapshot on every scrape, so it never holds entry-level locks beyond the
// counter copies. Register it on any prometheus.Registerer:
//
//	prometheus.MustRegister(cache.NewCollector(engine))
type Collector struct {
	engine *Engine

	hits         *prometheus.Desc
	misses       *prometheus.Desc
	sets         *prometheus.Desc
	deletes      *prometheus.Desc
	evictions    *prometheus.Desc
	errors       *prometheus.Desc
	items        *prometheus.Desc
	bytes        *prometheus.Desc
	savedBytes   *prometheus.Desc
	prefetchOps  *prometheus.Desc
	remoteHealth *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Prometheus collector for the engine.
func NewCollector(engine *Engine) *Collector {
	tier := []string{"tier"}
	return &Collector{
		engine:       engine,
		hits:         prometheus.NewDesc("cache_hits_total", "Cache hits by tier.", tier, nil),
		misses:       prometheus.NewDesc("cache_misses_total", "Cache misses by tier.", tier, nil),
		sets:         prometheus.NewDesc("cache_sets_total", "Cache writes by tier.", tier, nil),
		deletes:      prometheus.NewDesc("cache_deletes_total", "Cache deletes by tier.", tier, nil),
		evictions:    prometheus.NewDesc("cache_evictions_total", "Capacity evictions by tier.", tier, nil),
		errors:       prometheus.NewDesc("cache_errors_total", "Absorbed cache errors by tier.", tier, nil),
		items:        prometheus.NewDesc("cache_partition_items", "Live entries per partition.", []string{"partition"}, nil),
		bytes:        prometheus.NewDesc("cache_partition_bytes", "Bytes in use per partition.", []string{"partition"}, nil),
		savedBytes:   prometheus.NewDesc("cache_compression_saved_bytes", "Bytes saved by compression.", nil, nil),
		prefetchOps:  prometheus.NewDesc("cache_prefetch_total", "Prefetch attempts by outcome.", []string{"outcome"}, nil),
		remoteHealth: prometheus.NewDesc("cache_remote_healthy", "1 when the remote tier is healthy.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.sets
	ch <- c.deletes
	ch <- c.evictions
	ch <- c.errors
	ch <- c.items
	ch <- c.bytes
	ch <- c.savedBytes
	ch <- c.prefetchOps
	ch <- c.remoteHealth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Stats()
	for tier, stats := range map[string]TierStats{"l1": snap.L1, "l2": snap.L2} {
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits), tier)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses), tier)
		ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(stats.Sets), tier)
		ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(stats.Deletes), tier)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions), tier)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors), tier)
	}
	for i, p := range snap.Partitions {
		label := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(p.Items), label)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(p.Bytes), label)
	}
	ch <- prometheus.MustNewConstMetric(c.savedBytes, prometheus.GaugeValue, float64(snap.CompressionSavings()))
	ch <- prometheus.MustNewConstMetric(c.prefetchOps, prometheus.CounterValue, float64(snap.PrefetchAttempts), "attempt")
	ch <- prometheus.MustNewConstMetric(c.prefetchOps, prometheus.CounterValue, float64(snap.PrefetchHits), "hit")
	healthy := 0.0
	if snap.RemoteHealth == HealthHealthy {
		healthy = 1
	}
	ch <- prometheus.MustNewConstMetric(c.remoteHealth, prometheus.GaugeValue, healthy)
}
