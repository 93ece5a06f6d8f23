package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the core metrics collector.
// It records and aggregates metrics from the index registry and the store.
type Collector struct {
	// Mutation metrics
	mutationsTotal    atomic.Int64
	mutations         map[string]*atomic.Int64
	mutationsMu       sync.RWMutex
	mutationLatencies *CircularBuffer

	// Query metrics
	queriesTotal   atomic.Int64
	queryLatencies *CircularBuffer
	queryResults   atomic.Int64

	// Index metrics (per index)
	indexStats map[string]*IndexStat
	indexMu    sync.RWMutex

	// Persistence metrics
	flushesTotal   atomic.Int64
	flushErrors    atomic.Int64
	lastFlushUnix  atomic.Int64
	rebuildsTotal  atomic.Int64
	anomaliesTotal atomic.Int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		mutations:         make(map[string]*atomic.Int64),
		mutationLatencies: NewCircularBuffer(1000),
		queryLatencies:    NewCircularBuffer(1000),
		indexStats:        make(map[string]*IndexStat),
	}
}

// RecordMutation records one index mutation of the given kind.
func (c *Collector) RecordMutation(op string, latency time.Duration) {
	c.mutationsTotal.Add(1)
	c.mutationLatencies.Add(ms(latency))

	c.mutationsMu.RLock()
	n, ok := c.mutations[op]
	c.mutationsMu.RUnlock()
	if !ok {
		c.mutationsMu.Lock()
		if n, ok = c.mutations[op]; !ok {
			n = new(atomic.Int64)
			c.mutations[op] = n
		}
		c.mutationsMu.Unlock()
	}
	n.Add(1)
}

// RecordQuery records a query with its latency and result count.
func (c *Collector) RecordQuery(latency time.Duration, resultCount int) {
	c.queriesTotal.Add(1)
	c.queryLatencies.Add(ms(latency))
	c.queryResults.Add(int64(resultCount))
}

// RecordFlush records a snapshot flush.
func (c *Collector) RecordFlush(err error) {
	if err != nil {
		c.flushErrors.Add(1)
		return
	}
	c.flushesTotal.Add(1)
	c.lastFlushUnix.Store(time.Now().Unix())
}

// RecordRebuild records a full index rebuild.
func (c *Collector) RecordRebuild() {
	c.rebuildsTotal.Add(1)
}

// RecordAnomalies adds n consistency-check anomalies.
func (c *Collector) RecordAnomalies(n int) {
	c.anomaliesTotal.Add(int64(n))
}

// UpdateIndexStats updates index statistics for a specific index.
func (c *Collector) UpdateIndexStats(indexName string, entries, buckets, categories int64) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	c.indexStats[indexName] = &IndexStat{
		Entries:    entries,
		Buckets:    buckets,
		Categories: categories,
		Timestamp:  time.Now(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	snapshot := &Snapshot{
		MutationsTotal:     c.mutationsTotal.Load(),
		MutationLatencyP50: c.mutationLatencies.Percentile(50),
		MutationLatencyP95: c.mutationLatencies.Percentile(95),
		MutationLatencyP99: c.mutationLatencies.Percentile(99),

		QueriesTotal:      c.queriesTotal.Load(),
		QueryLatencyP50:   c.queryLatencies.Percentile(50),
		QueryLatencyP95:   c.queryLatencies.Percentile(95),
		QueryLatencyP99:   c.queryLatencies.Percentile(99),
		QueryResultsTotal: c.queryResults.Load(),

		FlushesTotal:   c.flushesTotal.Load(),
		FlushErrors:    c.flushErrors.Load(),
		RebuildsTotal:  c.rebuildsTotal.Load(),
		AnomaliesTotal: c.anomaliesTotal.Load(),

		Timestamp: time.Now(),
	}
	if ts := c.lastFlushUnix.Load(); ts > 0 {
		snapshot.LastFlushAt = time.Unix(ts, 0)
	}

	c.mutationsMu.RLock()
	snapshot.Mutations = make(map[string]int64, len(c.mutations))
	for op, n := range c.mutations {
		snapshot.Mutations[op] = n.Load()
	}
	c.mutationsMu.RUnlock()

	c.indexMu.RLock()
	snapshot.IndexEntries = make(map[string]int64)
	snapshot.IndexBuckets = make(map[string]int64)
	snapshot.IndexCategories = make(map[string]int64)
	for name, stat := range c.indexStats {
		snapshot.IndexEntries[name] = stat.Entries
		snapshot.IndexBuckets[name] = stat.Buckets
		snapshot.IndexCategories[name] = stat.Categories
	}
	c.indexMu.RUnlock()

	return snapshot
}

// Reset clears all metrics.
func (c *Collector) Reset() {
	c.mutationsTotal.Store(0)
	c.mutationsMu.Lock()
	c.mutations = make(map[string]*atomic.Int64)
	c.mutationsMu.Unlock()
	c.mutationLatencies = NewCircularBuffer(1000)

	c.queriesTotal.Store(0)
	c.queryLatencies = NewCircularBuffer(1000)
	c.queryResults.Store(0)

	c.indexMu.Lock()
	c.indexStats = make(map[string]*IndexStat)
	c.indexMu.Unlock()

	c.flushesTotal.Store(0)
	c.flushErrors.Store(0)
	c.lastFlushUnix.Store(0)
	c.rebuildsTotal.Store(0)
	c.anomaliesTotal.Store(0)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
