package metrics

import (
	"slices"
	"sync"
	"time"
)

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Mutation metrics
	MutationsTotal     int64
	Mutations          map[string]int64 // op -> count
	MutationLatencyP50 float64
	MutationLatencyP95 float64
	MutationLatencyP99 float64

	// Query metrics
	QueriesTotal      int64
	QueryLatencyP50   float64
	QueryLatencyP95   float64
	QueryLatencyP99   float64
	QueryResultsTotal int64

	// Index metrics
	IndexEntries    map[string]int64 // index_name -> bucket memberships
	IndexBuckets    map[string]int64 // index_name -> non-empty buckets
	IndexCategories map[string]int64 // index_name -> category leaves

	// Persistence metrics
	FlushesTotal   int64
	FlushErrors    int64
	LastFlushAt    time.Time
	RebuildsTotal  int64
	AnomaliesTotal int64

	// Timestamp of snapshot
	Timestamp time.Time
}

// CircularBuffer stores a fixed number of values in FIFO order.
type CircularBuffer struct {
	mu     sync.RWMutex
	values []float64
	pos    int
	full   bool
}

// NewCircularBuffer creates a new circular buffer with given capacity.
func NewCircularBuffer(capacity int) *CircularBuffer {
	return &CircularBuffer{
		values: make([]float64, capacity),
	}
}

// Add appends a value to the buffer.
func (cb *CircularBuffer) Add(val float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.values[cb.pos] = val
	cb.pos++
	if cb.pos >= len(cb.values) {
		cb.pos = 0
		cb.full = true
	}
}

// Len returns the number of buffered values.
func (cb *CircularBuffer) Len() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.full {
		return len(cb.values)
	}
	return cb.pos
}

// GetValues returns a copy of the buffered values.
func (cb *CircularBuffer) GetValues() []float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.full {
		return slices.Clone(cb.values)
	}
	return slices.Clone(cb.values[:cb.pos])
}

// Percentile calculates the given percentile (0-100) from buffered values
// using the nearest-rank method.
func (cb *CircularBuffer) Percentile(p float64) float64 {
	return calculatePercentile(cb.GetValues(), p)
}

func calculatePercentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)

	idx := int((p / 100.0) * float64(len(values)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// IndexStat holds index-related statistics.
type IndexStat struct {
	Entries    int64
	Buckets    int64
	Categories int64
	Timestamp  time.Time
}

// Mutation operation names.
const (
	OpIndex        = "index"
	OpUnindex      = "unindex"
	OpReindex      = "reindex"
	OpIndexCateg   = "index_categ"
	OpUnindexCateg = "unindex_categ"
	OpReindexCateg = "reindex_categ"
)
