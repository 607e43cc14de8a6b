// SPDX-License-Identifier: Apache-2.0

// Package metrics provides in-process metrics collection for the
// scheduler core: job submission, dispatch, and completion counters and
// durations.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the interface for scheduler metrics collection.
type Collector interface {
	// RecordSubmit records a job submission.
	RecordSubmit()

	// RecordDispatch records a job moving from pending to running, with
	// the time it spent queued.
	RecordDispatch(queueWait time.Duration)

	// RecordCompletion records a job reaching a terminal state, with the
	// time it spent running and the terminal state name.
	RecordCompletion(state string, runDuration time.Duration)

	// RecordReconciled records an orphaned or crashed job recovered by
	// the dispatcher's reconciliation pass.
	RecordReconciled()

	// GetStats returns current metrics statistics.
	GetStats() *Stats

	// Reset resets all metrics.
	Reset()
}

// Stats contains aggregated metrics statistics.
type Stats struct {
	TotalSubmitted   int64
	TotalDispatched  int64
	TotalReconciled  int64
	TotalCompletions int64
	CompletionsByState map[string]int64

	QueueWaitStats DurationStats
	RunDurationStats DurationStats

	StartTime time.Time
	Duration  time.Duration
}

// DurationStats contains statistics for duration measurements.
type DurationStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// InMemoryCollector is an in-memory implementation of Collector.
type InMemoryCollector struct {
	mu sync.RWMutex

	totalSubmitted  int64
	totalDispatched int64
	totalReconciled int64
	totalCompletions int64
	completionsByState map[string]*int64

	queueWait   *durationAggregator
	runDuration *durationAggregator

	startTime time.Time
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		completionsByState: make(map[string]*int64),
		queueWait:          newDurationAggregator(),
		runDuration:        newDurationAggregator(),
		startTime:          time.Now(),
	}
}

// RecordSubmit records a job submission.
func (c *InMemoryCollector) RecordSubmit() {
	atomic.AddInt64(&c.totalSubmitted, 1)
}

// RecordDispatch records a job moving from pending to running.
func (c *InMemoryCollector) RecordDispatch(queueWait time.Duration) {
	atomic.AddInt64(&c.totalDispatched, 1)
	c.queueWait.add(queueWait)
}

// RecordCompletion records a job reaching a terminal state.
func (c *InMemoryCollector) RecordCompletion(state string, runDuration time.Duration) {
	atomic.AddInt64(&c.totalCompletions, 1)
	c.runDuration.add(runDuration)
	incrementMapCounter(&c.mu, c.completionsByState, state)
}

// RecordReconciled records a dispatcher reconciliation of an orphaned job.
func (c *InMemoryCollector) RecordReconciled() {
	atomic.AddInt64(&c.totalReconciled, 1)
}

// GetStats returns current metrics statistics.
func (c *InMemoryCollector) GetStats() *Stats {
	return &Stats{
		TotalSubmitted:      atomic.LoadInt64(&c.totalSubmitted),
		TotalDispatched:     atomic.LoadInt64(&c.totalDispatched),
		TotalReconciled:     atomic.LoadInt64(&c.totalReconciled),
		TotalCompletions:    atomic.LoadInt64(&c.totalCompletions),
		CompletionsByState:  c.copyMapCounters(c.completionsByState),
		QueueWaitStats:      c.queueWait.stats(),
		RunDurationStats:    c.runDuration.stats(),
		StartTime:           c.startTime,
		Duration:            time.Since(c.startTime),
	}
}

// Reset resets all metrics.
func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.totalSubmitted, 0)
	atomic.StoreInt64(&c.totalDispatched, 0)
	atomic.StoreInt64(&c.totalReconciled, 0)
	atomic.StoreInt64(&c.totalCompletions, 0)

	c.completionsByState = make(map[string]*int64)
	c.queueWait = newDurationAggregator()
	c.runDuration = newDurationAggregator()

	c.startTime = time.Now()
}

// incrementMapCounter safely increments a counter in a map.
func incrementMapCounter(mu *sync.RWMutex, m map[string]*int64, key string) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var v int64
		counter = &v
		m[key] = counter
	}
	mu.Unlock()

	atomic.AddInt64(counter, 1)
}

// copyMapCounters creates a copy of string map counters.
func (c *InMemoryCollector) copyMapCounters(m map[string]*int64) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

// durationAggregator aggregates duration statistics.
type durationAggregator struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func newDurationAggregator() *durationAggregator {
	return &durationAggregator{
		min: time.Duration(1<<63 - 1), // MaxInt64
	}
}

func (d *durationAggregator) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.total += duration

	if duration < d.min {
		d.min = duration
	}
	if duration > d.max {
		d.max = duration
	}
}

func (d *durationAggregator) stats() DurationStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DurationStats{
		Count: d.count,
		Total: d.total,
		Min:   d.min,
		Max:   d.max,
	}

	if d.count > 0 {
		stats.Average = time.Duration(int64(d.total) / d.count)
	}

	if d.count == 0 {
		stats.Min = 0
	}

	return stats
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordSubmit()                                     {}
func (NoOpCollector) RecordDispatch(queueWait time.Duration)            {}
func (NoOpCollector) RecordCompletion(state string, runDuration time.Duration) {}
func (NoOpCollector) RecordReconciled()                                 {}
func (NoOpCollector) GetStats() *Stats                                  { return &Stats{} }
func (NoOpCollector) Reset()                                            {}

// Global default collector.
var defaultCollector Collector = &NoOpCollector{}

// SetDefaultCollector sets the default metrics collector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = &NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the default metrics collector.
func GetDefaultCollector() Collector {
	return defaultCollector
}
