package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	require.NotNil(t, c)
	stats := c.GetStats()
	assert.Equal(t, int64(0), stats.TotalSubmitted)
	assert.Equal(t, int64(0), stats.TotalDispatched)
	assert.Equal(t, int64(0), stats.TotalReconciled)
	assert.Equal(t, int64(0), stats.TotalCompletions)
	assert.Empty(t, stats.CompletionsByState)
}

func TestInMemoryCollector_RecordSubmit(t *testing.T) {
	c := NewInMemoryCollector()

	c.RecordSubmit()
	c.RecordSubmit()
	c.RecordSubmit()

	stats := c.GetStats()
	assert.Equal(t, int64(3), stats.TotalSubmitted)
}

func TestInMemoryCollector_RecordDispatch(t *testing.T) {
	c := NewInMemoryCollector()

	c.RecordDispatch(10 * time.Millisecond)
	c.RecordDispatch(20 * time.Millisecond)

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.TotalDispatched)
	assert.Equal(t, int64(2), stats.QueueWaitStats.Count)
	assert.Equal(t, 10*time.Millisecond, stats.QueueWaitStats.Min)
	assert.Equal(t, 20*time.Millisecond, stats.QueueWaitStats.Max)
	assert.Equal(t, 30*time.Millisecond, stats.QueueWaitStats.Total)
	assert.Equal(t, 15*time.Millisecond, stats.QueueWaitStats.Average)
}

func TestInMemoryCollector_RecordCompletion(t *testing.T) {
	c := NewInMemoryCollector()

	c.RecordCompletion("completed", 100*time.Millisecond)
	c.RecordCompletion("failed", 50*time.Millisecond)
	c.RecordCompletion("completed", 200*time.Millisecond)

	stats := c.GetStats()
	assert.Equal(t, int64(3), stats.TotalCompletions)
	assert.Equal(t, int64(2), stats.CompletionsByState["completed"])
	assert.Equal(t, int64(1), stats.CompletionsByState["failed"])
	assert.Equal(t, int64(3), stats.RunDurationStats.Count)
	assert.Equal(t, 50*time.Millisecond, stats.RunDurationStats.Min)
	assert.Equal(t, 200*time.Millisecond, stats.RunDurationStats.Max)
}

func TestInMemoryCollector_RecordReconciled(t *testing.T) {
	c := NewInMemoryCollector()

	c.RecordReconciled()
	c.RecordReconciled()

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.TotalReconciled)
}

func TestInMemoryCollector_Reset(t *testing.T) {
	c := NewInMemoryCollector()

	c.RecordSubmit()
	c.RecordDispatch(10 * time.Millisecond)
	c.RecordCompletion("completed", 100*time.Millisecond)
	c.RecordReconciled()

	c.Reset()

	stats := c.GetStats()
	assert.Equal(t, int64(0), stats.TotalSubmitted)
	assert.Equal(t, int64(0), stats.TotalDispatched)
	assert.Equal(t, int64(0), stats.TotalReconciled)
	assert.Equal(t, int64(0), stats.TotalCompletions)
	assert.Empty(t, stats.CompletionsByState)
	assert.Equal(t, int64(0), stats.QueueWaitStats.Count)
	assert.Equal(t, int64(0), stats.RunDurationStats.Count)
}

func TestStats_CompletionsByStateIsolation(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordCompletion("completed", 10*time.Millisecond)

	stats := c.GetStats()
	stats.CompletionsByState["completed"] = 999

	fresh := c.GetStats()
	assert.Equal(t, int64(1), fresh.CompletionsByState["completed"])
}

func TestDurationAggregator(t *testing.T) {
	agg := newDurationAggregator()

	stats := agg.stats()
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, time.Duration(0), stats.Min)
	assert.Equal(t, time.Duration(0), stats.Max)
	assert.Equal(t, time.Duration(0), stats.Average)

	agg.add(5 * time.Second)
	agg.add(1 * time.Second)
	agg.add(9 * time.Second)

	stats = agg.stats()
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, 15*time.Second, stats.Total)
	assert.Equal(t, 1*time.Second, stats.Min)
	assert.Equal(t, 9*time.Second, stats.Max)
	assert.Equal(t, 5*time.Second, stats.Average)
}

func TestDurationAggregator_Concurrency(t *testing.T) {
	agg := newDurationAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agg.add(time.Duration(n) * time.Millisecond)
		}(i)
	}
	wg.Wait()

	stats := agg.stats()
	assert.Equal(t, int64(100), stats.Count)
}

func TestInMemoryCollector_Concurrency(t *testing.T) {
	c := NewInMemoryCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordSubmit()
			c.RecordDispatch(time.Millisecond)
			c.RecordCompletion("completed", 10*time.Millisecond)
		}()
	}
	wg.Wait()

	stats := c.GetStats()
	assert.Equal(t, int64(50), stats.TotalSubmitted)
	assert.Equal(t, int64(50), stats.TotalDispatched)
	assert.Equal(t, int64(50), stats.TotalCompletions)
	assert.Equal(t, int64(50), stats.CompletionsByState["completed"])
}

func TestNoOpCollector(t *testing.T) {
	c := NoOpCollector{}

	c.RecordSubmit()
	c.RecordDispatch(time.Second)
	c.RecordCompletion("completed", time.Second)
	c.RecordReconciled()
	c.Reset()

	stats := c.GetStats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(0), stats.TotalSubmitted)
}

func TestDefaultCollector(t *testing.T) {
	original := GetDefaultCollector()
	defer SetDefaultCollector(original)

	c := NewInMemoryCollector()
	SetDefaultCollector(c)
	assert.Equal(t, c, GetDefaultCollector())

	SetDefaultCollector(nil)
	assert.IsType(t, &NoOpCollector{}, GetDefaultCollector())
}

func TestCollectorInterface(t *testing.T) {
	var _ Collector = (*InMemoryCollector)(nil)
	var _ Collector = NoOpCollector{}
}

func TestIncrementMapCounter(t *testing.T) {
	var mu sync.RWMutex
	m := make(map[string]*int64)

	incrementMapCounter(&mu, m, "running")
	incrementMapCounter(&mu, m, "running")
	incrementMapCounter(&mu, m, "completed")

	assert.Equal(t, int64(2), *m["running"])
	assert.Equal(t, int64(1), *m["completed"])
}
