package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a read-only view of the counters
type Snapshot struct {
	Received         int64
	UniqueProcessed  int64
	DuplicateDropped int64
	Failed           int64
	Topics           []string
	StartedAt        time.Time
	Uptime           time.Duration
}

// Aggregator owns the running counters. It is safe for concurrent use by
// several consumer workers.
type Aggregator struct {
	received  atomic.Int64
	unique    atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	startedAt time.Time
	now       func() time.Time
	metrics   *Metrics
}

// NewAggregator creates an aggregator. metrics may be nil.
func NewAggregator(startedAt time.Time, metrics *Metrics) *Aggregator {
	return &Aggregator{
		topics:    make(map[string]struct{}),
		startedAt: startedAt.UTC(),
		now:       time.Now,
		metrics:   metrics,
	}
}

// Seed loads counters from the durable store at startup. Stored records count as
// both received and unique so received == unique + duplicate + failed still holds.
func (a *Aggregator) Seed(count int64, topics []string) {
	a.received.Add(count)
	a.unique.Add(count)

	a.mu.Lock()
	for _, t := range topics {
		a.topics[t] = struct{}{}
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.received.Add(float64(count))
		a.metrics.unique.Add(float64(count))
	}
}

// RecordReceived counts an event the ingestion queue accepted
func (a *Aggregator) RecordReceived() {
	a.ReserveReceived()(true)
}

// ReserveReceived counts an event before it is handed to the workers, so no snapshot
// shows it processed but not yet received. The returned func settles the count:
// false takes it back, true publishes it to the metrics.
func (a *Aggregator) ReserveReceived() func(accepted bool) {
	a.received.Add(1)
	return func(accepted bool) {
		if !accepted {
			a.received.Add(-1)
			return
		}
		if a.metrics != nil {
			a.metrics.received.Inc()
		}
	}
}

// RecordInserted counts a first-time insert and registers its topic
func (a *Aggregator) RecordInserted(topic string) {
	a.unique.Add(1)

	a.mu.RLock()
	_, known := a.topics[topic]
	a.mu.RUnlock()
	if !known {
		a.mu.Lock()
		a.topics[topic] = struct{}{}
		a.mu.Unlock()
	}

	if a.metrics != nil {
		a.metrics.unique.Inc()
	}
}

// RecordDuplicate counts a dropped duplicate
func (a *Aggregator) RecordDuplicate() {
	a.duplicate.Add(1)
	if a.metrics != nil {
		a.metrics.duplicate.Inc()
	}
}

// RecordFailed counts an event whose store retries were exhausted
func (a *Aggregator) RecordFailed() {
	a.failed.Add(1)
	if a.metrics != nil {
		a.metrics.failed.Inc()
	}
}

// ObserveInsert records how long one TryInsert attempt took
func (a *Aggregator) ObserveInsert(d time.Duration) {
	if a.metrics != nil {
		a.metrics.insertDuration.Observe(d.Seconds())
	}
}

// Snapshot returns the current counters; topics are sorted
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	topics := make([]string, 0, len(a.topics))
	for t := range a.topics {
		topics = append(topics, t)
	}
	a.mu.RUnlock()
	sort.Strings(topics)

	return Snapshot{
		Received:         a.received.Load(),
		UniqueProcessed:  a.unique.Load(),
		DuplicateDropped: a.duplicate.Load(),
		Failed:           a.failed.Load(),
		Topics:           topics,
		StartedAt:        a.startedAt,
		Uptime:           a.now().Sub(a.startedAt),
	}
}
