package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrQueueClosed is returned once the queue stopped accepting events
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// FullPolicy decides what Enqueue does when the queue is at capacity
type FullPolicy int

const (
	// RejectOnFull fails immediately with ErrQueueFull
	RejectOnFull FullPolicy = iota
	// BlockWithTimeout waits up to Config.BlockTimeout for space, then fails with ErrQueueFull
	BlockWithTimeout
)

// ParseFullPolicy maps a configuration value to a FullPolicy
func ParseFullPolicy(s string) (FullPolicy, error) {
	switch s {
	case "reject-on-full":
		return RejectOnFull, nil
	case "block-with-timeout":
		return BlockWithTimeout, nil
	default:
		return 0, fmt.Errorf("unknown queue full policy: %q", s)
	}
}

func (p FullPolicy) String() string {
	if p == BlockWithTimeout {
		return "block-with-timeout"
	}
	return "reject-on-full"
}

// Config configures the ingestion queue
type Config struct {
	Capacity     int
	Policy       FullPolicy
	BlockTimeout time.Duration
}

// Queue is a bounded FIFO buffer of validated events between submission and processing.
//
// Close stops new submissions but keeps already queued events available to Dequeue
// until the buffer drains.
type Queue struct {
	items  chan domain.Event
	config Config

	// done is closed first so blocked producers give up before items is closed
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New creates a queue with the given configuration
func New(config Config) *Queue {
	if config.Capacity <= 0 {
		config.Capacity = 1
	}
	return &Queue{
		items:  make(chan domain.Event, config.Capacity),
		config: config,
		done:   make(chan struct{}),
	}
}

// Enqueue adds an event at the tail of the queue. It never blocks longer than
// the configured block timeout.
func (q *Queue) Enqueue(ctx context.Context, event domain.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- event:
		return nil
	default:
	}

	if q.config.Policy != BlockWithTimeout || q.config.BlockTimeout <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(q.config.BlockTimeout)
	defer timer.Stop()

	select {
	case q.items <- event:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the next event. It waits while the queue is empty and reports
// ok=false once the queue is closed and drained or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (domain.Event, bool) {
	select {
	case event, ok := <-q.items:
		return event, ok
	case <-ctx.Done():
		return domain.Event{}, false
	}
}

// Close stops accepting new events. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()
	})
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.items)
}
