package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

func testEvent(id string) domain.Event {
	return domain.Event{Topic: "test", EventID: id, Payload: []byte("{}")}
}

func TestQueue_FIFO(t *testing.T) {
	q := New(Config{Capacity: 10})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, testEvent(fmt.Sprintf("evt-%d", i))))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 10, q.Cap())

	for i := 0; i < 5; i++ {
		event, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("evt-%d", i), event.EventID)
	}
}

func TestQueue_RejectOnFull(t *testing.T) {
	q := New(Config{Capacity: 2, Policy: RejectOnFull, BlockTimeout: time.Second})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("1")))
	require.NoError(t, q.Enqueue(ctx, testEvent("2")))

	start := time.Now()
	err := q.Enqueue(ctx, testEvent("3"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "reject-on-full must not wait")
	assert.Equal(t, 2, q.Len())
}

func TestQueue_BlockWithTimeout_TimesOut(t *testing.T) {
	q := New(Config{Capacity: 1, Policy: BlockWithTimeout, BlockTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("1")))

	start := time.Now()
	err := q.Enqueue(ctx, testEvent("2"))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestQueue_BlockWithTimeout_SucceedsWhenSpaceFrees(t *testing.T) {
	q := New(Config{Capacity: 1, Policy: BlockWithTimeout, BlockTimeout: time.Second})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("1")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Dequeue(ctx)
	}()

	require.NoError(t, q.Enqueue(ctx, testEvent("2")))

	event, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", event.EventID)
}

func TestQueue_BlockWithTimeout_ContextCancelled(t *testing.T) {
	q := New(Config{Capacity: 1, Policy: BlockWithTimeout, BlockTimeout: time.Second})
	require.NoError(t, q.Enqueue(context.Background(), testEvent("1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, testEvent("2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseUnblocksWaitingProducer(t *testing.T) {
	q := New(Config{Capacity: 1, Policy: BlockWithTimeout, BlockTimeout: 5 * time.Second})
	require.NoError(t, q.Enqueue(context.Background(), testEvent("1")))

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), testEvent("2"))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("producer was not released by Close")
	}
}

func TestQueue_CloseKeepsQueuedEventsForDrain(t *testing.T) {
	q := New(Config{Capacity: 10})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("1")))
	require.NoError(t, q.Enqueue(ctx, testEvent("2")))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())

	assert.ErrorIs(t, q.Enqueue(ctx, testEvent("3")), ErrQueueClosed)

	first, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", first.EventID)

	second, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", second.EventID)

	_, ok = q.Dequeue(ctx)
	assert.False(t, ok, "closed and drained queue reports ok=false")
}

func TestQueue_DequeueWaitsForItem(t *testing.T) {
	q := New(Config{Capacity: 1})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(context.Background(), testEvent("late"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	event, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "late", event.EventID)
}

func TestQueue_DequeueContextCancelled(t *testing.T) {
	q := New(Config{Capacity: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestQueue_ConcurrentEnqueueAndClose(t *testing.T) {
	q := New(Config{Capacity: 1000, Policy: BlockWithTimeout, BlockTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				err := q.Enqueue(ctx, testEvent(fmt.Sprintf("%d-%d", i, j)))
				if err != nil {
					assert.True(t, errors.Is(err, ErrQueueClosed) || errors.Is(err, ErrQueueFull), err)
				}
			}
		}(i)
	}

	time.Sleep(5 * time.Millisecond)
	q.Close()
	wg.Wait()

	drained := 0
	for {
		if _, ok := q.Dequeue(ctx); !ok {
			break
		}
		drained++
	}
	assert.LessOrEqual(t, drained, 1000)
}

func TestParseFullPolicy(t *testing.T) {
	p, err := ParseFullPolicy("reject-on-full")
	require.NoError(t, err)
	assert.Equal(t, RejectOnFull, p)
	assert.Equal(t, "reject-on-full", p.String())

	p, err = ParseFullPolicy("block-with-timeout")
	require.NoError(t, err)
	assert.Equal(t, BlockWithTimeout, p)
	assert.Equal(t, "block-with-timeout", p.String())

	_, err = ParseFullPolicy("drop")
	assert.Error(t, err)
}
