package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/consumer"
	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/queue"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
	"github.com/BarkinBalci/log-aggregator/internal/repository/sqlite"
	"github.com/BarkinBalci/log-aggregator/internal/stats"
)

// MockArchiveRepository is a mock implementation of repository.ArchiveRepository
type MockArchiveRepository struct {
	mock.Mock
}

func (m *MockArchiveRepository) InsertBatch(ctx context.Context, records []*domain.ProcessedRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockArchiveRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockArchiveRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockArchiveRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDedupStore is a mock implementation of repository.DedupStore
type MockDedupStore struct {
	mock.Mock
}

func (m *MockDedupStore) TryInsert(ctx context.Context, event domain.Event) (repository.InsertResult, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(repository.InsertResult), args.Error(1)
}

func (m *MockDedupStore) Get(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error) {
	args := m.Called(ctx, topic, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessedRecord), args.Error(1)
}

func (m *MockDedupStore) Query(ctx context.Context, query repository.EventQuery) ([]domain.ProcessedRecord, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]domain.ProcessedRecord), args.Error(1)
}

func (m *MockDedupStore) Stats(ctx context.Context) (repository.StoreStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(repository.StoreStats), args.Error(1)
}

func (m *MockDedupStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDedupStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testOptions() Options {
	return Options{
		Queue: queue.Config{Capacity: 1000, Policy: queue.RejectOnFull},
		Consumer: consumer.Config{
			Workers:         4,
			MaxRetries:      3,
			RetryBackoff:    time.Millisecond,
			RetryMaxBackoff: 5 * time.Millisecond,
		},
	}
}

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	return store
}

func startService(t *testing.T, store repository.DedupStore, opts Options) (*EventService, *stats.Aggregator) {
	t.Helper()

	agg := stats.NewAggregator(time.Now(), nil)
	svc := NewEventService(store, agg, opts, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	return svc, agg
}

func shutdown(t *testing.T, svc *EventService) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}

func rawEvent(topic, id string) domain.RawEvent {
	return domain.RawEvent{
		Topic:     topic,
		EventID:   id,
		Timestamp: "2025-01-01T00:00:00Z",
		Source:    "unit",
		Payload:   json.RawMessage(`{"k":"v"}`),
	}
}

// Scenario A
func TestEventService_SingleEvent(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()
	svc, _ := startService(t, store, testOptions())

	result := svc.Submit(context.Background(), rawEvent("test", "evt-001"))
	assert.Equal(t, domain.SubmitAccepted, result.Status)

	shutdown(t, svc)

	st := svc.GetStats()
	assert.Equal(t, int64(1), st.Received)
	assert.Equal(t, int64(1), st.UniqueProcessed)
	assert.Equal(t, int64(0), st.DuplicateDropped)
	assert.Equal(t, []string{"test"}, st.Topics)
}

// Scenario B
func TestEventService_SameEventThreeTimes(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()
	svc, _ := startService(t, store, testOptions())

	for i := 0; i < 3; i++ {
		assert.True(t, svc.Submit(context.Background(), rawEvent("test", "evt-001")).Accepted())
	}

	shutdown(t, svc)

	st := svc.GetStats()
	assert.Equal(t, int64(3), st.Received)
	assert.Equal(t, int64(1), st.UniqueProcessed)
	assert.Equal(t, int64(2), st.DuplicateDropped)
}

// Scenario C
func TestEventService_DedupSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")
	ctx := context.Background()

	first := openStore(t, path)
	svc, _ := startService(t, first, testOptions())
	require.True(t, svc.Submit(ctx, rawEvent("persist", "evt-persist")).Accepted())
	shutdown(t, svc)
	require.NoError(t, first.Close())

	second := openStore(t, path)
	defer second.Close()
	svc, _ = startService(t, second, testOptions())

	seeded := svc.GetStats()
	assert.Equal(t, int64(1), seeded.UniqueProcessed)
	assert.Equal(t, []string{"persist"}, seeded.Topics)

	require.True(t, svc.Submit(ctx, rawEvent("persist", "evt-persist")).Accepted())
	shutdown(t, svc)

	st := svc.GetStats()
	assert.Equal(t, int64(1), st.UniqueProcessed)
	assert.Equal(t, int64(1), st.DuplicateDropped)
	assert.Equal(t, st.Received, st.UniqueProcessed+st.DuplicateDropped+st.Failed)
}

// Scenario D
func TestEventService_ConcurrentIdenticalSubmissions(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()
	svc, _ := startService(t, store, testOptions())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, svc.Submit(context.Background(), rawEvent("test", "evt-dup")).Accepted())
		}()
	}
	wg.Wait()
	shutdown(t, svc)

	st := svc.GetStats()
	assert.Equal(t, int64(10), st.Received)
	assert.Equal(t, int64(1), st.UniqueProcessed)
	assert.Equal(t, int64(9), st.DuplicateDropped)

	page, err := svc.QueryEvents(context.Background(), "test", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestEventService_Submit_Invalid(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()
	svc, _ := startService(t, store, testOptions())
	defer shutdown(t, svc)

	raw := rawEvent("", "evt-1")
	result := svc.Submit(context.Background(), raw)

	assert.Equal(t, domain.SubmitInvalid, result.Status)
	assert.Contains(t, result.Error, "topic")
	assert.Equal(t, int64(0), svc.GetStats().Received)
}

func TestEventService_Submit_RejectedWhenFull(t *testing.T) {
	store := new(MockDedupStore)
	store.On("Stats", mock.Anything).Return(repository.StoreStats{}, nil)

	opts := testOptions()
	opts.Queue.Capacity = 2
	agg := stats.NewAggregator(time.Now(), nil)
	// not started: nothing drains the queue
	svc := NewEventService(store, agg, opts, zap.NewNop())
	ctx := context.Background()

	batch := svc.SubmitBatch(ctx, []domain.RawEvent{
		rawEvent("t", "1"),
		rawEvent("t", "2"),
		rawEvent("t", "3"),
		rawEvent("", "4"),
	})

	assert.Equal(t, 2, batch.Accepted)
	assert.Equal(t, 1, batch.Rejected)
	assert.Equal(t, 1, batch.Invalid)
	require.Len(t, batch.Results, 4)
	assert.Equal(t, domain.SubmitRejected, batch.Results[2].Status)
	assert.Equal(t, queue.ErrQueueFull.Error(), batch.Results[2].Error)

	st := svc.GetStats()
	assert.Equal(t, int64(2), st.Received)
	assert.Equal(t, 2, st.QueueDepth)
	assert.Equal(t, 2, st.QueueCapacity)
}

func TestEventService_Submit_RejectedAfterShutdown(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()
	svc, _ := startService(t, store, testOptions())
	shutdown(t, svc)

	result := svc.Submit(context.Background(), rawEvent("t", "late"))
	assert.Equal(t, domain.SubmitRejected, result.Status)
	assert.Equal(t, queue.ErrQueueClosed.Error(), result.Error)
}

func TestEventService_Shutdown_DrainsQueuedEvents(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()

	opts := testOptions()
	opts.Consumer.Workers = 1
	svc, _ := startService(t, store, opts)

	for i := 0; i < 200; i++ {
		require.True(t, svc.Submit(context.Background(), rawEvent("drain", fmt.Sprintf("evt-%03d", i))).Accepted())
	}
	shutdown(t, svc)

	st := svc.GetStats()
	assert.Equal(t, int64(200), st.UniqueProcessed)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestEventService_Shutdown_DeadlineStopsWorkers(t *testing.T) {
	store := new(MockDedupStore)
	store.On("Stats", mock.Anything).Return(repository.StoreStats{}, nil)
	store.On("TryInsert", mock.Anything, mock.Anything).
		After(50*time.Millisecond).
		Return(repository.InsertResult{Outcome: domain.OutcomeInserted}, nil)

	opts := testOptions()
	opts.Consumer.Workers = 1
	svc, agg := startService(t, store, opts)

	for i := 0; i < 20; i++ {
		require.True(t, svc.Submit(context.Background(), rawEvent("slow", fmt.Sprintf("evt-%03d", i))).Accepted())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	st := agg.Snapshot()
	assert.Less(t, st.UniqueProcessed, int64(20))
	assert.Greater(t, svc.QueueDepth(), 0)
}

func TestEventService_Start_StoreStatsError(t *testing.T) {
	store := new(MockDedupStore)
	store.On("Stats", mock.Anything).Return(repository.StoreStats{}, &repository.StoreError{Op: "stats", Err: errors.New("locked")})

	svc := NewEventService(store, stats.NewAggregator(time.Now(), nil), testOptions(), zap.NewNop())

	err := svc.Start(context.Background())
	assert.Error(t, err)
	assert.True(t, repository.IsStoreError(err))
}

func TestEventService_StoreFailuresKeepCountersBalanced(t *testing.T) {
	isEvent := func(id string) any {
		return mock.MatchedBy(func(e domain.Event) bool { return e.EventID == id })
	}
	storeErr := &repository.StoreError{Op: "insert", Err: errors.New("disk I/O error")}

	store := new(MockDedupStore)
	store.On("Stats", mock.Anything).Return(repository.StoreStats{}, nil)
	store.On("TryInsert", mock.Anything, isEvent("evt-ok")).
		Return(repository.InsertResult{Outcome: domain.OutcomeInserted, Record: &domain.ProcessedRecord{}}, nil).Once()
	store.On("TryInsert", mock.Anything, isEvent("evt-ok")).
		Return(repository.InsertResult{Outcome: domain.OutcomeDuplicate}, nil)
	store.On("TryInsert", mock.Anything, isEvent("evt-broken")).
		Return(repository.InsertResult{}, storeErr)

	opts := testOptions()
	opts.Consumer.Workers = 1
	svc, agg := startService(t, store, opts)

	ctx := context.Background()
	require.True(t, svc.Submit(ctx, rawEvent("t", "evt-ok")).Accepted())
	require.True(t, svc.Submit(ctx, rawEvent("t", "evt-ok")).Accepted())
	require.True(t, svc.Submit(ctx, rawEvent("t", "evt-broken")).Accepted())
	shutdown(t, svc)

	st := agg.Snapshot()
	assert.Equal(t, int64(3), st.Received)
	assert.Equal(t, int64(1), st.UniqueProcessed)
	assert.Equal(t, int64(1), st.DuplicateDropped)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, st.Received, st.UniqueProcessed+st.DuplicateDropped+st.Failed)

	// two deliveries of evt-ok plus the first attempt and MaxRetries retries of evt-broken
	store.AssertNumberOfCalls(t, "TryInsert", 2+1+opts.Consumer.MaxRetries)
}

func TestEventService_ReceivedCountedBeforeProcessing(t *testing.T) {
	agg := stats.NewAggregator(time.Now(), nil)
	var seen atomic.Int64

	store := new(MockDedupStore)
	store.On("Stats", mock.Anything).Return(repository.StoreStats{}, nil)
	store.On("TryInsert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { seen.Store(agg.Snapshot().Received) }).
		Return(repository.InsertResult{Outcome: domain.OutcomeDuplicate}, nil)

	svc := NewEventService(store, agg, testOptions(), zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	require.True(t, svc.Submit(context.Background(), rawEvent("t", "evt-1")).Accepted())
	shutdown(t, svc)

	assert.Equal(t, int64(1), seen.Load())
	st := agg.Snapshot()
	assert.Equal(t, int64(1), st.Received)
	assert.Equal(t, int64(1), st.DuplicateDropped)
}

func TestEventService_ArchivesInsertedRecords(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()

	archive := new(MockArchiveRepository)
	var mu sync.Mutex
	archived := map[string]int{}
	archive.On("InsertBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range args.Get(1).([]*domain.ProcessedRecord) {
			archived[r.Key().String()]++
		}
	}).Return(2, nil)

	opts := testOptions()
	opts.Archive = archive
	opts.ArchiveWriter = consumer.BatchWriterConfig{MaxBatchSize: 10, FlushTimeout: time.Hour}
	svc, _ := startService(t, store, opts)

	ctx := context.Background()
	svc.Submit(ctx, rawEvent("orders", "o-1"))
	svc.Submit(ctx, rawEvent("orders", "o-1"))
	svc.Submit(ctx, rawEvent("orders", "o-2"))
	shutdown(t, svc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"orders:o-1": 1, "orders:o-2": 1}, archived)
}

func TestEventService_QueryAndGet(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer store.Close()

	opts := testOptions()
	opts.Consumer.Workers = 1
	svc, _ := startService(t, store, opts)

	ctx := context.Background()
	svc.Submit(ctx, rawEvent("a", "1"))
	svc.Submit(ctx, rawEvent("b", "2"))
	svc.Submit(ctx, rawEvent("a", "3"))
	shutdown(t, svc)

	page, err := svc.QueryEvents(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "a", page.FilteredByTopic)
	assert.Equal(t, "1", page.Events[0].EventID)
	assert.Equal(t, "3", page.Events[1].EventID)

	all, err := svc.QueryEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	record, err := svc.GetEvent(ctx, "b", "2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(record.Payload))

	_, err = svc.GetEvent(ctx, "b", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventService_HealthCheck(t *testing.T) {
	svc := NewEventService(new(MockDedupStore), stats.NewAggregator(time.Now(), nil), testOptions(), zap.NewNop())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	health := svc.HealthCheck()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, fixed, health.Timestamp)
}
