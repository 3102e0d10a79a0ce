package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/log-aggregator/internal/consumer"
	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/queue"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
	"github.com/BarkinBalci/log-aggregator/internal/stats"
)

// Options configures the pipeline the service owns
type Options struct {
	Queue    queue.Config
	Consumer consumer.Config

	// Archive mirrors inserted records when set
	Archive           repository.ArchiveRepository
	ArchiveWriter     consumer.BatchWriterConfig
	ArchiveBufferSize int
}

// BatchResult summarizes a multi-event submission
type BatchResult struct {
	Accepted int
	Rejected int
	Invalid  int
	Results  []domain.SubmitResult
}

// EventPage is the answer to an event query
type EventPage struct {
	Events          []domain.ProcessedRecord
	Total           int
	FilteredByTopic string
}

// StatsView combines the counters with live queue figures
type StatsView struct {
	stats.Snapshot
	QueueDepth    int
	QueueCapacity int
}

// Health reports process liveness
type Health struct {
	Status    string
	Timestamp time.Time
}

// EventService owns the ingestion queue, the consumer workers and the optional archive sink
type EventService struct {
	queue    *queue.Queue
	store    repository.DedupStore
	stats    *stats.Aggregator
	consumer *consumer.Consumer
	writer   *consumer.BatchWriter
	archive  chan *domain.ProcessedRecord
	log      *zap.Logger

	group       *errgroup.Group
	stopWorkers context.CancelFunc
	now         func() time.Time
}

// NewEventService wires the queue, consumer and archive sink around store
func NewEventService(store repository.DedupStore, agg *stats.Aggregator, opts Options, log *zap.Logger) *EventService {
	s := &EventService{
		queue: queue.New(opts.Queue),
		store: store,
		stats: agg,
		log:   log,
		now:   time.Now,
	}

	if opts.Archive != nil {
		bufferSize := opts.ArchiveBufferSize
		if bufferSize <= 0 {
			bufferSize = opts.ArchiveWriter.MaxBatchSize
		}
		s.archive = make(chan *domain.ProcessedRecord, bufferSize)
		s.writer = consumer.NewBatchWriter(opts.Archive, opts.ArchiveWriter, log)
	}

	var archive chan<- *domain.ProcessedRecord
	if s.archive != nil {
		archive = s.archive
	}
	s.consumer = consumer.NewConsumer(s.queue, store, agg, archive, opts.Consumer, log)

	return s
}

// Start seeds the counters from the durable store and starts the workers.
// Workers keep running until Shutdown; ctx only bounds the seeding.
func (s *EventService) Start(ctx context.Context) error {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dedup store stats: %w", err)
	}
	s.stats.Seed(storeStats.Count, storeStats.Topics)

	s.log.Info("Seeded stats from dedup store",
		zap.Int64("stored_events", storeStats.Count),
		zap.Int("topics", len(storeStats.Topics)))

	workCtx, cancel := context.WithCancel(context.Background())
	s.stopWorkers = cancel
	s.group = &errgroup.Group{}

	s.group.Go(func() error {
		err := s.consumer.Run(workCtx)
		if s.archive != nil {
			close(s.archive)
		}
		return err
	})

	if s.writer != nil {
		s.group.Go(func() error {
			s.writer.Start(workCtx, s.archive)
			return nil
		})
	}

	s.log.Info("Aggregator started",
		zap.Int("queue_capacity", s.queue.Cap()),
		zap.Bool("archive_enabled", s.writer != nil))

	return nil
}

// Shutdown stops accepting events and drains the queue. If ctx expires first the
// workers stop after their in-flight insert and the remaining events are reported.
func (s *EventService) Shutdown(ctx context.Context) error {
	s.queue.Close()

	if s.group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()

	select {
	case err := <-done:
		s.stopWorkers()
		s.log.Info("Aggregator drained")
		return err
	case <-ctx.Done():
		s.log.Error("Shutdown deadline reached before the queue drained",
			zap.Int("undrained_events", s.queue.Len()))
		s.stopWorkers()
		<-done
		return ctx.Err()
	}
}

// Submit validates one raw event and places it on the queue
func (s *EventService) Submit(ctx context.Context, raw domain.RawEvent) domain.SubmitResult {
	result := domain.SubmitResult{Topic: raw.Topic, EventID: raw.EventID}

	event, err := domain.Validate(raw)
	if err != nil {
		s.log.Warn("Rejected invalid event",
			zap.String("topic", raw.Topic),
			zap.String("event_id", raw.EventID),
			zap.Error(err))
		result.Status = domain.SubmitInvalid
		result.Error = err.Error()
		return result
	}

	settle := s.stats.ReserveReceived()
	if err := s.queue.Enqueue(ctx, event); err != nil {
		settle(false)
		if !errors.Is(err, queue.ErrQueueFull) && !errors.Is(err, queue.ErrQueueClosed) {
			s.log.Warn("Enqueue interrupted", zap.String("event_id", event.EventID), zap.Error(err))
		}
		result.Status = domain.SubmitRejected
		result.Error = err.Error()
		return result
	}

	settle(true)
	result.Status = domain.SubmitAccepted
	return result
}

// SubmitBatch submits events in order; results line up with raws
func (s *EventService) SubmitBatch(ctx context.Context, raws []domain.RawEvent) BatchResult {
	batch := BatchResult{Results: make([]domain.SubmitResult, 0, len(raws))}

	for _, raw := range raws {
		result := s.Submit(ctx, raw)
		switch result.Status {
		case domain.SubmitAccepted:
			batch.Accepted++
		case domain.SubmitInvalid:
			batch.Invalid++
		default:
			batch.Rejected++
		}
		batch.Results = append(batch.Results, result)
	}

	if batch.Rejected > 0 {
		s.log.Warn("Batch partially rejected",
			zap.Int("accepted", batch.Accepted),
			zap.Int("rejected", batch.Rejected),
			zap.Int("invalid", batch.Invalid))
	}

	return batch
}

// QueryEvents returns processed events in processing order
func (s *EventService) QueryEvents(ctx context.Context, topic string, limit int) (*EventPage, error) {
	records, err := s.store.Query(ctx, repository.EventQuery{Topic: topic, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to query processed events: %w", err)
	}

	return &EventPage{
		Events:          records,
		Total:           len(records),
		FilteredByTopic: topic,
	}, nil
}

// GetEvent looks up a single processed event by its dedup key
func (s *EventService) GetEvent(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error) {
	record, err := s.store.Get(ctx, topic, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get processed event: %w", err)
	}
	return record, nil
}

// GetStats returns the counters without touching the store
func (s *EventService) GetStats() StatsView {
	return StatsView{
		Snapshot:      s.stats.Snapshot(),
		QueueDepth:    s.queue.Len(),
		QueueCapacity: s.queue.Cap(),
	}
}

// HealthCheck reports liveness only
func (s *EventService) HealthCheck() Health {
	return Health{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
	}
}

// QueueDepth returns the number of queued events
func (s *EventService) QueueDepth() int {
	return s.queue.Len()
}
