package consumer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
)

// Config configures the worker pool and store retries
type Config struct {
	Workers         int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

// Consumer drains the ingestion queue through the dedup store.
// Every dequeued event ends in exactly one of inserted, duplicate or failed.
type Consumer struct {
	source  EventSource
	store   repository.DedupStore
	stats   StatsRecorder
	archive chan<- *domain.ProcessedRecord
	config  Config
	log     *zap.Logger
}

// NewConsumer creates a consumer. archive may be nil when no sink is configured.
func NewConsumer(source EventSource, store repository.DedupStore, stats StatsRecorder, archive chan<- *domain.ProcessedRecord, config Config, log *zap.Logger) *Consumer {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = backoff.DefaultInitialInterval
	}
	if config.RetryMaxBackoff <= 0 {
		config.RetryMaxBackoff = backoff.DefaultMaxInterval
	}

	return &Consumer{
		source:  source,
		store:   store,
		stats:   stats,
		archive: archive,
		config:  config,
		log:     log,
	}
}

// Run starts the workers and blocks until the source is closed and drained or ctx is done.
// Cancelling ctx stops workers after their in-flight event; queued events stay queued.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Starting consumer workers", zap.Int("workers", c.config.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Workers; i++ {
		worker := i
		g.Go(func() error {
			c.work(gctx, worker)
			return nil
		})
	}

	err := g.Wait()

	if remaining := c.source.Len(); remaining > 0 {
		c.log.Error("Consumer stopped before the queue was drained",
			zap.Int("undrained_events", remaining))
	} else {
		c.log.Info("Consumer workers stopped")
	}

	return err
}

func (c *Consumer) work(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		event, ok := c.source.Dequeue(ctx)
		if !ok {
			c.log.Debug("Worker exiting", zap.Int("worker", worker))
			return
		}
		c.Process(ctx, event)
	}
}

// Process runs one event through the dedup store and records the outcome.
// Store errors are retried with exponential backoff; the insert itself is never
// cancelled so a commit in progress is allowed to finish.
func (c *Consumer) Process(ctx context.Context, event domain.Event) domain.Outcome {
	storeCtx := context.WithoutCancel(ctx)

	var (
		result   repository.InsertResult
		attempts int
	)
	insert := func() error {
		attempts++
		start := time.Now()
		res, err := c.store.TryInsert(storeCtx, event)
		c.stats.ObserveInsert(time.Since(start))
		if err != nil {
			if !repository.IsStoreError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	notify := func(err error, delay time.Duration) {
		c.log.Warn("Dedup store insert failed, retrying",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(insert, c.retryPolicy(ctx), notify); err != nil {
		return c.fail(event, attempts, err)
	}
	return c.record(ctx, event, result)
}

// retryPolicy allows MaxRetries retries after the first attempt and stops waiting once ctx is done
func (c *Consumer) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.RetryBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.config.RetryMaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.config.MaxRetries)), ctx)
}

func (c *Consumer) record(ctx context.Context, event domain.Event, result repository.InsertResult) domain.Outcome {
	switch result.Outcome {
	case domain.OutcomeInserted:
		c.stats.RecordInserted(event.Topic)
		c.log.Debug("Event processed",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID))
		c.forward(ctx, result.Record)
	case domain.OutcomeDuplicate:
		c.stats.RecordDuplicate()
		c.log.Info("Duplicate event dropped",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID))
	default:
		c.stats.RecordFailed()
		c.log.Error("Dedup store returned unknown outcome",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID),
			zap.Stringer("outcome", result.Outcome))
		return domain.OutcomeFailed
	}
	return result.Outcome
}

func (c *Consumer) fail(event domain.Event, attempts int, err error) domain.Outcome {
	c.stats.RecordFailed()
	c.log.Error("Giving up on event",
		zap.String("topic", event.Topic),
		zap.String("event_id", event.EventID),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return domain.OutcomeFailed
}

// forward hands an inserted record to the archive sink, if one is configured
func (c *Consumer) forward(ctx context.Context, record *domain.ProcessedRecord) {
	if c.archive == nil || record == nil {
		return
	}

	select {
	case c.archive <- record:
	case <-ctx.Done():
		c.log.Warn("Archive hand-off skipped during shutdown",
			zap.String("topic", record.Topic),
			zap.String("event_id", record.EventID))
	}
}
