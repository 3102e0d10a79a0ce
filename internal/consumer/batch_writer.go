package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter mirrors inserted records into the archive repository in batches.
// Archive failures are logged and never affect dedup outcomes.
type BatchWriter struct {
	repository repository.ArchiveRepository
	config     BatchWriterConfig
	log        *zap.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(repo repository.ArchiveRepository, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = time.Second
	}

	return &BatchWriter{
		repository: repo,
		config:     config,
		log:        log,
	}
}

// Start batches records from in until it is closed or ctx is done, flushing what is left
func (w *BatchWriter) Start(ctx context.Context, in <-chan *domain.ProcessedRecord) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*domain.ProcessedRecord, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			w.flushFinal(ctx, batch)
			return

		case record, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				w.flushFinal(ctx, batch)
				return
			}

			batch = append(batch, record)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*domain.ProcessedRecord, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("record_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*domain.ProcessedRecord, 0, w.config.MaxBatchSize)
			}
		}
	}
}

func (w *BatchWriter) flushFinal(ctx context.Context, batch []*domain.ProcessedRecord) {
	if len(batch) == 0 {
		return
	}
	w.log.Info("Flushing final batch", zap.Int("record_count", len(batch)))
	w.processBatch(context.WithoutCancel(ctx), batch)
}

func (w *BatchWriter) processBatch(ctx context.Context, records []*domain.ProcessedRecord) {
	if len(records) == 0 {
		return
	}

	insertedCount, err := w.repository.InsertBatch(ctx, records)
	if err != nil {
		w.log.Error("Failed to archive batch",
			zap.Error(err),
			zap.Int("record_count", len(records)))
		return
	}

	if insertedCount != len(records) {
		w.log.Warn("Partial archive insert",
			zap.Int("inserted", insertedCount),
			zap.Int("expected", len(records)))
		return
	}

	w.log.Info("Archived records", zap.Int("count", insertedCount))
}
