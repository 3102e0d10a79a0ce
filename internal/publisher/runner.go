package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// Summary reports a finished run
type Summary struct {
	Sent       int
	Unique     int
	Duplicates int
	Result
	FailedBatches int
	Elapsed       time.Duration
}

// Run generates count events and publishes them in batches of batchSize.
// A failed batch is logged and counted; the run continues with the next one.
func Run(ctx context.Context, gen *Generator, pub Publisher, count, batchSize int, log *zap.Logger) (Summary, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	start := time.Now()
	var summary Summary
	batch := make([]domain.RawEvent, 0, batchSize)

	finish := func(err error) (Summary, error) {
		summary.Unique = gen.Unique()
		summary.Elapsed = time.Since(start)
		return summary, err
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := pub.Publish(ctx, batch)
		summary.add(result)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.FailedBatches++
			log.Error("Failed to publish batch", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		return nil
	}

	for i := 0; i < count; i++ {
		event, duplicate, err := gen.Next()
		if err != nil {
			return finish(err)
		}
		if duplicate {
			summary.Duplicates++
		}
		summary.Sent++
		batch = append(batch, event)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return finish(err)
			}
		}
	}

	return finish(flush())
}
