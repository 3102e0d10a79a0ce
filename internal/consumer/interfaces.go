package consumer

import (
	"context"
	"time"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// EventSource hands queued events to the workers
type EventSource interface {
	Dequeue(ctx context.Context) (domain.Event, bool)
	Len() int
}

// StatsRecorder receives one call per processing outcome
type StatsRecorder interface {
	RecordInserted(topic string)
	RecordDuplicate()
	RecordFailed()
	ObserveInsert(d time.Duration)
}
