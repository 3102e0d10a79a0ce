package service

import (
	"context"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// EventServicer defines the interface for aggregator operations used by the handlers
type EventServicer interface {
	Submit(ctx context.Context, raw domain.RawEvent) domain.SubmitResult
	SubmitBatch(ctx context.Context, raws []domain.RawEvent) BatchResult
	QueryEvents(ctx context.Context, topic string, limit int) (*EventPage, error)
	GetEvent(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error)
	GetStats() StatsView
	HealthCheck() Health
}
