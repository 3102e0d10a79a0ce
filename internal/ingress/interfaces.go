package ingress

import (
	"context"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.RawEvent, error)
}

// EventSubmitter accepts raw events into the aggregator
type EventSubmitter interface {
	Submit(ctx context.Context, raw domain.RawEvent) domain.SubmitResult
}
