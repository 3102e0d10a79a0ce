package ingress

import (
	"context"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// Envelope wraps a raw event with acknowledgment callbacks
type Envelope struct {
	Event     *domain.RawEvent
	MessageID string
	ack       func(context.Context) error
	nack      func(context.Context) error
}

// NewEnvelope creates a new message envelope
func NewEnvelope(event *domain.RawEvent, messageID string, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		Event:     event,
		MessageID: messageID,
		ack:       ack,
		nack:      nack,
	}
}

// Ack removes the message from the broker
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack != nil {
		return e.ack(ctx)
	}
	return nil
}

// Nack hands the message back to the broker for redelivery
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack != nil {
		return e.nack(ctx)
	}
	return nil
}
