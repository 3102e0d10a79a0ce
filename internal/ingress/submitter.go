package ingress

import (
	"context"

	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// SubmitStage hands parsed envelopes to the aggregator and settles them with SQS.
// Accepted and invalid events are acked; rejected events are nacked so SQS
// redelivers them once the ingestion queue has room again.
type SubmitStage struct {
	submitter EventSubmitter
	log       *zap.Logger
}

// NewSubmitStage creates a new submit stage
func NewSubmitStage(submitter EventSubmitter, log *zap.Logger) *SubmitStage {
	return &SubmitStage{
		submitter: submitter,
		log:       log,
	}
}

// Start consumes envelopes until in is closed or ctx is done
func (s *SubmitStage) Start(ctx context.Context, in <-chan *Envelope) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Submit stage shutting down")
			return
		case envelope, ok := <-in:
			if !ok {
				s.log.Info("Submit stage input channel closed")
				return
			}
			s.settle(ctx, envelope)
		}
	}
}

func (s *SubmitStage) settle(ctx context.Context, envelope *Envelope) {
	result := s.submitter.Submit(ctx, *envelope.Event)

	// settle even when shutdown starts mid-message, otherwise an accepted event is redelivered
	ctx = context.WithoutCancel(ctx)

	switch result.Status {
	case domain.SubmitAccepted:
		if err := envelope.Ack(ctx); err != nil {
			s.log.Error("Failed to ack envelope",
				zap.String("message_id", envelope.MessageID),
				zap.Error(err))
		}
	case domain.SubmitInvalid:
		s.log.Warn("Dropping invalid event from SQS",
			zap.String("message_id", envelope.MessageID),
			zap.String("topic", result.Topic),
			zap.String("event_id", result.EventID),
			zap.String("reason", result.Error))
		if err := envelope.Ack(ctx); err != nil {
			s.log.Error("Failed to ack envelope",
				zap.String("message_id", envelope.MessageID),
				zap.Error(err))
		}
	default:
		s.log.Warn("Event rejected, leaving message for redelivery",
			zap.String("message_id", envelope.MessageID),
			zap.String("event_id", result.EventID),
			zap.String("reason", result.Error))
		if err := envelope.Nack(ctx); err != nil {
			s.log.Error("Failed to nack envelope",
				zap.String("message_id", envelope.MessageID),
				zap.Error(err))
		}
	}
}
