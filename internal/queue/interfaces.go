package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// QueuePublisher defines the interface for publishing raw events to an external broker
type QueuePublisher interface {
	PublishEvent(ctx context.Context, event *domain.RawEvent) error
	// PublishEvents returns the indexes of events the broker did not accept
	PublishEvents(ctx context.Context, events []domain.RawEvent) ([]int, error)
}

// QueueConsumer defines the interface for consuming messages from an external broker
type QueueConsumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error)
	QueueURL() string
}
