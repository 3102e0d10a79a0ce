package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/log-aggregator/internal/config"
	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// maxBatchEntries is the SendMessageBatch limit
const maxBatchEntries = 10

// Client carries raw events over an SQS queue in both directions
type Client struct {
	client   *sqs.Client
	queueURL string
	log      *zap.Logger
}

// NewClient builds an SQS client. A configured endpoint (ElasticMQ, LocalStack) switches to
// static dummy credentials.
func NewClient(ctx context.Context, cfg envConfig.SQS, log *zap.Logger) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created",
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("queue_url", cfg.QueueURL))

	return &Client{
		client:   sqs.NewFromConfig(awsCfg, clientOpts...),
		queueURL: cfg.QueueURL,
		log:      log,
	}, nil
}

func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, input)
}

func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.client.DeleteMessage(ctx, input)
}

// ChangeMessageVisibility shortens or extends how long a received message stays hidden
func (c *Client) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {
	return c.client.ChangeMessageVisibility(ctx, input)
}

func (c *Client) QueueURL() string {
	return c.queueURL
}

// PublishEvent sends one raw event as a message
func (c *Client) PublishEvent(ctx context.Context, event *domain.RawEvent) error {
	body, err := messageBody(event)
	if err != nil {
		return err
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: messageAttributes(event),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", domain.DedupKey{Topic: event.Topic, EventID: event.EventID}, err)
	}

	return nil
}

// PublishEvents sends events with SendMessageBatch and returns the indexes of the
// events SQS did not accept. An error means a whole request failed.
func (c *Client) PublishEvents(ctx context.Context, events []domain.RawEvent) ([]int, error) {
	var failed []int

	for start := 0; start < len(events); start += maxBatchEntries {
		end := min(start+maxBatchEntries, len(events))

		entries, err := batchEntries(events[start:end], start)
		if err != nil {
			return failed, err
		}

		out, err := c.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(c.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return failed, fmt.Errorf("failed to send message batch: %w", err)
		}

		for _, entry := range out.Failed {
			idx, err := strconv.Atoi(aws.ToString(entry.Id))
			if err != nil {
				continue
			}
			c.log.Warn("SQS rejected event",
				zap.String("topic", events[idx].Topic),
				zap.String("event_id", events[idx].EventID),
				zap.String("code", aws.ToString(entry.Code)),
				zap.String("reason", aws.ToString(entry.Message)))
			failed = append(failed, idx)
		}
	}

	return failed, nil
}

// batchEntries builds entries whose IDs are the events' positions in the full slice
func batchEntries(events []domain.RawEvent, offset int) ([]types.SendMessageBatchRequestEntry, error) {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(events))
	for i := range events {
		body, err := messageBody(&events[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:                aws.String(strconv.Itoa(offset + i)),
			MessageBody:       aws.String(body),
			MessageAttributes: messageAttributes(&events[i]),
		})
	}
	return entries, nil
}

func messageBody(event *domain.RawEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	return string(body), nil
}

// messageAttributes mirrors the dedup key so queue tooling can filter without parsing bodies
func messageAttributes(event *domain.RawEvent) map[string]types.MessageAttributeValue {
	return map[string]types.MessageAttributeValue{
		"Topic": {
			DataType:    aws.String("String"),
			StringValue: aws.String(event.Topic),
		},
		"EventID": {
			DataType:    aws.String("String"),
			StringValue: aws.String(event.EventID),
		},
	}
}
