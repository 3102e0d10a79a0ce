package ingress

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/config"
	"github.com/BarkinBalci/log-aggregator/internal/queue"
)

// Pipeline feeds SQS messages into the aggregator through three stages
type Pipeline struct {
	receiver   *Receiver
	parser     *ParserStage
	submitter  *SubmitStage
	bufferSize int
}

// NewPipeline creates the SQS ingress pipeline
func NewPipeline(cfg config.SQS, queueConsumer queue.QueueConsumer, submitter EventSubmitter, log *zap.Logger) *Pipeline {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Pipeline{
		receiver: NewReceiver(queueConsumer, ReceiverConfig{
			MaxMessages:     cfg.MaxMessages,
			WaitTimeSeconds: cfg.WaitTimeSeconds,
			BufferSize:      bufferSize,
		}, log),
		parser:     NewParserStage(queueConsumer, NewJSONEventParser(), cfg.RetryVisibilitySeconds, log),
		submitter:  NewSubmitStage(submitter, log),
		bufferSize: bufferSize,
	}
}

// Start runs the pipeline until ctx is done
func (p *Pipeline) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, p.bufferSize)
	envelopeChan := make(chan *Envelope, p.bufferSize)

	var wg sync.WaitGroup
	wg.Add(3)

	// Stage 1: Receive messages from SQS
	go func() {
		defer wg.Done()
		p.receiver.Start(ctx, messageChan)
	}()

	// Stage 2: Parse messages into envelopes
	go func() {
		defer wg.Done()
		p.parser.Start(ctx, messageChan, envelopeChan)
	}()

	// Stage 3: Submit to the aggregator and settle with SQS
	go func() {
		defer wg.Done()
		p.submitter.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}
