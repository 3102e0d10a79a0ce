package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/config"
	"github.com/BarkinBalci/log-aggregator/internal/logger"
	"github.com/BarkinBalci/log-aggregator/internal/publisher"
	"github.com/BarkinBalci/log-aggregator/internal/queue/sqs"
)

const (
	transportHTTP = "http"
	transportSQS  = "sqs"
)

var (
	transport      string
	targetURL      string
	count          int
	batchSize      int
	topics         []string
	source         string
	duplicateRatio float64
	requestTimeout time.Duration
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Publish synthetic events to the log aggregator",
	Long: `A load generator for the log aggregator.

Sends a stream of events with a configurable share of exact duplicates,
either to the HTTP /publish endpoint or through the SQS ingress queue.

Examples:
  # 5000 events, 20% duplicates, over HTTP
  publisher --count 5000 --duplicates 0.2

  # Send through SQS (queue settings come from SQS_* variables)
  publisher --transport sqs --topics orders,payments`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPublisher(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&transport, "transport", transportHTTP, "delivery transport: http, sqs")
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "http://localhost:8080", "aggregator base URL (http transport)")
	rootCmd.Flags().IntVarP(&count, "count", "n", 1000, "number of events to send, duplicates included")
	rootCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 100, "events per publish request")
	rootCmd.Flags().StringSliceVarP(&topics, "topics", "t", []string{"app.logs", "audit.logs", "metrics.logs"}, "topics to spread events across")
	rootCmd.Flags().StringVarP(&source, "source", "s", "publisher", "source field of generated events")
	rootCmd.Flags().Float64VarP(&duplicateRatio, "duplicates", "d", 0.2, "share of events that re-send an earlier event (0-1)")
	rootCmd.Flags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "HTTP request timeout")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func runPublisher(ctx context.Context) error {
	log, err := logger.New("development", logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}

	gen, err := publisher.NewGenerator(publisher.GeneratorConfig{
		Topics:         topics,
		Source:         source,
		DuplicateRatio: duplicateRatio,
	}, nil)
	if err != nil {
		return err
	}

	pub, err := newPublisher(ctx, log)
	if err != nil {
		return err
	}

	log.Info("Publishing events",
		zap.String("transport", transport),
		zap.Int("count", count),
		zap.Int("batch_size", batchSize),
		zap.Strings("topics", topics),
		zap.Float64("duplicate_ratio", duplicateRatio))

	summary, err := publisher.Run(ctx, gen, pub, count, batchSize, log)

	fmt.Printf("Sent:           %d\n", summary.Sent)
	fmt.Printf("Unique:         %d\n", summary.Unique)
	fmt.Printf("Duplicates:     %d\n", summary.Duplicates)
	fmt.Printf("Accepted:       %d\n", summary.Accepted)
	fmt.Printf("Rejected:       %d\n", summary.Rejected)
	fmt.Printf("Invalid:        %d\n", summary.Invalid)
	fmt.Printf("Failed batches: %d\n", summary.FailedBatches)
	fmt.Printf("Elapsed:        %s\n", summary.Elapsed.Round(time.Millisecond))

	return err
}

func newPublisher(ctx context.Context, log *zap.Logger) (publisher.Publisher, error) {
	switch transport {
	case transportHTTP:
		return publisher.NewHTTPPublisher(targetURL, requestTimeout), nil
	case transportSQS:
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if !cfg.SQSEnabled() {
			return nil, fmt.Errorf("SQS_QUEUE_URL is required for the sqs transport")
		}
		client, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return publisher.NewQueuePublisher(client), nil
	default:
		return nil, fmt.Errorf("invalid transport: %s (must be '%s' or '%s')", transport, transportHTTP, transportSQS)
	}
}
