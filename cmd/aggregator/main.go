package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/log-aggregator/internal/config"
	"github.com/BarkinBalci/log-aggregator/internal/consumer"
	"github.com/BarkinBalci/log-aggregator/internal/handler"
	"github.com/BarkinBalci/log-aggregator/internal/ingress"
	"github.com/BarkinBalci/log-aggregator/internal/logger"
	"github.com/BarkinBalci/log-aggregator/internal/queue"
	"github.com/BarkinBalci/log-aggregator/internal/queue/sqs"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
	"github.com/BarkinBalci/log-aggregator/internal/repository/clickhouse"
	"github.com/BarkinBalci/log-aggregator/internal/repository/postgres"
	"github.com/BarkinBalci/log-aggregator/internal/repository/sqlite"
	"github.com/BarkinBalci/log-aggregator/internal/repository/valkey"
	"github.com/BarkinBalci/log-aggregator/internal/service"
	"github.com/BarkinBalci/log-aggregator/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting log aggregator",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort),
		zap.String("dedup_backend", cfg.Dedup.Backend))

	if err := run(cfg, log); err != nil {
		log.Fatal("Aggregator stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openDedupStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close dedup store", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := stats.NewMetrics(reg)
	agg := stats.NewAggregator(time.Now().UTC(), metrics)

	policy, err := queue.ParseFullPolicy(cfg.Queue.FullPolicy)
	if err != nil {
		return err
	}

	opts := service.Options{
		Queue: queue.Config{
			Capacity:     cfg.Queue.MaxSize,
			Policy:       policy,
			BlockTimeout: cfg.Queue.BlockTimeout,
		},
		Consumer: consumer.Config{
			Workers:         cfg.Consumer.Workers,
			MaxRetries:      cfg.Consumer.MaxRetries,
			RetryBackoff:    cfg.Consumer.RetryBackoff,
			RetryMaxBackoff: cfg.Consumer.RetryMaxBackoff,
		},
	}

	if cfg.ArchiveEnabled() {
		archive, err := openArchive(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				log.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}()

		opts.Archive = archive
		opts.ArchiveWriter = consumer.BatchWriterConfig{
			MaxBatchSize: cfg.Archive.BatchSize,
			FlushTimeout: cfg.Archive.FlushTimeout,
		}
		opts.ArchiveBufferSize = cfg.Archive.BufferSize
	}

	eventService := service.NewEventService(store, agg, opts, log)
	if err := eventService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start aggregator: %w", err)
	}
	metrics.TrackQueueDepth(eventService.QueueDepth)

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Service.APIPort),
		Handler:           handler.NewHandler(eventService, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	if cfg.SQSEnabled() {
		sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return fmt.Errorf("failed to create SQS client: %w", err)
		}
		pipeline := ingress.NewPipeline(cfg.SQS, sqsClient, eventService, log)

		g.Go(func() error {
			log.Info("SQS ingress starting", zap.String("queue_url", cfg.SQS.QueueURL))
			return pipeline.Start(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down", zap.Duration("timeout", cfg.Service.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down API server", zap.Error(err))
		}
		if err := eventService.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("aggregator shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Aggregator stopped", zap.Any("stats", agg.Snapshot()))
	return nil
}

// openDedupStore opens the configured durable store and optionally wraps it in the Valkey cache
func openDedupStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.DedupStore, error) {
	var store repository.DedupStore

	switch cfg.Dedup.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		pgStore := postgres.NewStore(pool, log)
		if err := pgStore.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize PostgreSQL schema: %w", err)
		}
		store = pgStore

	default:
		if err := os.MkdirAll(cfg.Dedup.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		sqliteStore, err := sqlite.Open(ctx, filepath.Join(cfg.Dedup.DataDir, cfg.Dedup.DBFile), log)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite dedup store: %w", err)
		}
		store = sqliteStore
	}

	if !cfg.Valkey.IdempotencyEnabled {
		return store, nil
	}

	client, err := valkey.NewClient(ctx, net.JoinHostPort(cfg.Valkey.Host, cfg.Valkey.Port), cfg.Valkey.Password)
	if err != nil {
		if !cfg.Valkey.IdempotencyFailOpen {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
		}
		log.Warn("Valkey unavailable, running without duplicate cache", zap.Error(err))
		return store, nil
	}

	log.Info("Valkey duplicate cache enabled", zap.String("host", cfg.Valkey.Host))
	return valkey.NewStore(store, client, valkey.Config{
		KeyPrefix: cfg.Valkey.KeyPrefix,
		TTL:       cfg.Valkey.KeyTTL,
		FailOpen:  cfg.Valkey.IdempotencyFailOpen,
	}, log), nil
}

func openArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) (*clickhouse.Repository, error) {
	client, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}

	repo := clickhouse.NewRepository(client, log)
	if err := repo.InitSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to initialize ClickHouse schema: %w", err)
	}
	log.Info("ClickHouse archive schema initialized")

	return repo, nil
}
