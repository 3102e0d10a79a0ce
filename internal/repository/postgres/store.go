package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	id           BIGSERIAL   NOT NULL,
	topic        TEXT        NOT NULL,
	event_id     TEXT        NOT NULL,
	timestamp    TIMESTAMPTZ,
	source       TEXT        NOT NULL DEFAULT '',
	payload      JSONB       NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (topic, event_id)
);
CREATE INDEX IF NOT EXISTS idx_processed_events_topic ON processed_events (topic);
CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at ON processed_events (processed_at, id);
`

// Store implements repository.DedupStore on PostgreSQL
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPool creates a connection pool and verifies connectivity
func NewPool(ctx context.Context, dsn string, maxConns int32, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("PostgreSQL connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database))

	return pool, nil
}

// NewStore creates a store on an existing pool
func NewStore(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// InitSchema creates the processed_events table if it does not exist
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create processed_events table: %w", err)
	}
	s.log.Info("PostgreSQL dedup schema initialized")
	return nil
}

// TryInsert returns OutcomeInserted if the event was saved, OutcomeDuplicate if it already existed
func (s *Store) TryInsert(ctx context.Context, event domain.Event) (repository.InsertResult, error) {
	const query = `
		INSERT INTO processed_events (topic, event_id, timestamp, source, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (topic, event_id) DO NOTHING
		RETURNING processed_at
	`

	var processedAt time.Time
	err := s.pool.QueryRow(ctx, query,
		event.Topic,
		event.EventID,
		nullIfZeroTime(event.Timestamp),
		event.Source,
		string(event.Payload),
	).Scan(&processedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.InsertResult{Outcome: domain.OutcomeDuplicate}, nil
	}
	if err != nil {
		return repository.InsertResult{}, &repository.StoreError{Op: "insert", Err: err}
	}

	return repository.InsertResult{
		Outcome: domain.OutcomeInserted,
		Record:  &domain.ProcessedRecord{Event: event, ProcessedAt: processedAt.UTC()},
	}, nil
}

// Get returns the stored record for a dedup key
func (s *Store) Get(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error) {
	const query = `
		SELECT topic, event_id, timestamp, source, payload::text, processed_at
		FROM processed_events
		WHERE topic = $1 AND event_id = $2
	`

	record, err := scanRecord(s.pool.QueryRow(ctx, query, topic, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get", Err: err}
	}

	return record, nil
}

// Query returns records ordered by processed_at ascending, optionally filtered by topic
func (s *Store) Query(ctx context.Context, query repository.EventQuery) ([]domain.ProcessedRecord, error) {
	const (
		filtered = `
			SELECT topic, event_id, timestamp, source, payload::text, processed_at
			FROM processed_events
			WHERE topic = $1
			ORDER BY processed_at ASC, id ASC
			LIMIT $2
		`
		unfiltered = `
			SELECT topic, event_id, timestamp, source, payload::text, processed_at
			FROM processed_events
			ORDER BY processed_at ASC, id ASC
			LIMIT $1
		`
	)

	var (
		rows pgx.Rows
		err  error
	)
	if query.Topic != "" {
		rows, err = s.pool.Query(ctx, filtered, query.Topic, query.NormalizedLimit())
	} else {
		rows, err = s.pool.Query(ctx, unfiltered, query.NormalizedLimit())
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	records := make([]domain.ProcessedRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, &repository.StoreError{Op: "query", Err: err}
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, &repository.StoreError{Op: "query", Err: err}
	}

	return records, nil
}

// Stats returns the record count and distinct topics
func (s *Store) Stats(ctx context.Context) (repository.StoreStats, error) {
	var stats repository.StoreStats

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&stats.Count); err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT topic FROM processed_events ORDER BY topic`)
	if err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}

	topics, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}
	stats.Topics = topics

	return stats, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	s.log.Info("Closing PostgreSQL dedup store")
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*domain.ProcessedRecord, error) {
	var (
		record    domain.ProcessedRecord
		timestamp *time.Time
		payload   string
	)

	if err := row.Scan(&record.Topic, &record.EventID, &timestamp, &record.Source, &payload, &record.ProcessedAt); err != nil {
		return nil, err
	}

	if timestamp != nil {
		record.Timestamp = timestamp.UTC()
	}
	record.Payload = []byte(payload)
	record.ProcessedAt = record.ProcessedAt.UTC()

	return &record, nil
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
