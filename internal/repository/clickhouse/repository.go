package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

const archiveTable = "processed_events"

// Repository implements repository.ArchiveRepository on ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the archive table. ReplacingMergeTree keyed by (topic, event_id)
// collapses a record that was archived twice.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + archiveTable + ` (
		topic LowCardinality(String),
		event_id String,
		source LowCardinality(String),
		event_timestamp Nullable(DateTime64(3, 'UTC')),
		payload String,
		processed_at DateTime64(9, 'UTC')
	) ENGINE = ReplacingMergeTree(processed_at)
	ORDER BY (topic, event_id)
	PARTITION BY toYYYYMM(processed_at)
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", archiveTable, err)
	}

	return nil
}

// InsertBatch sends the records as one batch; the batch is all or nothing
func (r *Repository) InsertBatch(ctx context.Context, records []*domain.ProcessedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO "+archiveTable)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, record := range records {
		if err := batch.Append(archiveRow(record)...); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append %s to archive batch: %w", record.Key(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send archive batch: %w", err)
	}

	r.log.Debug("Archived processed events", zap.Int("count", len(records)))
	return len(records), nil
}

// archiveRow orders a record's columns as the archive table declares them
func archiveRow(record *domain.ProcessedRecord) []any {
	payload := string(record.Payload)
	if payload == "" {
		payload = "{}"
	}

	var eventTimestamp *time.Time
	if !record.Timestamp.IsZero() {
		ts := record.Timestamp.UTC()
		eventTimestamp = &ts
	}

	return []any{
		record.Topic,
		record.EventID,
		record.Source,
		eventTimestamp,
		payload,
		record.ProcessedAt.UTC(),
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

func (r *Repository) Close() error {
	return r.client.Close()
}
