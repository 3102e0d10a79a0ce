package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
)

// WAL journal with synchronous=FULL: a commit is on stable storage before it returns.
const pragmas = "?_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(FULL)" +
	"&_pragma=busy_timeout(10000)" +
	"&_pragma=temp_store(MEMORY)"

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	topic        TEXT    NOT NULL,
	event_id     TEXT    NOT NULL,
	timestamp    TEXT    NOT NULL DEFAULT '',
	source       TEXT    NOT NULL DEFAULT '',
	payload      TEXT    NOT NULL,
	processed_at INTEGER NOT NULL,
	UNIQUE (topic, event_id)
);
CREATE INDEX IF NOT EXISTS idx_processed_events_topic ON processed_events (topic);
CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at ON processed_events (processed_at);
`

// Store implements repository.DedupStore on an embedded SQLite database
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
	now  func() time.Time
}

// Open opens (or creates) the database at path and initializes the schema
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection serializes writers; the UNIQUE constraint is still what decides duplicates.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create processed_events table: %w", err)
	}

	log.Info("SQLite dedup store initialized", zap.String("path", path))

	return &Store{
		db:   db,
		path: path,
		log:  log,
		now:  time.Now,
	}, nil
}

// TryInsert inserts the event unless its (topic, event_id) is already stored.
// processed_at is taken inside the write transaction, so it never runs backwards
// relative to id.
func (s *Store) TryInsert(ctx context.Context, event domain.Event) (result repository.InsertResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.InsertResult{}, &repository.StoreError{Op: "insert", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	processedAt := s.now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (topic, event_id, timestamp, source, payload, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (topic, event_id) DO NOTHING`,
		event.Topic,
		event.EventID,
		formatTimestamp(event.Timestamp),
		event.Source,
		string(event.Payload),
		processedAt.UnixNano(),
	)
	if err != nil {
		return repository.InsertResult{}, &repository.StoreError{Op: "insert", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return repository.InsertResult{}, &repository.StoreError{Op: "insert", Err: err}
	}

	if err = tx.Commit(); err != nil {
		return repository.InsertResult{}, &repository.StoreError{Op: "commit", Err: err}
	}

	if affected == 0 {
		return repository.InsertResult{Outcome: domain.OutcomeDuplicate}, nil
	}

	return repository.InsertResult{
		Outcome: domain.OutcomeInserted,
		Record:  &domain.ProcessedRecord{Event: event, ProcessedAt: processedAt},
	}, nil
}

// Get returns the stored record for a dedup key
func (s *Store) Get(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT topic, event_id, timestamp, source, payload, processed_at
		FROM processed_events
		WHERE topic = ? AND event_id = ?`,
		topic, eventID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get", Err: err}
	}

	return record, nil
}

// Query returns records ordered by processed_at ascending, optionally filtered by topic
func (s *Store) Query(ctx context.Context, query repository.EventQuery) ([]domain.ProcessedRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if query.Topic != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT topic, event_id, timestamp, source, payload, processed_at
			FROM processed_events
			WHERE topic = ?
			ORDER BY processed_at ASC, id ASC
			LIMIT ?`,
			query.Topic, query.NormalizedLimit())
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT topic, event_id, timestamp, source, payload, processed_at
			FROM processed_events
			ORDER BY processed_at ASC, id ASC
			LIMIT ?`,
			query.NormalizedLimit())
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "query", Err: err}
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Error("Failed to close query rows", zap.Error(err))
		}
	}(rows)

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

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&stats.Count); err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM processed_events ORDER BY topic`)
	if err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}
	defer rows.Close()

	stats.Topics = make([]string, 0)
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return stats, &repository.StoreError{Op: "stats", Err: err}
		}
		stats.Topics = append(stats.Topics, topic)
	}

	if err := rows.Err(); err != nil {
		return stats, &repository.StoreError{Op: "stats", Err: err}
	}

	return stats, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	s.log.Info("Closing SQLite dedup store", zap.String("path", s.path))
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.ProcessedRecord, error) {
	var (
		record      domain.ProcessedRecord
		timestamp   string
		payload     string
		processedAt int64
	)

	if err := row.Scan(&record.Topic, &record.EventID, &timestamp, &record.Source, &payload, &processedAt); err != nil {
		return nil, err
	}

	if timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored timestamp: %w", err)
		}
		record.Timestamp = ts
	}

	record.Payload = []byte(payload)
	record.ProcessedAt = time.Unix(0, processedAt).UTC()

	return &record, nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
