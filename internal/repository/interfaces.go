package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

const (
	// DefaultQueryLimit applies when a query does not set a limit
	DefaultQueryLimit = 100
	// MaxQueryLimit caps the number of records a single query returns
	MaxQueryLimit = 1000
)

// ErrNotFound is returned by point lookups of an unknown dedup key
var ErrNotFound = errors.New("processed event not found")

// StoreError wraps a durable read or write failure. It is never the caller's fault
// and is safe to retry: a failed insert leaves no record behind.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dedup store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is (or wraps) a *StoreError
func IsStoreError(err error) bool {
	var sErr *StoreError
	return errors.As(err, &sErr)
}

// InsertResult reports which side of insert-if-absent happened.
// Record is set only when Outcome is domain.OutcomeInserted.
type InsertResult struct {
	Outcome domain.Outcome
	Record  *domain.ProcessedRecord
}

// EventQuery represents processed event query parameters
type EventQuery struct {
	Topic string
	Limit int
}

// NormalizedLimit returns the limit clamped to [1, MaxQueryLimit], defaulting to DefaultQueryLimit
func (q EventQuery) NormalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}

// StoreStats is the durable view used to seed counters at startup
type StoreStats struct {
	Count  int64
	Topics []string
}

// DedupStore is the durable record of processed events
type DedupStore interface {
	// TryInsert atomically inserts the event if its dedup key is absent.
	// Concurrent callers with the same key see exactly one OutcomeInserted.
	// The record is committed before OutcomeInserted is returned.
	TryInsert(ctx context.Context, event domain.Event) (InsertResult, error)

	// Get returns the record for a dedup key or ErrNotFound
	Get(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error)

	// Query returns records ordered by processed_at ascending
	Query(ctx context.Context, query EventQuery) ([]domain.ProcessedRecord, error)

	// Stats returns the number of stored records and the distinct topics
	Stats(ctx context.Context) (StoreStats, error)

	// Ping checks if the storage is reachable
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// ArchiveRepository mirrors processed records into an analytics store
type ArchiveRepository interface {
	// InsertBatch inserts a batch of records into the storage
	InsertBatch(ctx context.Context, records []*domain.ProcessedRecord) (int, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error
}
