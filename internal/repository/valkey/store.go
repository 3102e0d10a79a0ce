// Package valkey puts a positive-only duplicate cache in front of a durable dedup store.
//
// A key is written to the cache only after the durable store reported it as inserted
// or duplicate, and durable records are never deleted, so a cache hit is always a true
// duplicate. A miss says nothing and falls through to the durable store, which stays
// the only authority on insert-if-absent.
package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
)

// Config configures the duplicate cache
type Config struct {
	KeyPrefix string
	// TTL bounds cache memory only; durable records never expire. Zero keeps keys forever.
	TTL time.Duration
	// FailOpen falls through to the durable store when the cache is unavailable
	FailOpen bool
}

// Store decorates a repository.DedupStore with a Valkey duplicate cache
type Store struct {
	next   repository.DedupStore
	client *redis.Client
	config Config
	log    *zap.Logger
}

// NewClient connects to Valkey (or Redis) and verifies connectivity
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return client, nil
}

// NewStore wraps next with the cache
func NewStore(next repository.DedupStore, client *redis.Client, config Config, log *zap.Logger) *Store {
	return &Store{
		next:   next,
		client: client,
		config: config,
		log:    log,
	}
}

// cacheKey is length-prefixed so topics containing ':' cannot collide
func (s *Store) cacheKey(key domain.DedupKey) string {
	return s.config.KeyPrefix + strconv.Itoa(len(key.Topic)) + ":" + key.Topic + ":" + key.EventID
}

// TryInsert answers known duplicates from the cache and delegates everything else
func (s *Store) TryInsert(ctx context.Context, event domain.Event) (repository.InsertResult, error) {
	key := s.cacheKey(event.Key())

	exists, err := s.client.Exists(ctx, key).Result()
	switch {
	case err != nil && !s.config.FailOpen:
		return repository.InsertResult{}, &repository.StoreError{Op: "cache lookup", Err: err}
	case err != nil:
		s.log.Warn("Duplicate cache unavailable, falling back to durable store",
			zap.String("dedup_key", event.Key().String()),
			zap.Error(err))
	case exists > 0:
		s.log.Debug("Duplicate answered from cache", zap.String("dedup_key", event.Key().String()))
		return repository.InsertResult{Outcome: domain.OutcomeDuplicate}, nil
	}

	result, err := s.next.TryInsert(ctx, event)
	if err != nil {
		return result, err
	}

	if err := s.client.Set(ctx, key, result.Outcome.String(), s.config.TTL).Err(); err != nil {
		s.log.Warn("Failed to cache dedup key",
			zap.String("dedup_key", event.Key().String()),
			zap.Error(err))
	}

	return result, nil
}

func (s *Store) Get(ctx context.Context, topic, eventID string) (*domain.ProcessedRecord, error) {
	return s.next.Get(ctx, topic, eventID)
}

func (s *Store) Query(ctx context.Context, query repository.EventQuery) ([]domain.ProcessedRecord, error) {
	return s.next.Query(ctx, query)
}

func (s *Store) Stats(ctx context.Context) (repository.StoreStats, error) {
	return s.next.Stats(ctx)
}

// Ping checks the durable store only; the cache is optional
func (s *Store) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close closes the cache client and the durable store
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		s.log.Error("Failed to close valkey client", zap.Error(err))
	}
	return s.next.Close()
}
