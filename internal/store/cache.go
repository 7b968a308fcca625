package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/compute"
)

const (
	populationKey        = "chatlog:population:v1"
	defaultPopulationTTL = 5 * time.Minute
)

// CachedStore serves FetchAll from a Redis snapshot of the population.
// Store invalidates the snapshot. Redis failures fall through to the inner
// store.
type CachedStore struct {
	inner  RecordStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps inner. A non-positive ttl uses five minutes.
func NewCachedStore(inner RecordStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultPopulationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Store writes through to the inner store and drops the cached snapshot.
func (c *CachedStore) Store(ctx context.Context, record compute.Record) (string, error) {
	id, err := c.inner.Store(ctx, record)
	if err != nil {
		return "", err
	}
	if err := c.client.Del(ctx, populationKey).Err(); err != nil {
		c.logger.Warn("population_cache_invalidate_failed", zap.Error(err))
	}
	return id, nil
}

// FetchAll serves the cached snapshot, refreshing it from the inner store
// on a miss.
func (c *CachedStore) FetchAll(ctx context.Context) ([]compute.Record, error) {
	data, err := c.client.Get(ctx, populationKey).Bytes()
	switch {
	case err == nil:
		var records []compute.Record
		if jsonErr := json.Unmarshal(data, &records); jsonErr == nil {
			return records, nil
		}
		c.logger.Warn("population_cache_corrupt")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("population_cache_read_failed", zap.Error(err))
	}

	records, err := c.inner.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	if err := c.client.Set(ctx, populationKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("population_cache_write_failed", zap.Error(err))
	}
	return records, nil
}
