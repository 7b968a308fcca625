package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/chatlog_audit/internal/compute"
)

type memoryStore struct {
	mu         sync.Mutex
	records    []compute.Record
	fetchCalls int
	failFetch  error
}

func (m *memoryStore) Store(_ context.Context, record compute.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = "rec-" + string(rune('a'+len(m.records)))
	m.records = append(m.records, record)
	return record.ID, nil
}

func (m *memoryStore) FetchAll(context.Context) ([]compute.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.failFetch != nil {
		return nil, m.failFetch
	}
	return append([]compute.Record(nil), m.records...), nil
}

func TestCachedStoreServesSnapshotAndInvalidatesOnStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &memoryStore{}
	cached := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	_, err := cached.Store(ctx, compute.Record{AvgHallucinationScore: 1})
	require.NoError(t, err)

	records, err := cached.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, mr.Exists(populationKey))

	records, err = cached.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, inner.fetchCalls)

	_, err = cached.Store(ctx, compute.Record{AvgHallucinationScore: 2})
	require.NoError(t, err)
	assert.False(t, mr.Exists(populationKey))

	records, err = cached.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, inner.fetchCalls)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(populationKey))
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	inner := &memoryStore{records: []compute.Record{{ID: "x"}}}
	cached := NewCachedStore(inner, client, time.Minute, nil)
	mr.Close()

	records, err := cached.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x", records[0].ID)
}

func TestCachedStorePropagatesInnerFailure(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &memoryStore{failFetch: unavailable("fetch records", errors.New("disk gone"))}
	_, err := NewCachedStore(inner, client, 0, nil).FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
