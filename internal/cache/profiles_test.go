package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]storage.AccountProfile
	gets     int
	upserts  int
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[uuid.UUID]storage.AccountProfile)}
}

func (s *fakeStore) GetProfile(ctx context.Context, id uuid.UUID) (*storage.AccountProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	p, ok := s.profiles[id]
	if !ok {
		return nil, false, nil
	}
	copied := p
	return &copied, true, nil
}

func (s *fakeStore) UpsertProfile(ctx context.Context, p *storage.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.upserts++
	s.profiles[p.AccountID] = *p
	return nil
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{ProfileTTL: time.Minute, JanitorInterval: time.Hour}
}

func TestProfileCache_ReadThrough(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.profiles[id] = storage.AccountProfile{
		AccountID: id,
		Balance:   decimal.NewFromInt(500),
	}

	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())
	ctx := context.Background()

	p, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 1, store.gets)

	// Second read is served from memory.
	_, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
}

func TestProfileCache_UnknownAccountGetsZeroProfile(t *testing.T) {
	c := NewProfileCache(newFakeStore(), testCacheConfig(), zap.NewNop())

	p, err := c.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, p.Balance.IsZero())
	assert.Equal(t, int64(0), p.PlaySeconds)
}

func TestProfileCache_UpdateMarksDirtyAndFlushes(t *testing.T) {
	store := newFakeStore()
	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.Update(ctx, id, func(p *storage.AccountProfile) {
		p.Balance = decimal.NewFromInt(42)
		p.PlaySeconds = 100
	}))

	// Cached read sees the mutation before any flush.
	p, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, 0, store.upserts)

	assert.Equal(t, 1, c.FlushDirty(ctx))
	assert.Equal(t, 1, store.upserts)
	assert.True(t, store.profiles[id].Balance.Equal(decimal.NewFromInt(42)))

	// Clean entries do not flush again.
	assert.Equal(t, 0, c.FlushDirty(ctx))
}

func TestProfileCache_FailedFlushStaysDirty(t *testing.T) {
	store := newFakeStore()
	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.Update(ctx, id, func(p *storage.AccountProfile) {
		p.Balance = decimal.NewFromInt(7)
	}))

	store.failNext = errors.New("db down")
	assert.Equal(t, 0, c.FlushDirty(ctx))

	// Retry succeeds and persists the same mutation.
	assert.Equal(t, 1, c.FlushDirty(ctx))
	assert.True(t, store.profiles[id].Balance.Equal(decimal.NewFromInt(7)))
}

func TestProfileCache_SweepEvictsExpired(t *testing.T) {
	store := newFakeStore()
	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	idClean, idDirty := uuid.New(), uuid.New()
	_, err := c.Get(ctx, idClean)
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, idDirty, func(p *storage.AccountProfile) {
		p.Balance = decimal.NewFromInt(1)
	}))
	assert.Equal(t, 2, c.Len())

	clock = clock.Add(2 * time.Minute)
	c.sweep()

	// Both expired: the clean one is simply evicted, the dirty one is
	// written back first.
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, store.upserts)
	assert.True(t, store.profiles[idDirty].Balance.Equal(decimal.NewFromInt(1)))
}

func TestProfileCache_SweepKeepsDirtyOnWriteFailure(t *testing.T) {
	store := newFakeStore()
	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, c.Update(ctx, id, func(p *storage.AccountProfile) {
		p.Balance = decimal.NewFromInt(3)
	}))

	clock = clock.Add(2 * time.Minute)
	store.failNext = errors.New("db down")
	c.sweep()
	assert.Equal(t, 1, c.Len(), "unflushed mutation must not be evicted")

	c.sweep()
	assert.Equal(t, 0, c.Len())
	assert.True(t, store.profiles[id].Balance.Equal(decimal.NewFromInt(3)))
}

func TestProfileCache_StopFlushesDirty(t *testing.T) {
	store := newFakeStore()
	c := NewProfileCache(store, testCacheConfig(), zap.NewNop())

	require.NoError(t, c.Start())
	require.NoError(t, c.Update(context.Background(), uuid.New(), func(p *storage.AccountProfile) {
		p.Balance = decimal.NewFromInt(9)
	}))

	require.NoError(t, c.Stop())
	assert.Equal(t, 1, store.upserts)

	assert.Error(t, c.Stop(), "double stop must be rejected")
}
