// Package cache keeps hot account profiles in memory in front of the
// database, writing dirty entries back on eviction and shutdown.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

const cacheName = "profiles"

// ProfileStore is the persistence the cache reads through to.
type ProfileStore interface {
	GetProfile(ctx context.Context, accountID uuid.UUID) (*storage.AccountProfile, bool, error)
	UpsertProfile(ctx context.Context, profile *storage.AccountProfile) error
}

type entry struct {
	profile   *storage.AccountProfile
	expiresAt time.Time
	dirty     bool
}

// ProfileCache is a TTL cache over account profiles. Reads slide the TTL
// so active accounts stay resident; mutations go through Update so the
// janitor knows what to write back.
type ProfileCache struct {
	logger *zap.Logger
	store  ProfileStore

	ttl             time.Duration
	janitorInterval time.Duration

	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	now       func() time.Time
}

// NewProfileCache creates the cache with the configured TTL and janitor
// cadence.
func NewProfileCache(store ProfileStore, cfg config.CacheConfig, logger *zap.Logger) *ProfileCache {
	ttl := cfg.ProfileTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	janitor := cfg.JanitorInterval
	if janitor <= 0 {
		janitor = time.Minute
	}

	return &ProfileCache{
		logger:          logger.With(zap.String("component", "profile_cache")),
		store:           store,
		ttl:             ttl,
		janitorInterval: janitor,
		entries:         make(map[uuid.UUID]*entry),
		now:             time.Now,
	}
}

// Start launches the janitor loop.
func (c *ProfileCache) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("profile cache is already running")
	}
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	c.isRunning = true

	go c.janitorLoop()
	return nil
}

// Stop halts the janitor and writes every dirty entry back.
func (c *ProfileCache) Stop() error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("profile cache is not running")
	}
	c.isRunning = false
	close(c.stopChan)
	done := c.done
	c.mu.Unlock()

	<-done

	flushed := c.FlushDirty(context.Background())
	c.logger.Info("Profile cache stopped", zap.Int("flushed", flushed))
	return nil
}

// Get returns a copy of the account profile, loading it from the store
// on a miss. Accounts never seen before come back as zeroed profiles.
func (c *ProfileCache) Get(ctx context.Context, accountID uuid.UUID) (storage.AccountProfile, error) {
	c.mu.Lock()
	if e, ok := c.entries[accountID]; ok && c.now().Before(e.expiresAt) {
		e.expiresAt = c.now().Add(c.ttl)
		profile := *e.profile
		c.mu.Unlock()
		metrics.CacheHits.WithLabelValues(cacheName).Inc()
		return profile, nil
	}
	c.mu.Unlock()
	metrics.CacheMisses.WithLabelValues(cacheName).Inc()

	loaded, found, err := c.store.GetProfile(ctx, accountID)
	if err != nil {
		return storage.AccountProfile{}, err
	}
	if !found {
		loaded = &storage.AccountProfile{
			AccountID: accountID,
			Balance:   decimal.Zero,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced the load; keep whichever entry is
	// already cached so its pending mutations are not lost.
	if e, ok := c.entries[accountID]; ok {
		e.expiresAt = c.now().Add(c.ttl)
		return *e.profile, nil
	}
	c.entries[accountID] = &entry{profile: loaded, expiresAt: c.now().Add(c.ttl)}
	return *loaded, nil
}

// Update applies fn to the cached profile under the cache lock and marks
// it dirty for write-back. The profile is loaded first when absent.
func (c *ProfileCache) Update(ctx context.Context, accountID uuid.UUID, fn func(*storage.AccountProfile)) error {
	if _, err := c.Get(ctx, accountID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountID]
	if !ok {
		// Evicted between Get and lock; reinsert a fresh entry.
		e = &entry{profile: &storage.AccountProfile{AccountID: accountID, Balance: decimal.Zero}}
		c.entries[accountID] = e
	}
	fn(e.profile)
	e.dirty = true
	e.expiresAt = c.now().Add(c.ttl)
	return nil
}

// FlushDirty writes every dirty entry back to the store and returns how
// many were flushed. Entries that fail to flush stay dirty.
func (c *ProfileCache) FlushDirty(ctx context.Context) int {
	c.mu.Lock()
	dirty := make([]*entry, 0)
	for _, e := range c.entries {
		if e.dirty {
			dirty = append(dirty, e)
		}
	}
	c.mu.Unlock()

	flushed := 0
	for _, e := range dirty {
		c.mu.Lock()
		profile := *e.profile
		c.mu.Unlock()

		if err := c.store.UpsertProfile(ctx, &profile); err != nil {
			c.logger.Error("Failed to write back profile",
				zap.String("account_id", profile.AccountID.String()),
				zap.Error(err))
			continue
		}
		c.mu.Lock()
		e.dirty = false
		c.mu.Unlock()
		flushed++
	}
	return flushed
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ProfileCache) janitorLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

// sweep evicts expired entries, writing dirty ones back first. A dirty
// entry whose write-back fails stays cached for the next sweep.
func (c *ProfileCache) sweep() {
	ctx := context.Background()

	c.mu.Lock()
	now := c.now()
	expired := make([]*entry, 0)
	for _, e := range c.entries {
		if e.dirty && now.After(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.mu.Lock()
		profile := *e.profile
		c.mu.Unlock()

		if err := c.store.UpsertProfile(ctx, &profile); err != nil {
			c.logger.Error("Failed to write back expiring profile",
				zap.String("account_id", profile.AccountID.String()),
				zap.Error(err))
			continue
		}
		c.mu.Lock()
		e.dirty = false
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now = c.now()
	for id, e := range c.entries {
		if !e.dirty && now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
}
