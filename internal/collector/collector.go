// Package collector tracks live play sessions and derives the activity
// score that feeds newbie protection and transfer regulation.
package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fullActivitySeconds is the playtime at which the activity score
// saturates at 1.0 (twenty hours).
const fullActivitySeconds = 72_000.0

// Score maps accumulated play seconds onto the activity score in [0, 1].
func Score(playSeconds int64) float64 {
	if playSeconds <= 0 {
		return 0.0
	}
	s := float64(playSeconds) / fullActivitySeconds
	if s > 1.0 {
		return 1.0
	}
	return s
}

type session struct {
	baseSeconds int64
	joinedAt    time.Time
}

// Collector tracks online sessions. Persisted playtime is folded in at
// join so PlaySeconds always reflects the lifetime total.
type Collector struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	sessions map[uuid.UUID]session
	now      func() time.Time
}

// New creates an empty session collector.
func New(logger *zap.Logger) *Collector {
	return &Collector{
		logger:   logger.With(zap.String("component", "activity_collector")),
		sessions: make(map[uuid.UUID]session),
		now:      time.Now,
	}
}

// Join opens a session for the account, seeding it with the persisted
// play seconds. Rejoining replaces the previous session but keeps the
// larger of the two accumulated totals so a duplicate join cannot lose
// time.
func (c *Collector) Join(accountID uuid.UUID, storedSeconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := storedSeconds
	if prev, ok := c.sessions[accountID]; ok {
		if accrued := c.totalLocked(prev); accrued > base {
			base = accrued
		}
	}
	c.sessions[accountID] = session{baseSeconds: base, joinedAt: c.now()}

	c.logger.Debug("Session opened",
		zap.String("account_id", accountID.String()),
		zap.Int64("stored_seconds", storedSeconds))
}

// Leave closes the session and returns the lifetime play seconds to
// persist. The second return is false when no session was open.
func (c *Collector) Leave(accountID uuid.UUID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[accountID]
	if !ok {
		return 0, false
	}
	delete(c.sessions, accountID)
	return c.totalLocked(sess), true
}

// PlaySeconds returns the lifetime play seconds for an online account.
// The second return is false when the account has no open session.
func (c *Collector) PlaySeconds(accountID uuid.UUID) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess, ok := c.sessions[accountID]
	if !ok {
		return 0, false
	}
	return c.totalLocked(sess), true
}

// ActivityScore returns the activity score for an online account, or 0
// when the account has no open session.
func (c *Collector) ActivityScore(accountID uuid.UUID) float64 {
	seconds, _ := c.PlaySeconds(accountID)
	return Score(seconds)
}

// Online returns the number of open sessions.
func (c *Collector) Online() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Checkpoint folds the elapsed session time into each account's base and
// hands the running totals to persist, restarting the accumulation epoch.
// Used by the periodic flush so a crash loses at most one interval.
func (c *Collector) Checkpoint(persist func(accountID uuid.UUID, playSeconds int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, sess := range c.sessions {
		total := c.totalLocked(sess)
		c.sessions[id] = session{baseSeconds: total, joinedAt: now}
		if persist != nil {
			persist(id, total)
		}
	}
}

func (c *Collector) totalLocked(sess session) int64 {
	elapsed := int64(c.now().Sub(sess.joinedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return sess.baseSeconds + elapsed
}
