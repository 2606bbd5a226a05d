package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ellanlabs/ecobridge/internal/engine"
)

const (
	// historyLimit caps one sales-history read so a hot product cannot
	// drag the whole table through memory.
	historyLimit = 5000

	upsertAttempts = 3
	upsertBackoff  = 100 * time.Millisecond
)

// DAO wraps the persistence queries used by the pricing and transfer
// pipelines.
type DAO struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDAO creates a data access object over an open database.
func NewDAO(db *gorm.DB, logger *zap.Logger) *DAO {
	return &DAO{
		db:     db,
		logger: logger.With(zap.String("component", "dao")),
	}
}

// DB exposes the underlying handle for transactional callers.
func (d *DAO) DB() *gorm.DB {
	return d.db
}

// RecordSale persists one settled trade.
func (d *DAO) RecordSale(ctx context.Context, rec *SaleRecord) error {
	if err := d.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	return nil
}

// SalesSince loads the trade history for a product at or after sinceMs,
// newest first, capped at the history limit.
func (d *DAO) SalesSince(ctx context.Context, productID string, sinceMs int64) ([]engine.VolumeRecord, error) {
	var rows []SaleRecord
	err := d.db.WithContext(ctx).
		Where("product_id = ? AND timestamp >= ?", productID, sinceMs).
		Order("timestamp DESC").
		Limit(historyLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales history: %w", err)
	}

	history := make([]engine.VolumeRecord, len(rows))
	for i, r := range rows {
		history[i] = engine.VolumeRecord{Timestamp: r.Timestamp, Amount: r.Amount}
	}
	return history, nil
}

// SevenDayAverage returns the mean absolute trade volume for the product
// over the trailing seven days. Zero means no baseline exists yet.
func (d *DAO) SevenDayAverage(ctx context.Context, productID string) (float64, error) {
	since := time.Now().Add(-7 * 24 * time.Hour).UnixMilli()

	var avg *float64
	err := d.db.WithContext(ctx).
		Model(&SaleRecord{}).
		Select("AVG(ABS(amount))").
		Where("product_id = ? AND timestamp >= ?", productID, since).
		Scan(&avg).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute seven-day average: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// SoldToday sums the actor's positive (sell) volume for the product since
// UTC midnight; the quota endpoints read it.
func (d *DAO) SoldToday(ctx context.Context, actorID uuid.UUID, productID string) (float64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour).UnixMilli()

	var total *float64
	err := d.db.WithContext(ctx).
		Model(&SaleRecord{}).
		Select("SUM(amount)").
		Where("actor_id = ? AND product_id = ? AND amount > 0 AND timestamp >= ?",
			actorID, productID, midnight).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily sales: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// GetProfile loads an account profile. The second return is false when
// the account has never been seen.
func (d *DAO) GetProfile(ctx context.Context, accountID uuid.UUID) (*AccountProfile, bool, error) {
	var profile AccountProfile
	err := d.db.WithContext(ctx).First(&profile, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, true, nil
}

// UpsertProfile writes a profile, retrying transient failures with a
// linear backoff before giving up.
func (d *DAO) UpsertProfile(ctx context.Context, profile *AccountProfile) error {
	profile.UpdatedAt = time.Now()
	if profile.FirstSeenAt.IsZero() {
		profile.FirstSeenAt = profile.UpdatedAt
	}

	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		err := d.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}},
				UpdateAll: true,
			}).
			Create(profile).Error
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("Profile upsert failed, retrying",
			zap.String("account_id", profile.AccountID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * upsertBackoff):
		}
	}
	return fmt.Errorf("failed to upsert profile after %d attempts: %w", upsertAttempts, lastErr)
}
