// Package storage persists sales history, account profiles and the
// economy audit log, and runs the async batch writer that keeps audit
// persistence off the trade path.
package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleRecord is one settled trade contribution. Amount is the signed
// effective volume: sells positive, buys negative.
type SaleRecord struct {
	ID        uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID string     `json:"product_id" gorm:"type:varchar(64);index:idx_sales_product_ts;not null"`
	Amount    float64    `json:"amount" gorm:"not null"`
	ServerID  string     `json:"server_id" gorm:"type:varchar(64)"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty" gorm:"type:uuid;index"`
	Timestamp int64      `json:"timestamp" gorm:"index:idx_sales_product_ts;not null"` // unix ms
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the sales table name.
func (SaleRecord) TableName() string {
	return "sale_records"
}

// AccountProfile is the persisted per-account economic state.
type AccountProfile struct {
	AccountID     uuid.UUID       `json:"account_id" gorm:"primaryKey;type:uuid"`
	Balance       decimal.Decimal `json:"balance" gorm:"type:decimal(20,8);default:0;not null"`
	PlaySeconds   int64           `json:"play_seconds" gorm:"default:0;not null"`
	ActivityScore float64         `json:"activity_score" gorm:"default:0;not null"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName returns the profiles table name.
func (AccountProfile) TableName() string {
	return "account_profiles"
}

// EconomyLog is one audit row written by the async logger.
type EconomyLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID string    `json:"account_id" gorm:"type:varchar(64);index"`
	ProductID string    `json:"product_id" gorm:"type:varchar(64);index"`
	Action    string    `json:"action" gorm:"type:varchar(32);index;not null"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Detail    string    `json:"detail" gorm:"type:text"`
	Timestamp int64     `json:"timestamp" gorm:"index;not null"` // unix ms
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the audit table name.
func (EconomyLog) TableName() string {
	return "economy_logs"
}
