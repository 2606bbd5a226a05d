package transfer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/collector"
	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// transferProduct is the pseudo product id settled transfers publish
// under. No catalog carries it, so peer pricing managers drop the
// packet; the volume still shows on the trade channel.
const transferProduct = "SYSTEM_TRANSFER"

// ProfileStore is the balance layer the manager settles against.
type ProfileStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (storage.AccountProfile, error)
	Update(ctx context.Context, accountID uuid.UUID, fn func(*storage.AccountProfile)) error
}

// SessionSource reports live play time, which may run ahead of the
// persisted profile.
type SessionSource interface {
	PlaySeconds(accountID uuid.UUID) (int64, bool)
}

// MacroSource feeds the inflation-scaled parts of the ruling and takes
// back the settled volume as heat.
type MacroSource interface {
	InflationRate() float64
	RecordTradeVolume(amount float64)
}

// TradePublisher announces settled transfers to the other servers.
type TradePublisher interface {
	Publish(productID string, amount float64)
}

// AuditSink receives the settlement audit rows.
type AuditSink interface {
	Enqueue(entry *storage.EconomyLog)
}

// Receipt is the caller-facing record of one transfer attempt, blocked
// or settled.
type Receipt struct {
	TransferID uuid.UUID `json:"transfer_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Amount     float64   `json:"amount"`
	Tax        float64   `json:"tax"`
	Net        float64   `json:"net"`
	Code       string    `json:"code"`
	Blocked    bool      `json:"blocked"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  int64     `json:"timestamp"` // unix ms
}

// Manager runs transfers through the regulator and settles the ones that
// pass. Taxes are burned, not redistributed; the burn is the economy's
// main money sink.
type Manager struct {
	logger    *zap.Logger
	profiles  ProfileStore
	sessions  SessionSource
	macro     MacroSource
	audit     AuditSink
	publisher TradePublisher

	cfg atomic.Pointer[config.TransferConfig]

	velMu  sync.Mutex
	recent map[uuid.UUID][]time.Time

	now func() time.Time
}

// NewManager wires the transfer manager. audit and publisher may be nil.
func NewManager(cfg *config.Config, profiles ProfileStore, sessions SessionSource, macro MacroSource, audit AuditSink, publisher TradePublisher, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:    logger.With(zap.String("component", "transfer_manager")),
		profiles:  profiles,
		sessions:  sessions,
		macro:     macro,
		audit:     audit,
		publisher: publisher,
		recent:    make(map[uuid.UUID][]time.Time),
		now:       time.Now,
	}
	tc := cfg.Transfer
	m.cfg.Store(&tc)
	return m
}

// UpdateTuning swaps in the transfer rules from a fresh config.
func (m *Manager) UpdateTuning(cfg *config.Config) {
	tc := cfg.Transfer
	m.cfg.Store(&tc)
	m.logger.Info("Transfer rules updated",
		zap.Float64("base_tax_rate", tc.BaseTaxRate),
		zap.Int("velocity_threshold", tc.VelocityThreshold))
}

// Transfer rules on and, if permitted, settles a payment. A blocked
// transfer is a domain outcome, not an error: the receipt carries the
// code and reason and no balance moves. Errors mean the settlement
// itself failed.
func (m *Manager) Transfer(ctx context.Context, senderID, receiverID uuid.UUID, amount float64) (*Receipt, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, fmt.Errorf("invalid transfer amount %v", amount)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("sender and receiver are the same account")
	}

	cfg := *m.cfg.Load()

	sender, err := m.profiles.Get(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender profile: %w", err)
	}
	receiver, err := m.profiles.Get(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver profile: %w", err)
	}

	verdict := Evaluate(Request{
		Amount:          amount,
		Inflation:       m.macro.InflationRate(),
		Sender:          m.party(&sender),
		Receiver:        m.party(&receiver),
		RecentTransfers: m.recentCount(senderID, cfg.VelocityWindow),
	}, cfg)
	metrics.TransfersAudited.WithLabelValues(verdict.Code.String()).Inc()

	nowMs := m.now().UnixMilli()
	receipt := &Receipt{
		TransferID: uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
		Code:       verdict.Code.String(),
		Blocked:    verdict.Blocked,
		Reason:     verdict.Reason,
		Timestamp:  nowMs,
	}

	if verdict.Blocked {
		m.logger.Warn("Transfer blocked",
			zap.String("sender_id", senderID.String()),
			zap.String("receiver_id", receiverID.String()),
			zap.Float64("amount", amount),
			zap.String("code", verdict.Code.String()),
			zap.String("reason", verdict.Reason))
		m.auditEntry(senderID, "TRANSFER_BLOCKED", amount,
			fmt.Sprintf("CODE:%s|TO:%s|REASON:%s", verdict.Code, receiverID, verdict.Reason), nowMs)
		return receipt, nil
	}

	amt := decimal.NewFromFloat(amount)
	tax := decimal.NewFromFloat(verdict.Tax)
	net := amt.Sub(tax)
	receipt.Tax = verdict.Tax
	receipt.Net = net.InexactFloat64()

	if err := m.profiles.Update(ctx, senderID, func(p *storage.AccountProfile) {
		p.Balance = p.Balance.Sub(amt)
	}); err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}
	if err := m.profiles.Update(ctx, receiverID, func(p *storage.AccountProfile) {
		p.Balance = p.Balance.Add(net)
	}); err != nil {
		if rbErr := m.profiles.Update(ctx, senderID, func(p *storage.AccountProfile) {
			p.Balance = p.Balance.Add(amt)
		}); rbErr != nil {
			m.logger.Error("Failed to refund sender after credit failure",
				zap.String("sender_id", senderID.String()),
				zap.Error(rbErr))
		}
		return nil, fmt.Errorf("failed to credit receiver: %w", err)
	}

	m.noteSettled(senderID)

	// Settled transfers count toward macro heat like any trade.
	m.macro.RecordTradeVolume(amount)

	if verdict.Code == CodeRiskWarning {
		m.logger.Warn("Transfer settled with risk warning",
			zap.String("sender_id", senderID.String()),
			zap.Float64("amount", amount),
			zap.String("reason", verdict.Reason))
	}
	score := collector.Score(m.tenureSeconds(&sender))
	m.auditEntry(senderID, "TRANSFER", amount,
		fmt.Sprintf("TAX:%.2f|SCORE:%.2f|NET:%.2f|CODE:%s|TO:%s", verdict.Tax, score, receipt.Net, verdict.Code, receiverID), nowMs)
	if m.publisher != nil {
		m.publisher.Publish(transferProduct, amount)
	}
	m.logger.Info("Transfer settled",
		zap.String("transfer_id", receipt.TransferID.String()),
		zap.String("sender_id", senderID.String()),
		zap.String("receiver_id", receiverID.String()),
		zap.Float64("amount", amount),
		zap.Float64("tax", verdict.Tax))
	return receipt, nil
}

// party builds the regulator's view of an account.
func (m *Manager) party(p *storage.AccountProfile) Party {
	return Party{
		Balance:   p.Balance.InexactFloat64(),
		PlayHours: float64(m.tenureSeconds(p)) / 3600.0,
	}
}

// tenureSeconds resolves an account's play time. Live session time wins
// over the persisted counter when it is ahead.
func (m *Manager) tenureSeconds(p *storage.AccountProfile) int64 {
	secs := p.PlaySeconds
	if live, online := m.sessions.PlaySeconds(p.AccountID); online && live > secs {
		secs = live
	}
	return secs
}

func (m *Manager) auditEntry(accountID uuid.UUID, action string, amount float64, detail string, nowMs int64) {
	if m.audit == nil {
		return
	}
	m.audit.Enqueue(&storage.EconomyLog{
		AccountID: accountID.String(),
		Action:    action,
		Amount:    amount,
		Detail:    detail,
		Timestamp: nowMs,
	})
}

// recentCount prunes the sender's velocity window and returns how many
// settled transfers remain inside it.
func (m *Manager) recentCount(id uuid.UUID, window time.Duration) int {
	m.velMu.Lock()
	defer m.velMu.Unlock()

	cutoff := m.now().Add(-window)
	entries := m.recent[id]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(m.recent, id)
	} else {
		m.recent[id] = kept
	}
	return len(kept)
}

func (m *Manager) noteSettled(id uuid.UUID) {
	m.velMu.Lock()
	m.recent[id] = append(m.recent[id], m.now())
	m.velMu.Unlock()
}
