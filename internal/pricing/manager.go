package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/economy"
	"github.com/ellanlabs/ecobridge/internal/engine"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// ErrUnknownProduct is returned for products outside the catalog.
var ErrUnknownProduct = errors.New("unknown product")

// Side labels the direction of a quote or trade from the actor's view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Quote is one product's published market price pair.
type Quote struct {
	ProductID       string        `json:"product_id"`
	Buy             float64       `json:"buy"`
	Sell            float64       `json:"sell"`
	Phase           economy.Phase `json:"phase"`
	EffectiveVolume float64       `json:"effective_volume"`
	UpdatedAt       int64         `json:"updated_at"` // unix ms
}

// SalesStore persists trades and serves the history the decay sum runs
// over.
type SalesStore interface {
	RecordSale(ctx context.Context, rec *storage.SaleRecord) error
	SalesSince(ctx context.Context, productID string, sinceMs int64) ([]engine.VolumeRecord, error)
}

// MacroSource exposes the macro economy readings.
type MacroSource interface {
	InflationRate() float64
	StabilityFactor() float64
	MarketHeat() float64
	RecordTradeVolume(amount float64)
}

// PhaseTracker classifies product markets.
type PhaseTracker interface {
	Evaluate(ctx context.Context, productID string, effectiveVolume float64) economy.Phase
	PhaseFor(productID string) economy.Phase
}

// SessionSource reports play time for online actors.
type SessionSource interface {
	PlaySeconds(accountID uuid.UUID) (int64, bool)
}

// HolidaySource answers holiday lookups.
type HolidaySource interface {
	IsHoliday(t time.Time) bool
}

// AuditSink receives audit rows; it must never block.
type AuditSink interface {
	Enqueue(entry *storage.EconomyLog)
}

// TradePublisher replicates local trades to the other servers.
type TradePublisher interface {
	Publish(productID string, amount float64)
}

// tuning bundles the hot-reloadable knobs so a reload swaps them in one
// atomic store.
type tuning struct {
	market      engine.MarketConfig
	tau         float64
	throttle    time.Duration
	optimalCap  float64
	hardCap     float64
	newbieHours float64
	targetVel   float64
}

func tuningFrom(cfg *config.Config) *tuning {
	return &tuning{
		market: engine.MarketConfig{
			BaseLambda:           cfg.Market.BaseLambda,
			VolatilityFactor:     cfg.Market.VolatilityFactor,
			SeasonalAmplitude:    cfg.Market.SeasonalAmplitude,
			WeekendMultiplier:    cfg.Market.WeekendMultiplier,
			NewbieProtectionRate: cfg.Market.NewbieProtectionRate,
			SeasonalWeight:       cfg.Market.SeasonalWeight,
			WeekendWeight:        cfg.Market.WeekendWeight,
			NewbieWeight:         cfg.Market.NewbieWeight,
			InflationWeight:      cfg.Market.InflationWeight,
		},
		tau:         cfg.Market.Tau,
		throttle:    cfg.Pricing.TradeThrottle,
		optimalCap:  cfg.Quota.OptimalDailyCap,
		hardCap:     cfg.Quota.HardDailyCap,
		newbieHours: cfg.Transfer.NewbieHours,
		targetVel:   cfg.Pricing.TargetVelocity,
	}
}

// Manager owns the product catalog and publishes the market snapshot the
// quote reads come from. All trade traffic funnels through it.
type Manager struct {
	logger     *zap.Logger
	dispatcher *Dispatcher
	sales      SalesStore
	macro      MacroSource
	phases     PhaseTracker
	pid        *engine.PIDController
	calendar   HolidaySource
	sessions   SessionSource
	audit      AuditSink
	publisher  TradePublisher

	serverID      string
	catalog       map[string]float64
	interval      time.Duration
	historyLimit  int
	historyReload time.Duration

	tun      atomic.Pointer[tuning]
	snapshot atomic.Pointer[map[string]Quote]
	pidBits  atomic.Uint64

	histMu          sync.Mutex
	history         map[string][]engine.VolumeRecord
	lastHistoryLoad time.Time

	throttleMu sync.Mutex
	lastTrade  map[uuid.UUID]time.Time

	tradeCount atomic.Int64

	mu        sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	now       func() time.Time
}

// NewManager wires the pricing manager. audit and publisher may be nil
// when those subsystems are disabled.
func NewManager(
	cfg *config.Config,
	dispatcher *Dispatcher,
	sales SalesStore,
	macro MacroSource,
	phases PhaseTracker,
	pid *engine.PIDController,
	calendar HolidaySource,
	sessions SessionSource,
	audit AuditSink,
	publisher TradePublisher,
	logger *zap.Logger,
) *Manager {
	catalog := make(map[string]float64, len(cfg.Pricing.Products))
	for id, base := range cfg.Pricing.Products {
		catalog[id] = base
	}

	interval := cfg.Pricing.SnapshotInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	historyLimit := cfg.Pricing.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 3000
	}
	historyReload := cfg.Pricing.HistoryReload
	if historyReload <= 0 {
		historyReload = 30 * time.Minute
	}

	m := &Manager{
		logger:        logger.With(zap.String("component", "pricing_manager")),
		dispatcher:    dispatcher,
		sales:         sales,
		macro:         macro,
		phases:        phases,
		pid:           pid,
		calendar:      calendar,
		sessions:      sessions,
		audit:         audit,
		publisher:     publisher,
		serverID:      cfg.ServerID,
		catalog:       catalog,
		interval:      interval,
		historyLimit:  historyLimit,
		historyReload: historyReload,
		history:       make(map[string][]engine.VolumeRecord),
		lastTrade:     make(map[uuid.UUID]time.Time),
		now:           time.Now,
	}
	m.tun.Store(tuningFrom(cfg))
	m.pidBits.Store(math.Float64bits(1.0))
	return m
}

// UpdateTuning swaps in the hot-reloadable knobs from a fresh config.
func (m *Manager) UpdateTuning(cfg *config.Config) {
	m.tun.Store(tuningFrom(cfg))
	m.logger.Info("Pricing tuning updated",
		zap.Float64("base_lambda", cfg.Market.BaseLambda),
		zap.Float64("tau", cfg.Market.Tau))
}

// Start seeds the history from storage and launches the snapshot loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("pricing manager is already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.loadHistory(ctx); err != nil {
		return fmt.Errorf("failed to seed price history: %w", err)
	}

	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	m.isRunning = true

	m.runSnapshot(context.Background())
	go m.snapshotLoop()

	m.logger.Info("Pricing manager started",
		zap.Int("products", len(m.catalog)),
		zap.Duration("interval", m.interval))
	return nil
}

// Stop halts the snapshot loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("pricing manager is not running")
	}
	m.isRunning = false
	close(m.stopChan)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Pricing manager stopped")
	return nil
}

// Products returns the catalog's product ids, sorted.
func (m *Manager) Products() []string {
	out := make([]string, 0, len(m.catalog))
	for id := range m.catalog {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// QuoteFor returns the product's published quote, computing one
// synchronously when the snapshot has not covered it yet.
func (m *Manager) QuoteFor(productID string) (Quote, error) {
	if snap := m.snapshot.Load(); snap != nil {
		if q, ok := (*snap)[productID]; ok {
			return q, nil
		}
	}

	base, ok := m.catalog[productID]
	if !ok {
		return Quote{}, ErrUnknownProduct
	}
	return m.computeQuote(context.Background(), productID, base, m.tun.Load(), m.pidOut()), nil
}

// QuoteBuy returns the unit price for buying the product.
func (m *Manager) QuoteBuy(productID string) (float64, error) {
	q, err := m.QuoteFor(productID)
	if err != nil {
		return 0, err
	}
	return q.Buy, nil
}

// QuoteSell returns the unit price paid when selling the product.
func (m *Manager) QuoteSell(productID string) (float64, error) {
	q, err := m.QuoteFor(productID)
	if err != nil {
		return 0, err
	}
	return q.Sell, nil
}

// PriceTransaction quotes one pending transaction as an adjustment event
// and runs it through the registered listeners. The event's base price
// is the personalized unit price including the trade's own impact; the
// final price is whatever survives the listener chain.
func (m *Manager) PriceTransaction(actor *uuid.UUID, shopID, productID string, side Side, qty float64) (*AdjustmentEvent, error) {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return nil, fmt.Errorf("invalid quantity %v", qty)
	}
	base, ok := m.catalog[productID]
	if !ok {
		return nil, ErrUnknownProduct
	}

	t := m.tun.Load()

	newbie := false
	if actor != nil {
		if secs, online := m.sessions.PlaySeconds(*actor); online {
			newbie = float64(secs)/3600.0 < t.newbieHours
		}
	}

	impact := qty
	if side == SideBuy {
		impact = -qty
	}

	neff := engine.EffectiveVolume(m.historyFor(productID), m.now().UnixMilli(), t.tau)
	lambda := t.market.BaseLambda * m.phases.PhaseFor(productID).LambdaModifier() * m.pidOut()
	eps := engine.Epsilon(m.environment(t, newbie), t.market)
	unit := engine.PredictPrice(base, neff, impact, lambda, eps)

	event := NewAdjustmentEvent(actor, shopID, productID, unit)
	m.dispatcher.Dispatch(event)
	return event, nil
}

// RecordTrade settles one local trade into the market: history, macro
// heat, persistence, audit and cross-server sync. Rapid repeat trades
// from the same actor inside the throttle window are dropped; the false
// return tells the caller nothing was recorded.
func (m *Manager) RecordTrade(ctx context.Context, actor *uuid.UUID, productID string, side Side, qty float64) (bool, error) {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return false, fmt.Errorf("invalid quantity %v", qty)
	}
	if _, ok := m.catalog[productID]; !ok {
		return false, ErrUnknownProduct
	}

	t := m.tun.Load()

	if actor != nil && t.throttle > 0 {
		m.throttleMu.Lock()
		last, seen := m.lastTrade[*actor]
		now := m.now()
		if seen && now.Sub(last) < t.throttle {
			m.throttleMu.Unlock()
			m.logger.Debug("Trade throttled",
				zap.String("actor_id", actor.String()),
				zap.String("product_id", productID))
			return false, nil
		}
		m.lastTrade[*actor] = now
		m.throttleMu.Unlock()
	}

	effective := qty
	if side == SideBuy {
		effective = -qty
	}
	nowMs := m.now().UnixMilli()

	m.appendHistory(productID, engine.VolumeRecord{Timestamp: nowMs, Amount: effective})
	m.macro.RecordTradeVolume(effective)
	m.tradeCount.Add(1)

	// Persistence failure must not unwind the in-memory market state;
	// the trade already happened.
	rec := &storage.SaleRecord{
		ProductID: productID,
		Amount:    effective,
		ServerID:  m.serverID,
		ActorID:   actor,
		Timestamp: nowMs,
	}
	if err := m.sales.RecordSale(ctx, rec); err != nil {
		m.logger.Error("Failed to persist trade",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	if qty >= t.hardCap {
		m.logger.Warn("Single trade at or above hard daily cap",
			zap.String("product_id", productID),
			zap.Float64("quantity", qty))
	} else if qty >= t.optimalCap {
		m.logger.Info("Large trade recorded",
			zap.String("product_id", productID),
			zap.Float64("quantity", qty))
	}

	if m.audit != nil {
		accountID := ""
		if actor != nil {
			accountID = actor.String()
		}
		price := 0.0
		if q, err := m.QuoteFor(productID); err == nil {
			if side == SideBuy {
				price = q.Buy
			} else {
				price = q.Sell
			}
		}
		m.audit.Enqueue(&storage.EconomyLog{
			AccountID: accountID,
			ProductID: productID,
			Action:    actionFor(side),
			Amount:    effective,
			Price:     price,
			Detail:    fmt.Sprintf("qty=%.2f server=%s", qty, m.serverID),
			Timestamp: nowMs,
		})
	}

	if m.publisher != nil {
		m.publisher.Publish(productID, effective)
	}
	return true, nil
}

// OnRemoteTrade folds a trade settled on another server into the local
// history. Remote volume moves prices but not this server's heat; every
// server already accounts its own.
func (m *Manager) OnRemoteTrade(productID string, amount float64, timestampMs int64) {
	if _, ok := m.catalog[productID]; !ok {
		m.logger.Debug("Ignoring remote trade for uncatalogued product",
			zap.String("product_id", productID))
		return
	}
	if timestampMs == 0 {
		timestampMs = m.now().UnixMilli()
	}
	m.appendHistory(productID, engine.VolumeRecord{Timestamp: timestampMs, Amount: amount})
	if m.audit != nil {
		m.audit.Enqueue(&storage.EconomyLog{
			ProductID: productID,
			Action:    "REMOTE_SYNC",
			Amount:    amount,
			Timestamp: timestampMs,
		})
	}
}

func actionFor(side Side) string {
	if side == SideBuy {
		return "BUY"
	}
	return "SELL"
}

func (m *Manager) pidOut() float64 {
	return math.Float64frombits(m.pidBits.Load())
}

func (m *Manager) snapshotLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runSnapshot(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

// runSnapshot recomputes every catalog quote and publishes the new map.
func (m *Manager) runSnapshot(ctx context.Context) {
	start := m.now()
	t := m.tun.Load()

	dt := m.interval.Seconds()
	velocity := float64(m.tradeCount.Swap(0)) / dt
	out := m.pid.Update(t.targetVel, velocity, dt, m.macro.InflationRate())
	m.pidBits.Store(math.Float64bits(out))

	m.maybeReloadHistory(ctx)

	next := make(map[string]Quote, len(m.catalog))
	for productID, base := range m.catalog {
		next[productID] = m.computeQuote(ctx, productID, base, t, out)
	}
	m.snapshot.Store(&next)

	metrics.SnapshotLatency.Observe(m.now().Sub(start).Seconds())
}

func (m *Manager) computeQuote(ctx context.Context, productID string, base float64, t *tuning, pidOut float64) Quote {
	nowMs := m.now().UnixMilli()

	neff := engine.EffectiveVolume(m.historyFor(productID), nowMs, t.tau)
	phase := m.phases.Evaluate(ctx, productID, neff)
	lambda := t.market.BaseLambda * phase.LambdaModifier() * pidOut
	eps := engine.Epsilon(m.environment(t, false), t.market)

	buy := engine.ComputePrice(base, neff, lambda, eps)
	sell := engine.PredictPrice(base, neff, 1.0, lambda, eps)
	metrics.PricesComputed.WithLabelValues(string(SideBuy)).Inc()
	metrics.PricesComputed.WithLabelValues(string(SideSell)).Inc()

	return Quote{
		ProductID:       productID,
		Buy:             buy,
		Sell:            sell,
		Phase:           phase,
		EffectiveVolume: neff,
		UpdatedAt:       nowMs,
	}
}

// environment assembles the market context for an epsilon computation.
func (m *Manager) environment(t *tuning, newbie bool) engine.TradeContext {
	now := m.now()
	_, offset := now.Zone()
	return engine.TradeContext{
		InflationRate:  m.macro.InflationRate(),
		Timestamp:      now.UnixMilli(),
		TimezoneOffset: offset,
		Newbie:         newbie,
		Holiday:        m.calendar.IsHoliday(now),
		MarketHeat:     m.macro.MarketHeat(),
		Saturation:     1.0 - m.macro.StabilityFactor(),
	}
}

// loadHistory seeds every product's ring from persisted sales, oldest
// first so ring truncation sheds the oldest records.
func (m *Manager) loadHistory(ctx context.Context) error {
	t := m.tun.Load()
	since := m.now().UnixMilli() - int64(t.tau*10.0*24.0*3600.0*1000.0)

	fresh := make(map[string][]engine.VolumeRecord, len(m.catalog))
	for productID := range m.catalog {
		rows, err := m.sales.SalesSince(ctx, productID, since)
		if err != nil {
			return err
		}
		// SalesSince returns newest first.
		hist := make([]engine.VolumeRecord, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			hist = append(hist, rows[i])
		}
		if len(hist) > m.historyLimit {
			hist = hist[len(hist)-m.historyLimit:]
		}
		fresh[productID] = hist
	}

	m.histMu.Lock()
	m.history = fresh
	m.lastHistoryLoad = m.now()
	m.histMu.Unlock()
	return nil
}

// maybeReloadHistory refreshes the rings from storage on the configured
// cadence, folding in trades persisted by other paths.
func (m *Manager) maybeReloadHistory(ctx context.Context) {
	m.histMu.Lock()
	stale := m.now().Sub(m.lastHistoryLoad) >= m.historyReload
	m.histMu.Unlock()
	if !stale {
		return
	}
	if err := m.loadHistory(ctx); err != nil {
		m.logger.Warn("Failed to reload price history, keeping in-memory rings", zap.Error(err))
		m.histMu.Lock()
		m.lastHistoryLoad = m.now()
		m.histMu.Unlock()
	}
}

func (m *Manager) appendHistory(productID string, rec engine.VolumeRecord) {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	hist := append(m.history[productID], rec)
	if len(hist) > m.historyLimit {
		hist = hist[len(hist)-m.historyLimit:]
	}
	m.history[productID] = hist
}

// historyFor returns a copy of the product's ring so callers can read it
// without holding the lock.
func (m *Manager) historyFor(productID string) []engine.VolumeRecord {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	hist := m.history[productID]
	out := make([]engine.VolumeRecord, len(hist))
	copy(out, hist)
	return out
}
