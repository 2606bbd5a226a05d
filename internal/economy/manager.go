// Package economy maintains the macroeconomic state: circulation heat,
// inflation, stability and the per-product market phase machine.
package economy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// Inflation clamp bounds. Deflation is capped harder than inflation so a
// cold market cannot talk prices into the floor.
const (
	maxInflation = 0.45
	minInflation = -0.15
)

// inflationRate derives the inflation rate from accumulated heat against
// the M1 money supply. A degenerate supply reads as a neutral market.
func inflationRate(heat, m1 float64) float64 {
	if m1 <= 1.0 {
		return 0.0
	}
	rate := heat / m1
	if rate > maxInflation {
		return maxInflation
	}
	if rate < minInflation {
		return minInflation
	}
	return rate
}

// stabilityFactor measures recovery since the last volatility spike as a
// linear ramp over the recovery window. lastVolatileMs == 0 means the
// market has never been volatile.
func stabilityFactor(lastVolatileMs, nowMs, windowMs int64) float64 {
	if lastVolatileMs == 0 {
		return 1.0
	}
	if windowMs <= 0 {
		return 1.0
	}
	elapsed := nowMs - lastVolatileMs
	if elapsed <= 0 {
		return 0.0
	}
	s := float64(elapsed) / float64(windowMs)
	if s > 1.0 {
		return 1.0
	}
	return s
}

// decayAmount returns the signed heat to shed this cycle. Residual heat
// below one unit is flushed entirely so the accumulator settles at zero
// instead of decaying asymptotically forever.
func decayAmount(heat, dailyRate, cyclesPerDay float64) float64 {
	if heat == 0 {
		return 0
	}
	if heat < 1.0 && heat > -1.0 {
		return heat
	}
	if cyclesPerDay <= 0 {
		return 0
	}
	return heat * dailyRate / cyclesPerDay
}

// Manager owns the macro accumulators and runs the periodic heat decay.
type Manager struct {
	logger *zap.Logger
	cfg    config.EconomyConfig

	mu             sync.Mutex
	heat           float64
	lastVolatileAt int64 // unix ms, 0 = never

	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	now       func() time.Time
}

// NewManager creates a macro economy manager with zero accumulated heat.
func NewManager(cfg config.EconomyConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger.With(zap.String("component", "economy")),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start launches the periodic decay loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("economy manager is already running")
	}
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	m.isRunning = true

	go m.decayLoop()

	m.logger.Info("Economy manager started",
		zap.Float64("m1_supply", m.cfg.M1Supply),
		zap.Duration("decay_interval", m.cfg.DecayInterval))
	return nil
}

// Stop halts the decay loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("economy manager is not running")
	}
	m.isRunning = false
	close(m.stopChan)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Economy manager stopped")
	return nil
}

// RecordTradeVolume folds a signed trade amount into the heat
// accumulator. Sells contribute positive heat, buys negative. A single
// trade at or above the volatility threshold marks the market volatile.
func (m *Manager) RecordTradeVolume(amount float64) {
	m.mu.Lock()
	m.heat += amount
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if abs >= m.cfg.VolatilityThreshold {
		m.lastVolatileAt = m.now().UnixMilli()
		m.logger.Warn("Volatile trade recorded",
			zap.Float64("amount", amount),
			zap.Float64("heat", m.heat))
	}
	heat := m.heat
	last := m.lastVolatileAt
	m.mu.Unlock()

	m.publishGauges(heat, last)
}

// InflationRate returns the current clamped inflation rate.
func (m *Manager) InflationRate() float64 {
	m.mu.Lock()
	heat := m.heat
	m.mu.Unlock()
	return inflationRate(heat, m.cfg.M1Supply)
}

// StabilityFactor returns the current stability in [0, 1]; 1.0 means
// fully recovered (or never volatile).
func (m *Manager) StabilityFactor() float64 {
	m.mu.Lock()
	last := m.lastVolatileAt
	m.mu.Unlock()
	return stabilityFactor(last, m.now().UnixMilli(), m.cfg.StabilityWindow.Milliseconds())
}

// MarketHeat returns the raw accumulated heat.
func (m *Manager) MarketHeat() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heat
}

func (m *Manager) decayLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.decayCycle()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) decayCycle() {
	m.mu.Lock()
	shed := decayAmount(m.heat, m.cfg.DailyDecayRate, m.cfg.DecayCyclesPerDay)
	m.heat -= shed
	heat := m.heat
	last := m.lastVolatileAt
	m.mu.Unlock()

	if shed != 0 {
		m.logger.Debug("Heat decayed",
			zap.Float64("shed", shed),
			zap.Float64("heat", heat))
	}
	m.publishGauges(heat, last)
}

func (m *Manager) publishGauges(heat float64, lastVolatileMs int64) {
	metrics.MarketHeat.Set(heat)
	metrics.InflationRate.Set(inflationRate(heat, m.cfg.M1Supply))
	metrics.StabilityFactor.Set(stabilityFactor(
		lastVolatileMs, m.now().UnixMilli(), m.cfg.StabilityWindow.Milliseconds()))
}
