package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func msAt(year int, month time.Month, day, hour int) int64 {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC).UnixMilli()
}

func TestEpsilon_Clamped(t *testing.T) {
	ts := msAt(2026, 3, 11, 12)

	high := DefaultMarketConfig()
	high.InflationWeight = 100
	assert.Equal(t, 10.0, Epsilon(TradeContext{Timestamp: ts, InflationRate: 0.45}, high))

	low := DefaultMarketConfig()
	low.NewbieWeight = 100
	assert.Equal(t, 0.1, Epsilon(TradeContext{Timestamp: ts, Newbie: true}, low))
}

func TestEpsilon_HolidayRaisesByBoostWeight(t *testing.T) {
	cfg := DefaultMarketConfig()
	ts := msAt(2026, 3, 11, 12)

	plain := Epsilon(TradeContext{Timestamp: ts}, cfg)
	festive := Epsilon(TradeContext{Timestamp: ts, Holiday: true}, cfg)

	assert.Greater(t, festive, plain)
	// The boost enters through the log blend, so the ratio is exactly the
	// boost raised to the seasonal weight.
	assert.InDelta(t, math.Pow(HolidayBoost, cfg.SeasonalWeight), festive/plain, 1e-9)
}

func TestEpsilon_NewbieProtectionDamps(t *testing.T) {
	cfg := DefaultMarketConfig()
	ts := msAt(2026, 3, 11, 12)

	veteran := Epsilon(TradeContext{Timestamp: ts}, cfg)
	newbie := Epsilon(TradeContext{Timestamp: ts, Newbie: true}, cfg)

	assert.Less(t, newbie, veteran)
	assert.InDelta(t, math.Pow(1.0-cfg.NewbieProtectionRate, cfg.NewbieWeight), newbie/veteran, 1e-9)
}

func TestEpsilon_WeekendMultiplier(t *testing.T) {
	cfg := MarketConfig{WeekendMultiplier: 1.2, WeekendWeight: 1.0}

	// 2026-03-10 is a Tuesday, 2026-03-13 a Friday, 2026-03-14 a Saturday.
	assert.InDelta(t, 1.0, Epsilon(TradeContext{Timestamp: msAt(2026, 3, 10, 12)}, cfg), 1e-9)
	assert.InDelta(t, 1.2, Epsilon(TradeContext{Timestamp: msAt(2026, 3, 13, 12)}, cfg), 1e-9)
	assert.InDelta(t, 1.2, Epsilon(TradeContext{Timestamp: msAt(2026, 3, 14, 12)}, cfg), 1e-9)
}

func TestEpsilon_TimezoneShiftsWeekend(t *testing.T) {
	cfg := MarketConfig{WeekendMultiplier: 1.2, WeekendWeight: 1.0}

	// Late Saturday in UTC is already Sunday two hours east, so the offset
	// decides whether the weekend rate applies.
	ts := msAt(2026, 3, 14, 23)
	assert.InDelta(t, 1.2, Epsilon(TradeContext{Timestamp: ts}, cfg), 1e-9)
	assert.InDelta(t, 1.0, Epsilon(TradeContext{Timestamp: ts, TimezoneOffset: 7200}, cfg), 1e-9)
}

func TestEpsilon_InflationFeedbackKnee(t *testing.T) {
	cfg := MarketConfig{InflationWeight: 1.0}
	ts := msAt(2026, 3, 11, 12)

	calm := Epsilon(TradeContext{Timestamp: ts, InflationRate: 0.02}, cfg)
	hot := Epsilon(TradeContext{Timestamp: ts, InflationRate: 0.30}, cfg)

	// Below the 5% knee the sigmoid keeps the feedback negligible.
	assert.InDelta(t, 1.0, calm, 0.01)
	assert.Greater(t, hot, 1.05)
}
