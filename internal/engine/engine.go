// Package engine implements the pricing mathematics: behavioral price
// decay, market environment factors, effective-volume summation and the
// velocity PID controller. Everything here is pure computation; state and
// IO live with the callers.
package engine

import "math"

// floorPrice is the hard minimum any computed price can reach.
const floorPrice = 0.01

// TradeContext carries the per-quote inputs for a price computation.
type TradeContext struct {
	BasePrice      float64
	TradeAmount    float64 // >0 sell pressure, <0 buy pressure
	InflationRate  float64
	Timestamp      int64 // unix milliseconds, UTC
	PlaySeconds    int64
	TimezoneOffset int // seconds east of UTC, aligns waves to local time
	Newbie         bool
	Holiday        bool
	MarketHeat     float64
	Saturation     float64 // 0.0-1.0
}

// MarketConfig tunes the environment factor and price sensitivity.
type MarketConfig struct {
	BaseLambda           float64
	VolatilityFactor     float64
	SeasonalAmplitude    float64
	WeekendMultiplier    float64
	NewbieProtectionRate float64
	SeasonalWeight       float64
	WeekendWeight        float64
	NewbieWeight         float64
	InflationWeight      float64
}

// DefaultMarketConfig returns the kernel defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		BaseLambda:           0.1,
		VolatilityFactor:     1.0,
		SeasonalAmplitude:    0.15,
		WeekendMultiplier:    1.2,
		NewbieProtectionRate: 0.2,
		SeasonalWeight:       0.25,
		WeekendWeight:        0.25,
		NewbieWeight:         0.25,
		InflationWeight:      0.25,
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
