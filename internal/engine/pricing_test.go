package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBehavioralPrice_LossAversionAsymmetry(t *testing.T) {
	base := 100.0
	lambda := 0.01

	// Same volume: the sell-side drop must be gentler than the buy-side
	// rise, so prices are sticky on the way down.
	pSell := PredictPrice(base, 0.0, 10.0, lambda, 1.0)
	pBuy := PredictPrice(base, 0.0, -10.0, lambda, 1.0)

	drop := base - pSell
	rise := pBuy - base

	assert.Less(t, drop, rise)
	assert.Less(t, pSell, base)
	assert.Greater(t, pBuy, base)
}

func TestComputePrice_FloorProtection(t *testing.T) {
	// Exponent saturates through tanh, but an extreme dump still lands on
	// the floor instead of zero.
	price := ComputePrice(100.0, 100.0, 1.0, 1.0)
	assert.Equal(t, 0.01, price)
}

func TestComputePrice_SoftClampLimitsCollapse(t *testing.T) {
	// tanh caps the effective exponent at ±10 no matter the volume.
	extreme := ComputePrice(1e6, 1e9, 1.0, 1.0)
	moderate := ComputePrice(1e6, 1e3, 1.0, 1.0)

	floor := 1e6 * math.Exp(-10.0)
	assert.GreaterOrEqual(t, extreme, floor*0.99)
	assert.LessOrEqual(t, extreme, moderate)
}

func TestComputePrice_NonFiniteInputs(t *testing.T) {
	assert.Equal(t, 0.01, ComputePrice(math.NaN(), 0, 0.1, 1.0))
	assert.Equal(t, 0.01, ComputePrice(100, math.Inf(1), 0.1, 1.0))
	assert.Equal(t, 0.01, ComputePrice(100, 0, math.NaN(), 1.0))
	assert.Equal(t, 0.01, ComputePrice(100, 0, 0.1, math.Inf(-1)))
}

func TestComputePrice_ZeroVolumeIsBase(t *testing.T) {
	price := ComputePrice(42.0, 0.0, 0.1, 1.0)
	assert.InDelta(t, 42.0, price, 1e-9)
}

func TestPredictPrice_TradeImpactDirection(t *testing.T) {
	static := ComputePrice(50.0, 100.0, 0.05, 1.0)

	afterSell := PredictPrice(50.0, 100.0, 20.0, 0.05, 1.0)
	afterBuy := PredictPrice(50.0, 100.0, -20.0, 0.05, 1.0)

	assert.Less(t, afterSell, static)
	assert.Greater(t, afterBuy, static)
}
