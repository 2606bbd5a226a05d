package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const dayMs = int64(86_400_000)

func testNow() int64 {
	return time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC).UnixMilli()
}

func TestEffectiveVolume_FreshTradeCountsFully(t *testing.T) {
	now := testNow()
	got := EffectiveVolume([]VolumeRecord{{Timestamp: now, Amount: 100}}, now, 7.0)
	assert.InDelta(t, 100.0, got, 1e-9)
}

func TestEffectiveVolume_OneTauDecaysToEInverse(t *testing.T) {
	now := testNow()
	history := []VolumeRecord{{Timestamp: now - 7*dayMs, Amount: 100}}

	got := EffectiveVolume(history, now, 7.0)
	assert.InDelta(t, 100.0*math.Exp(-1.0), got, 1e-6)
}

func TestEffectiveVolume_BuysRelievePressure(t *testing.T) {
	now := testNow()
	history := []VolumeRecord{
		{Timestamp: now, Amount: 100},
		{Timestamp: now, Amount: -40},
	}

	got := EffectiveVolume(history, now, 7.0)
	assert.InDelta(t, 60.0, got, 1e-9)
}

func TestEffectiveVolume_FutureRecords(t *testing.T) {
	now := testNow()

	// Beyond the skew tolerance the record is discarded outright.
	beyond := []VolumeRecord{{Timestamp: now + 61_000, Amount: 100}}
	assert.Equal(t, 0.0, EffectiveVolume(beyond, now, 7.0))

	// Inside the tolerance it counts as roughly current.
	within := []VolumeRecord{{Timestamp: now + 59_000, Amount: 100}}
	assert.InDelta(t, 100.0, EffectiveVolume(within, now, 7.0), 0.1)
}

func TestEffectiveVolume_StaleRecordsDropped(t *testing.T) {
	now := testNow()

	// Ten decay constants is the horizon: at tau=7 a 71-day-old dump is
	// discarded entirely, not merely decayed.
	history := []VolumeRecord{
		{Timestamp: now - 71*dayMs, Amount: 1e6},
		{Timestamp: now, Amount: 50},
	}

	got := EffectiveVolume(history, now, 7.0)
	assert.InDelta(t, 50.0, got, 1e-6)
}

func TestEffectiveVolume_Degenerate(t *testing.T) {
	now := testNow()
	history := []VolumeRecord{{Timestamp: now, Amount: 100}}

	assert.Equal(t, 0.0, EffectiveVolume(nil, now, 7.0))
	assert.Equal(t, 0.0, EffectiveVolume(history, now, 0.0))
	assert.Equal(t, 0.0, EffectiveVolume(history, now, -1.0))
}

func TestEffectiveVolume_LargeTimestampsStayFinite(t *testing.T) {
	// Absolute epoch timestamps would overflow a naive exp(t/tau·day); the
	// relative formulation must still produce the exact decayed sum.
	now := testNow()
	history := []VolumeRecord{
		{Timestamp: now, Amount: 1000},
		{Timestamp: now - 30*dayMs, Amount: 1000},
		{Timestamp: now - 60*dayMs, Amount: 1000},
	}

	want := 1000.0 * (1.0 + math.Exp(-30.0/7.0) + math.Exp(-60.0/7.0))
	got := EffectiveVolume(history, now, 7.0)

	assert.False(t, math.IsInf(got, 0))
	assert.InDelta(t, want, got, 1e-6)
}
