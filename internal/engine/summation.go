package engine

import "math"

const (
	msPerDay           = 86_400_000.0
	maxFutureTolerance = 60_000 // ms of clock skew tolerated before a record is dropped
)

// VolumeRecord is one historical trade contribution.
type VolumeRecord struct {
	Timestamp int64 // unix milliseconds
	Amount    float64
}

// EffectiveVolume folds trade history into the decayed volume sum
// Σ amount·exp(-Δt/τ·day). Records from the future (beyond a small skew
// tolerance) and records older than ten decay constants are discarded.
//
// The exponentials are computed relative to the oldest valid record so
// large absolute timestamps cannot overflow the intermediate terms.
func EffectiveVolume(history []VolumeRecord, now int64, tau float64) float64 {
	if len(history) == 0 || tau <= 0.0 {
		return 0.0
	}

	lambda := 1.0 / (tau * msPerDay)
	validFutureLimit := now + maxFutureTolerance
	validPastLimit := now - int64(tau*msPerDay*10.0)

	tMin := now
	found := false
	for _, r := range history {
		if r.Timestamp > validFutureLimit || r.Timestamp < validPastLimit {
			continue
		}
		if !found || r.Timestamp < tMin {
			tMin = r.Timestamp
			found = true
		}
	}

	baseMultiplier := math.Exp(-float64(now-tMin) * lambda)

	var sumPartial float64
	for _, r := range history {
		if r.Timestamp > validFutureLimit || r.Timestamp < validPastLimit {
			continue
		}
		dtRel := float64(r.Timestamp - tMin)
		sumPartial += r.Amount * math.Exp(dtRel*lambda)
	}

	result := sumPartial * baseMultiplier
	if !isFinite(result) {
		return 0.0
	}
	return result
}
