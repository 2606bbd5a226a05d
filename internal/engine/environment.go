package engine

import "math"

const (
	secondsPerDay   = 86400.0
	secondsPerWeek  = 604800.0
	secondsPerMonth = 2592000.0
)

// HolidayBoost is applied on top of the seasonal wave when a calendar
// holiday is active.
const HolidayBoost = 1.15

func steepSigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x*10.0))
}

// Epsilon computes the market environment factor: the log-weighted blend
// of seasonal, weekend, newbie-protection and inflation-feedback factors.
// The result is clamped to [0.1, 10.0].
//
// All time-of-day logic runs in the server's local clock: the timestamp is
// UTC milliseconds and TimezoneOffset shifts it so the day wave peaks at
// local noon and the weekend lands on the local Friday/Saturday.
func Epsilon(ctx TradeContext, cfg MarketConfig) float64 {
	tsSecLocal := float64(ctx.Timestamp)/1000.0 + float64(ctx.TimezoneOffset)

	safeLn := func(factor float64) float64 {
		return math.Log(math.Max(factor, 0.01))
	}

	// Seasonal wave: daily rhythm dominates, weekly and monthly cycles
	// modulate it.
	dayWave := math.Sin(tsSecLocal * 2.0 * math.Pi / secondsPerDay)
	weekWave := math.Sin(tsSecLocal * 2.0 * math.Pi / secondsPerWeek)
	monthWave := math.Sin(tsSecLocal * 2.0 * math.Pi / secondsPerMonth)

	seasonal := 0.6*dayWave + 0.3*weekWave + 0.1*monthWave
	fSea := 1.0 + cfg.SeasonalAmplitude*seasonal
	if ctx.Holiday {
		fSea *= HolidayBoost
	}

	// Weekend factor. The Unix epoch fell on a Thursday, so
	// (dayIndex+4) mod 7 yields 0=Sunday .. 4=Thursday, 5=Friday,
	// 6=Saturday; the floored-modulo keeps pre-epoch timestamps sane.
	dayIndex := int64(math.Floor(tsSecLocal / secondsPerDay))
	dayOfWeek := ((dayIndex+4)%7 + 7) % 7

	fWk := 1.0
	if dayOfWeek >= 5 {
		fWk = cfg.WeekendMultiplier
	}

	fNb := 1.0
	if ctx.Newbie {
		fNb = 1.0 - cfg.NewbieProtectionRate
	}

	// Inflation feedback only engages past ~5% inflation.
	sigmoidTrigger := steepSigmoid(ctx.InflationRate - 0.05)
	fInf := 1.0 + ctx.InflationRate*0.2*sigmoidTrigger

	logEps := cfg.SeasonalWeight*safeLn(fSea) +
		cfg.WeekendWeight*safeLn(fWk) +
		cfg.NewbieWeight*safeLn(fNb) +
		cfg.InflationWeight*safeLn(fInf)

	eps := math.Exp(logEps)
	if eps < 0.1 {
		return 0.1
	}
	if eps > 10.0 {
		return 10.0
	}
	return eps
}
