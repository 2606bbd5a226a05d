package engine

import "math"

// sellStickiness damps sensitivity on the sell side. Price drops are
// made sticky while recoveries keep full speed (loss aversion).
const sellStickiness = 0.6

// behavioralPrice is the core quote formula. tradeAmount is the impact of
// the trade being priced: positive grows supply (sell), negative grows
// demand (buy). The exponent is soft-clamped through tanh so a massive
// industrial dump cannot collapse a price to zero in one step.
func behavioralPrice(basePrice, neff, tradeAmount, lambda, epsilon float64) float64 {
	if !isFinite(basePrice) || !isFinite(neff) || !isFinite(lambda) || !isFinite(epsilon) {
		return floorPrice
	}

	adjLambda := lambda
	if tradeAmount > 0 {
		adjLambda = lambda * sellStickiness
	}

	totalN := neff + tradeAmount

	rawExponent := -adjLambda * totalN
	if rawExponent > 100.0 {
		rawExponent = 100.0
	} else if rawExponent < -100.0 {
		rawExponent = -100.0
	}
	clampedExponent := 10.0 * math.Tanh(rawExponent/10.0)

	finalPrice := basePrice * epsilon * math.Exp(clampedExponent)
	return math.Max(finalPrice, floorPrice)
}

// ComputePrice returns the static quote for the current market state,
// with no trade impact applied.
func ComputePrice(basePrice, neff, lambda, epsilon float64) float64 {
	return behavioralPrice(basePrice, neff, 0.0, lambda, epsilon)
}

// PredictPrice quotes a price including the impact of a pending trade.
func PredictPrice(basePrice, neff, tradeAmount, lambda, epsilon float64) float64 {
	return behavioralPrice(basePrice, neff, tradeAmount, lambda, epsilon)
}
