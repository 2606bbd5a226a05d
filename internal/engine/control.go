package engine

import (
	"math"
	"sync"
)

// PID controller constants.
const (
	defaultIntegrationLimit = 30.0
	maxSafeDT               = 1.0
	minTimeStep             = 1e-6
	outputMinClamp          = 0.5
	outputMaxClamp          = 5.0
	outputBaseline          = 1.0
	integralDecay           = 0.99999
	backCalcGain            = 0.2
	derivativeFilterAlpha   = 0.3
)

// PIDController regulates market velocity toward a target rate. The output
// is a multiplier around 1.0 that the snapshot engine folds into lambda.
//
// The controller carries anti-windup back-calculation, a leaking integral
// and a low-pass filtered derivative; gains are scheduled up as inflation
// passes ~5% so the control loop bites harder exactly when the economy
// overheats.
type PIDController struct {
	mu sync.Mutex

	kp, ki, kd       float64
	lambda           float64 // integral leak rate, 0..1
	integral         float64
	prevPV           float64
	filteredD        float64
	integrationLimit float64
	saturated        bool
}

// NewPIDController returns a controller with kernel default gains.
func NewPIDController() *PIDController {
	p := &PIDController{}
	p.resetLocked()
	return p
}

func (p *PIDController) resetLocked() {
	p.kp, p.ki, p.kd = 0.5, 0.1, 0.05
	p.lambda = 0.01
	p.integral = 0.0
	p.prevPV = 0.0
	p.filteredD = 0.0
	p.integrationLimit = defaultIntegrationLimit
	p.saturated = false
}

// Reset restores the default gains and clears the accumulated state.
func (p *PIDController) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// Gains returns the proportional, integral and derivative gains.
func (p *PIDController) Gains() (kp, ki, kd float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kp, p.ki, p.kd
}

// Update advances the controller one step and returns the output
// multiplier, clamped to [0.5, 5.0]. Invalid inputs (NaN, Inf, negative
// dt) leave the state untouched and return the neutral baseline.
func (p *PIDController) Update(targetVel, currentVel, dt, inflation float64) float64 {
	if !isFinite(targetVel) || !isFinite(currentVel) ||
		!isFinite(dt) || dt < 0.0 || !isFinite(inflation) {
		return outputBaseline
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	errVal := targetVel - currentVel
	dtSafe := math.Min(math.Max(dt, 0.0), maxSafeDT)

	// Gain scheduling: gamma runs 1..2 as inflation crosses the 5% knee.
	scheduleGamma := 1.0 + 1.0/(1.0+math.Exp(-(inflation-0.05)*20.0))
	activeKp := p.kp * scheduleGamma
	activeKi := p.ki * scheduleGamma

	// Integral with leakage; back-calculation while saturated.
	leak := math.Min(math.Max(p.lambda, 0.0), 1.0)
	combinedLeakage := (1.0 - leak) * integralDecay

	if p.saturated {
		backCalc := errVal * backCalcGain
		p.integral = p.integral*combinedLeakage + backCalc*dtSafe
	} else {
		p.integral = p.integral*combinedLeakage + errVal*dtSafe
	}

	limit := p.integrationLimit
	if limit <= 0.0 {
		limit = defaultIntegrationLimit
	}
	if p.integral > limit {
		p.integral = limit
	} else if p.integral < -limit {
		p.integral = -limit
	}

	// Filtered derivative on the process variable.
	deltaPV := currentVel - p.prevPV
	rawDerivative := 0.0
	if dtSafe > minTimeStep {
		rawDerivative = deltaPV / dtSafe
	}
	p.filteredD = derivativeFilterAlpha*rawDerivative + (1.0-derivativeFilterAlpha)*p.filteredD
	p.prevPV = currentVel

	pTerm := activeKp * errVal
	iTerm := activeKi * p.integral
	dTerm := p.kd * p.filteredD

	rawOutput := outputBaseline + pTerm + iTerm - dTerm
	finalOutput := math.Min(math.Max(rawOutput, outputMinClamp), outputMaxClamp)

	p.saturated = math.Abs(rawOutput-finalOutput) > 1e-6

	if !isFinite(finalOutput) {
		return outputBaseline
	}
	return finalOutput
}
