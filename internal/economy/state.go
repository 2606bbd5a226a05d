package economy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// Phase classifies a product market by its effective volume against the
// seven-day baseline.
type Phase string

const (
	PhaseStable    Phase = "STABLE"
	PhaseSaturated Phase = "SATURATED"
	PhaseEmergency Phase = "EMERGENCY"
	PhaseHealing   Phase = "HEALING"
)

// Phase entry/exit thresholds on the impact ratio (neff / 7d anchor).
// Exit thresholds sit below entry thresholds so the phase machine does
// not flap around a boundary.
const (
	emergencyEnter = 3.5
	saturatedEnter = 1.8
	healingEnter   = 1.5
	stableEnter    = 1.2
)

// anchorTTL bounds how long a cached seven-day baseline is trusted.
const anchorTTL = 5 * time.Minute

// LambdaModifier returns the price-sensitivity damping for the phase.
// Distressed markets damp lambda so dumping cannot crater the price.
func (p Phase) LambdaModifier() float64 {
	switch p {
	case PhaseEmergency:
		return 0.35
	case PhaseSaturated:
		return 0.60
	case PhaseHealing:
		return 0.85
	default:
		return 1.0
	}
}

// nextPhase applies the transition rules for one evaluation.
func nextPhase(old Phase, impact float64) Phase {
	switch {
	case impact > emergencyEnter:
		return PhaseEmergency
	case impact > saturatedEnter:
		return PhaseSaturated
	case old == PhaseEmergency && impact < healingEnter:
		return PhaseHealing
	case impact < stableEnter:
		return PhaseStable
	default:
		return old
	}
}

// VolumeAnchor supplies the seven-day mean absolute trade volume used as
// the phase baseline.
type VolumeAnchor interface {
	SevenDayAverage(ctx context.Context, productID string) (float64, error)
}

// PhaseHook is notified after a product changes phase.
type PhaseHook func(productID string, from, to Phase)

type anchorEntry struct {
	value     float64
	fetchedAt time.Time
}

// StateManager tracks the market phase per product.
type StateManager struct {
	logger  *zap.Logger
	anchors VolumeAnchor

	mu     sync.RWMutex
	phases map[string]Phase
	cache  map[string]anchorEntry
	hooks  []PhaseHook
	now    func() time.Time
}

// NewStateManager creates a phase tracker; every product starts stable.
func NewStateManager(anchors VolumeAnchor, logger *zap.Logger) *StateManager {
	return &StateManager{
		logger:  logger.With(zap.String("component", "market_state")),
		anchors: anchors,
		phases:  make(map[string]Phase),
		cache:   make(map[string]anchorEntry),
		now:     time.Now,
	}
}

// OnPhaseChange registers a hook fired after every phase transition.
// Hooks run on the evaluating goroutine and must not block.
func (s *StateManager) OnPhaseChange(hook PhaseHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// PhaseFor returns the current phase for a product.
func (s *StateManager) PhaseFor(productID string) Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.phases[productID]; ok {
		return p
	}
	return PhaseStable
}

// Phases returns a snapshot of all tracked product phases.
func (s *StateManager) Phases() map[string]Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Phase, len(s.phases))
	for k, v := range s.phases {
		out[k] = v
	}
	return out
}

// Evaluate reclassifies the product from its current effective volume and
// returns the (possibly new) phase. A product with no sales baseline
// reads as impact zero and stays stable.
func (s *StateManager) Evaluate(ctx context.Context, productID string, effectiveVolume float64) Phase {
	anchor := s.anchor(ctx, productID)

	impact := 0.0
	if anchor > 0 {
		impact = effectiveVolume / anchor
	}

	s.mu.Lock()
	old, ok := s.phases[productID]
	if !ok {
		old = PhaseStable
	}
	next := nextPhase(old, impact)
	s.phases[productID] = next
	hooks := s.hooks
	s.mu.Unlock()

	if next != old {
		s.logger.Warn("Market phase transition",
			zap.String("product_id", productID),
			zap.String("from", string(old)),
			zap.String("to", string(next)),
			zap.Float64("impact", impact))
		metrics.PhaseTransitions.WithLabelValues(string(next)).Inc()
		for _, hook := range hooks {
			hook(productID, old, next)
		}
	}
	return next
}

// anchor returns the cached seven-day baseline, refreshing it when the
// TTL lapses. On fetch failure a stale cached value is better than none.
func (s *StateManager) anchor(ctx context.Context, productID string) float64 {
	s.mu.RLock()
	entry, ok := s.cache[productID]
	s.mu.RUnlock()

	if ok && s.now().Sub(entry.fetchedAt) < anchorTTL {
		return entry.value
	}

	value, err := s.anchors.SevenDayAverage(ctx, productID)
	if err != nil {
		s.logger.Warn("Failed to refresh volume anchor",
			zap.String("product_id", productID),
			zap.Error(err))
		if ok {
			return entry.value
		}
		return 0
	}

	s.mu.Lock()
	s.cache[productID] = anchorEntry{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	return value
}
