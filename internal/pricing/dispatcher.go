package pricing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// Listener receives a shared reference to the event and may adjust the
// price zero or more times. It should be fast and non-blocking.
// If it panics, the dispatcher recovers, logs and moves on: one broken
// adjuster must never starve the others or the final settlement.
type Listener func(*AdjustmentEvent)

type registration struct {
	name string
	fn   Listener
}

// Dispatcher broadcasts one price event to every registered adjuster, in
// registration order. Ordering is a deployment policy: whoever wires the
// adjusters decides who runs first.
type Dispatcher struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   []registration
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With(zap.String("component", "price_dispatcher")),
	}
}

// Register appends an adjuster to the dispatch chain. The name is used for
// logs and metrics only; duplicates are allowed.
func (d *Dispatcher) Register(name string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, registration{name: name, fn: fn})
	d.logger.Info("Registered price adjuster",
		zap.String("adjuster", name),
		zap.Int("position", len(d.subs)))
}

// Dispatch hands the event to each adjuster in turn and returns it once all
// have run. Panics are confined to the offending adjuster.
func (d *Dispatcher) Dispatch(event *AdjustmentEvent) *AdjustmentEvent {
	d.mu.RLock()
	subs := append([]registration{}, d.subs...)
	d.mu.RUnlock()

	metrics.EventsDispatched.Inc()
	for _, sub := range subs {
		d.invoke(sub, event)
	}
	return event
}

func (d *Dispatcher) invoke(sub registration, event *AdjustmentEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerInvocations.WithLabelValues(sub.name, "panic").Inc()
			d.logger.Error("Price adjuster panic",
				zap.String("adjuster", sub.name),
				zap.String("event_id", event.ID().String()),
				zap.String("product", event.ProductID()),
				zap.Any("recover", r))
		}
	}()
	sub.fn(event)
	metrics.ListenerInvocations.WithLabelValues(sub.name, "ok").Inc()
}

// Len returns the number of registered adjusters.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
