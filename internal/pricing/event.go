// Package pricing carries the dynamic price of a transaction from the
// compute kernel through every registered adjuster to final settlement.
package pricing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// KernelSource is the audit label of the originating price computation.
// It is always the first entry of an event's audit log.
const KernelSource = "EcoKernel-v0.8.8"

// MinPrice is the hard floor for any quoted or adjusted price. Mutations
// that would go below it are clamped, never rejected.
const MinPrice = 0.01

// Transform maps the current price to a candidate new price. It must be a
// pure function of its input; side effects or external state make the audit
// trail non-deterministic.
type Transform func(price float64) float64

// eventState is the atomically published view of an event's mutable half.
// The audit slice is never written after publication; every append builds
// a fresh slice and republishes the whole state.
type eventState struct {
	price float64
	audit []string
}

// AdjustmentEvent is a mutable, broadcastable price for a single transaction.
// It is created once per priced trade, handed by shared reference to each
// registered adjuster, and finalized by whoever settles the trade.
//
// Mutations serialize on an internal lock so racing adjusters produce a
// well-defined total order instead of lost updates. Readers never take that
// lock: they load the last published state, so a snapshot taken mid-mutation
// is always a complete prior state, never a torn one.
type AdjustmentEvent struct {
	id        uuid.UUID
	actor     *uuid.UUID
	shopID    string
	productID string
	basePrice float64

	mu    sync.Mutex
	state atomic.Pointer[eventState]
}

// NewAdjustmentEvent builds an event for one transaction. The actor is
// optional (nil for system-triggered pricing, e.g. snapshot warmup). Shop
// and product identifiers must be non-empty; the base price comes from the
// compute kernel and is trusted as supplied.
func NewAdjustmentEvent(actor *uuid.UUID, shopID, productID string, basePrice float64) *AdjustmentEvent {
	e := &AdjustmentEvent{
		id:        uuid.New(),
		actor:     actor,
		shopID:    shopID,
		productID: productID,
		basePrice: basePrice,
	}
	e.state.Store(&eventState{
		price: basePrice,
		audit: []string{KernelSource},
	})
	return e
}

// ID returns the correlation id assigned at construction.
func (e *AdjustmentEvent) ID() uuid.UUID { return e.id }

// Actor returns the triggering account and whether one exists.
func (e *AdjustmentEvent) Actor() (uuid.UUID, bool) {
	if e.actor == nil {
		return uuid.Nil, false
	}
	return *e.actor, true
}

// ShopID returns the shop identifier fixed at construction.
func (e *AdjustmentEvent) ShopID() string { return e.shopID }

// ProductID returns the product identifier fixed at construction.
func (e *AdjustmentEvent) ProductID() string { return e.productID }

// BasePrice returns the kernel-computed price this event started from.
func (e *AdjustmentEvent) BasePrice() float64 { return e.basePrice }

// CurrentPrice returns the live price. Safe from any goroutine.
func (e *AdjustmentEvent) CurrentPrice() float64 {
	return e.state.Load().price
}

// ApplyTransform feeds the current price through transform, clamps the
// result to MinPrice and installs it. The source label is appended to the
// audit log only when the clamped result actually differs from the prior
// price (exact comparison, no epsilon): adjusters that inspect but do not
// change the price leave no trace.
func (e *AdjustmentEvent) ApplyTransform(source string, transform Transform) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.state.Load()
	candidate := transform(old.price)
	if candidate < MinPrice {
		candidate = MinPrice
	}
	if candidate == old.price {
		return
	}
	e.state.Store(&eventState{
		price: candidate,
		audit: appendAudit(old.audit, source),
	})
	metrics.EventMutations.WithLabelValues("transform").Inc()
}

// Overwrite replaces the price outright (still clamped to MinPrice) and
// always appends the source with an "(Overwrite)" qualifier, even when the
// value did not change. An explicit override must stay visible in the audit
// trail regardless of whether it happened to be idempotent.
func (e *AdjustmentEvent) Overwrite(value float64, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if value < MinPrice {
		value = MinPrice
	}
	old := e.state.Load()
	e.state.Store(&eventState{
		price: value,
		audit: appendAudit(old.audit, source+"(Overwrite)"),
	})
	metrics.EventMutations.WithLabelValues("overwrite").Inc()
}

// IsModified reports whether anything beyond the kernel quote touched the
// price, i.e. the audit log holds more than the kernel sentinel.
func (e *AdjustmentEvent) IsModified() bool {
	return len(e.state.Load().audit) > 1
}

// SnapshotAuditLog returns a point-in-time copy of the audit log. The copy
// is detached: appends that land after the call never show up in it, and
// writing to it cannot corrupt the event. Safe to call concurrently with
// in-flight mutations.
func (e *AdjustmentEvent) SnapshotAuditLog() []string {
	audit := e.state.Load().audit
	out := make([]string, len(audit))
	copy(out, audit)
	return out
}

// Render produces the one-line settlement summary. Price and audit trail
// come from a single published state, so the reported price always matches
// the reported last adjuster.
func (e *AdjustmentEvent) Render() string {
	st := e.state.Load()
	if len(st.audit) > 1 {
		last := st.audit[len(st.audit)-1]
		return fmt.Sprintf("%s: %.2f (base %.2f, adjusted by %s)",
			e.productID, st.price, e.basePrice, last)
	}
	return fmt.Sprintf("%s: %.2f (kernel quote, no adjustments)", e.productID, st.price)
}

// appendAudit builds the successor audit slice. The input slice is shared
// with published snapshots and must not be appended to in place.
func appendAudit(audit []string, source string) []string {
	next := make([]string, len(audit)+1)
	copy(next, audit)
	next[len(audit)] = source
	return next
}
