package pricing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustmentEvent_Unmodified(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	assert.Equal(t, 10.00, e.CurrentPrice())
	assert.Equal(t, 10.00, e.BasePrice())
	assert.Equal(t, []string{KernelSource}, e.SnapshotAuditLog())
	assert.False(t, e.IsModified())

	_, ok := e.Actor()
	assert.False(t, ok)
}

func TestAdjustmentEvent_ActorPresent(t *testing.T) {
	actor := uuid.New()
	e := NewAdjustmentEvent(&actor, "central", "diamond", 10.00)

	got, ok := e.Actor()
	require.True(t, ok)
	assert.Equal(t, actor, got)
	assert.Equal(t, "central", e.ShopID())
	assert.Equal(t, "diamond", e.ProductID())
}

func TestApplyTransform_AppendsOnChange(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	e.ApplyTransform("VipSystem", func(p float64) float64 { return p * 0.8 })

	assert.Equal(t, 8.00, e.CurrentPrice())
	assert.Equal(t, []string{KernelSource, "VipSystem"}, e.SnapshotAuditLog())
	assert.True(t, e.IsModified())
	assert.Equal(t, 10.00, e.BasePrice(), "base price must not move")
}

func TestApplyTransform_IdentityLeavesNoTrace(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	e.ApplyTransform("Inspector", func(p float64) float64 { return p })

	assert.Equal(t, 10.00, e.CurrentPrice())
	assert.Len(t, e.SnapshotAuditLog(), 1)
	assert.False(t, e.IsModified())
}

func TestApplyTransform_ClampsToFloor(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	e.ApplyTransform("Glitch", func(p float64) float64 { return -100.0 })

	assert.Equal(t, MinPrice, e.CurrentPrice())
	assert.Equal(t, []string{KernelSource, "Glitch"}, e.SnapshotAuditLog())
}

func TestApplyTransform_ClampedNoopLeavesNoTrace(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	e.ApplyTransform("Glitch", func(p float64) float64 { return -100.0 })
	require.Equal(t, MinPrice, e.CurrentPrice())

	// A second subfloor transform clamps to the same price: no new entry.
	e.ApplyTransform("Glitch", func(p float64) float64 { return -5.0 })

	assert.Equal(t, MinPrice, e.CurrentPrice())
	assert.Len(t, e.SnapshotAuditLog(), 2)
}

func TestOverwrite_AlwaysAudits(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	e.Overwrite(5.00, "XmasCoupon")
	e.Overwrite(5.00, "XmasCoupon")

	assert.Equal(t, 5.00, e.CurrentPrice())
	assert.Equal(t, []string{
		KernelSource,
		"XmasCoupon(Overwrite)",
		"XmasCoupon(Overwrite)",
	}, e.SnapshotAuditLog())
	assert.True(t, e.IsModified())
}

func TestOverwrite_ClampsToFloor(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	e.Overwrite(-3.0, "Glitch")

	assert.Equal(t, MinPrice, e.CurrentPrice())
	assert.Equal(t, []string{KernelSource, "Glitch(Overwrite)"}, e.SnapshotAuditLog())
}

func TestSnapshotAuditLog_Detached(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	e.ApplyTransform("VipSystem", func(p float64) float64 { return p * 0.8 })

	snap := e.SnapshotAuditLog()
	require.Len(t, snap, 2)

	// Later mutations never leak into an already returned snapshot.
	e.Overwrite(1.00, "XmasCoupon")
	assert.Len(t, snap, 2)

	// Writing into the snapshot cannot corrupt the event either.
	snap[0] = "tampered"
	assert.Equal(t, KernelSource, e.SnapshotAuditLog()[0])
}

func TestRender_Modified(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	e.ApplyTransform("VipSystem", func(p float64) float64 { return p * 0.8 })

	out := e.Render()
	assert.Contains(t, out, "diamond")
	assert.Contains(t, out, "8.00")
	assert.Contains(t, out, "10.00")
	assert.Contains(t, out, "VipSystem")
}

func TestRender_Unmodified(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	out := e.Render()
	assert.Contains(t, out, "diamond")
	assert.Contains(t, out, "10.00")
	assert.NotContains(t, out, "base")
}

func TestRender_LastSourceWins(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	e.ApplyTransform("VipSystem", func(p float64) float64 { return p * 0.8 })
	e.Overwrite(2.50, "XmasCoupon")

	out := e.Render()
	assert.Contains(t, out, "2.50")
	assert.Contains(t, out, "XmasCoupon(Overwrite)")
}

func TestConcurrentTransforms_NoLostUpdate(t *testing.T) {
	const goroutines = 100
	const perGoroutine = 100

	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	wg := sync.WaitGroup{}
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := fmt.Sprintf("adjuster-%d", i)
			for j := 0; j < perGoroutine; j++ {
				e.ApplyTransform(source, func(p float64) float64 { return p + 1 })
			}
		}(i)
	}
	wg.Wait()

	// Every +1 changes the price, so no update may be lost and every one
	// must have left an audit entry.
	assert.Equal(t, 10.00+float64(goroutines*perGoroutine), e.CurrentPrice())
	assert.Len(t, e.SnapshotAuditLog(), 1+goroutines*perGoroutine)
}

func TestConcurrentMixedMutations_AuditAccounting(t *testing.T) {
	const changers = 50   // always change the price
	const inspectors = 50 // never change the price
	const overwrites = 25 // always audited

	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	wg := sync.WaitGroup{}

	for i := 0; i < changers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ApplyTransform("Escalator", func(p float64) float64 { return p + 0.5 })
		}()
	}
	for i := 0; i < inspectors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ApplyTransform("Inspector", func(p float64) float64 { return p })
		}()
	}
	for i := 0; i < overwrites; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Overwrite(42.0, "Override")
		}()
	}
	wg.Wait()

	// Identity transforms are invisible; changers and overwrites are not.
	// One edge: an Escalator running right after price is already 42.0+0.5k
	// still changes it, so all 50 count. An overwrite landing on exactly 42.0
	// still counts by contract.
	assert.Len(t, e.SnapshotAuditLog(), 1+changers+overwrites)
	assert.GreaterOrEqual(t, e.CurrentPrice(), MinPrice)
}

func TestConcurrentSnapshots_NeverTorn(t *testing.T) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)

	stop := make(chan struct{})
	writer := sync.WaitGroup{}
	writer.Add(1)
	go func() {
		defer writer.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.ApplyTransform("Writer", func(p float64) float64 { return p + 1 })
		}
	}()

	// Many readers validating every observed snapshot.
	readers := sync.WaitGroup{}
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			prev := 0
			for i := 0; i < 5000; i++ {
				snap := e.SnapshotAuditLog()
				assert.NotEmpty(t, snap)
				assert.Equal(t, KernelSource, snap[0])
				// The log is append-only: lengths never go backwards.
				assert.GreaterOrEqual(t, len(snap), prev)
				prev = len(snap)
			}
		}()
	}

	// Render must also stay internally consistent while writes are in flight.
	readers.Add(1)
	go func() {
		defer readers.Done()
		for i := 0; i < 5000; i++ {
			out := e.Render()
			assert.Contains(t, out, "diamond")
		}
	}()

	readers.Wait()
	close(stop)
	writer.Wait()
}

func BenchmarkApplyTransform(b *testing.B) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ApplyTransform("bench", func(p float64) float64 { return p + 1 })
	}
}

func BenchmarkSnapshotDuringMutation(b *testing.B) {
	e := NewAdjustmentEvent(nil, "central", "diamond", 10.00)
	stop := make(chan struct{})
	b.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.ApplyTransform("writer", func(p float64) float64 { return p + 1 })
		}
	}()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = e.SnapshotAuditLog()
		}
	})
}
