package pricing

import (
	"time"

	"github.com/ellanlabs/ecobridge/internal/economy"
)

const (
	tierDiscountRate    = 0.98
	holidayDiscountRate = 0.95
	emergencyFloorRatio = 0.5
)

// PhaseSource is the slice of the phase tracker the listeners need.
type PhaseSource interface {
	PhaseFor(productID string) economy.Phase
}

// NewTierDiscountListener grants long-tenured actors a small discount.
// Actors without a live session get no tier treatment.
func NewTierDiscountListener(sessions SessionSource, veteranHours float64) Listener {
	return func(event *AdjustmentEvent) {
		actor, ok := event.Actor()
		if !ok {
			return
		}
		secs, online := sessions.PlaySeconds(actor)
		if !online || float64(secs)/3600.0 < veteranHours {
			return
		}
		event.ApplyTransform("LoyaltyTier", func(price float64) float64 {
			return price * tierDiscountRate
		})
	}
}

// NewEmergencyFloorListener keeps prices from collapsing while a market
// is in emergency: the price never drops below half the kernel quote.
func NewEmergencyFloorListener(phases PhaseSource) Listener {
	return func(event *AdjustmentEvent) {
		if phases.PhaseFor(event.ProductID()) != economy.PhaseEmergency {
			return
		}
		floor := event.BasePrice() * emergencyFloorRatio
		event.ApplyTransform("EmergencyFloor", func(price float64) float64 {
			if price < floor {
				return floor
			}
			return price
		})
	}
}

// NewHolidayListener applies the holiday sale discount.
func NewHolidayListener(calendar HolidaySource) Listener {
	return func(event *AdjustmentEvent) {
		if !calendar.IsHoliday(time.Now()) {
			return
		}
		event.ApplyTransform("HolidaySale", func(price float64) float64 {
			return price * holidayDiscountRate
		})
	}
}
