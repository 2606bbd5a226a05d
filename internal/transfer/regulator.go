// Package transfer settles account-to-account payments under the
// regulator's taxation and anti-abuse rules.
package transfer

import (
	"math"

	"github.com/ellanlabs/ecobridge/internal/config"
)

// maxTaxRatio caps total tax at half the transferred amount no matter
// how the surcharges stack.
const maxTaxRatio = 0.5

// Code classifies the regulator's ruling on a transfer.
type Code int

const (
	CodeAllowed Code = iota
	CodeRiskWarning
	CodeReverseFlow
	CodeInjection
	CodeInsufficientFunds
	CodeVelocityExceeded
)

func (c Code) String() string {
	switch c {
	case CodeAllowed:
		return "allowed"
	case CodeRiskWarning:
		return "risk_warning"
	case CodeReverseFlow:
		return "reverse_flow"
	case CodeInjection:
		return "injection"
	case CodeInsufficientFunds:
		return "insufficient_funds"
	case CodeVelocityExceeded:
		return "velocity_exceeded"
	default:
		return "unknown"
	}
}

// Party is the regulator's view of one account.
type Party struct {
	Balance   float64
	PlayHours float64
}

// Request carries everything the ruling depends on, so Evaluate stays a
// pure function.
type Request struct {
	Amount    float64
	Inflation float64
	Sender    Party
	Receiver  Party

	// RecentTransfers counts the sender's settled transfers inside the
	// velocity window.
	RecentTransfers int
}

// Verdict is the regulator's ruling. Tax is only meaningful when the
// transfer is not blocked; it is deducted from the amount, so the
// receiver is credited Amount-Tax and the tax itself is burned.
type Verdict struct {
	Code    Code
	Blocked bool
	Tax     float64
	Reason  string
}

// Evaluate rules on one transfer. Checks run hardest first: funding,
// velocity, the two wealth-flow blocks, then the risk warning. Amount is
// assumed positive and finite; callers validate before asking.
func Evaluate(req Request, cfg config.TransferConfig) Verdict {
	if req.Sender.Balance < req.Amount {
		return Verdict{
			Code:    CodeInsufficientFunds,
			Blocked: true,
			Reason:  "sender balance does not cover the amount",
		}
	}

	if req.RecentTransfers >= cfg.VelocityThreshold {
		return Verdict{
			Code:    CodeVelocityExceeded,
			Blocked: true,
			Reason:  "transfer velocity limit reached",
		}
	}

	senderNewbie := req.Sender.PlayHours < cfg.NewbieHours
	senderVeteran := req.Sender.PlayHours >= cfg.VeteranHours
	receiverNewbie := req.Receiver.PlayHours < cfg.NewbieHours
	receiverVeteran := req.Receiver.PlayHours >= cfg.VeteranHours

	// A fresh account draining a large sum into a veteran is the classic
	// mule pattern.
	if senderNewbie && receiverVeteran && req.Amount > cfg.NewbieReceiveLimit {
		return Verdict{
			Code:    CodeReverseFlow,
			Blocked: true,
			Reason:  "newbie to veteran transfer exceeds the newbie limit",
		}
	}

	// The mirror image: a veteran stuffing a fresh account past its
	// protected ceiling.
	if senderVeteran && receiverNewbie && req.Receiver.Balance+req.Amount > cfg.NewbieReceiveLimit {
		return Verdict{
			Code:    CodeInjection,
			Blocked: true,
			Reason:  "transfer would push the newbie past the receive limit",
		}
	}

	tax := computeTax(req, cfg)

	warnFloor := cfg.WarnMin * (1.0 + math.Max(0.0, req.Inflation))
	if req.Amount >= req.Sender.Balance*cfg.WarnRatio && req.Amount >= warnFloor {
		return Verdict{
			Code:   CodeRiskWarning,
			Tax:    tax,
			Reason: "transfer drains most of the sender balance",
		}
	}

	return Verdict{Code: CodeAllowed, Tax: tax}
}

// computeTax stacks the base rate (inflation-scaled), the luxury
// surcharge on the portion above the threshold, and the wealth-gap rate
// when a rich account feeds a poor one. The result is capped.
func computeTax(req Request, cfg config.TransferConfig) float64 {
	inflation := math.Max(0.0, req.Inflation)

	tax := req.Amount * cfg.BaseTaxRate * (1.0 + inflation)
	if req.Amount > cfg.LuxuryThreshold {
		tax += (req.Amount - cfg.LuxuryThreshold) * cfg.LuxuryRate
	}
	if req.Sender.Balance >= cfg.RichLine && req.Receiver.Balance <= cfg.PoorLine {
		if gapTax := req.Amount * cfg.WealthGapRate; gapTax > tax {
			tax = gapTax
		}
	}

	if limit := req.Amount * maxTaxRatio; tax > limit {
		tax = limit
	}
	return tax
}
