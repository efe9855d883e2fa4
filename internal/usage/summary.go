package usage

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/consultcredit/internal/units"
)

// Drawdown orders for the used-split breakdown.
const (
	FreeFirst      = "free_first"
	PurchasedFirst = "purchased_first"
)

// Breakdown splits the tokens used this cycle between the two balances.
type Breakdown struct {
	Order         string `json:"order"`
	FreeUsed      int64  `json:"freeUsed"`
	PurchasedUsed int64  `json:"purchasedUsed"`
}

// Summary is derived from an account on every read and never stored.
type Summary struct {
	Period                    units.Period    `json:"period"`
	TotalAllowance            int64           `json:"totalAllowance"`
	UsedTotal                 int64           `json:"usedTotal"`
	FreeRemaining             int64           `json:"freeRemaining"`
	PurchasedRemaining        int64           `json:"purchasedRemaining"`
	PurchasedRemainingCredits int64           `json:"purchasedRemainingCredits"`
	RemainingFreePct          int64           `json:"remainingFreePct"`
	EstimatedFreeTurns        int64           `json:"estimatedFreeTurns"`
	EstimatedPurchasedTurns   int64           `json:"estimatedPurchasedTurns"`
	FreeTierValueWon          decimal.Decimal `json:"freeTierValueWon"`
	PurchasedRemainingWon     decimal.Decimal `json:"purchasedRemainingWon"`
	Overdrawn                 bool            `json:"overdrawn"`
	OverdraftTokens           int64           `json:"overdraftTokens"`
	Breakdown                 Breakdown       `json:"breakdown"`
	Display                   *Breakdown      `json:"displayBreakdown,omitempty"`
}

// Summarize derives the read-only summary for acct. The Breakdown field is
// always the free-first split from the stored counters. When purchasedFirst is
// set, Display additionally carries the split as if purchased tokens had been
// spent before free ones.
func Summarize(acct *Account, purchasedFirst bool) Summary {
	if acct == nil {
		return Summary{}
	}
	used := units.SaturatingAdd(acct.FreeAllowanceUsed, acct.PurchasedUsed)
	total := units.SaturatingAdd(acct.FreeAllowanceTotal, acct.PurchasedTotal)
	freeLeft := units.NonNegative(acct.FreeAllowanceTotal - acct.FreeAllowanceUsed)
	purchasedLeft := units.NonNegative(acct.PurchasedTotal - acct.PurchasedUsed)
	overdraft := units.NonNegative(acct.PurchasedUsed - acct.PurchasedTotal)

	s := Summary{
		Period:                    acct.LastResetPeriod,
		TotalAllowance:            total,
		UsedTotal:                 used,
		FreeRemaining:             freeLeft,
		PurchasedRemaining:        purchasedLeft,
		PurchasedRemainingCredits: units.TokensToCredits(purchasedLeft),
		RemainingFreePct:          units.Percent(total-used, total),
		EstimatedFreeTurns:        units.Turns(freeLeft),
		EstimatedPurchasedTurns:   units.Turns(purchasedLeft),
		FreeTierValueWon:          units.ModelCostWon(acct.FreeAllowanceTotal),
		PurchasedRemainingWon:     units.TokensToWon(purchasedLeft),
		Overdrawn:                 overdraft > 0,
		OverdraftTokens:           overdraft,
		Breakdown: Breakdown{
			Order:         FreeFirst,
			FreeUsed:      acct.FreeAllowanceUsed,
			PurchasedUsed: acct.PurchasedUsed,
		},
	}
	if purchasedFirst {
		d := purchasedFirstSplit(used, acct.PurchasedTotal)
		s.Display = &d
	}
	return s
}

// purchasedFirstSplit attributes usage to the purchased balance up to its
// total and the rest to the free allowance. Without purchased tokens all
// usage is free.
func purchasedFirstSplit(used, purchasedTotal int64) Breakdown {
	var fromPurchased int64
	if purchasedTotal > 0 {
		fromPurchased = min(used, purchasedTotal)
	}
	return Breakdown{
		Order:         PurchasedFirst,
		FreeUsed:      used - fromPurchased,
		PurchasedUsed: fromPurchased,
	}
}
