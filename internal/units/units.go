// Package units provides the shared token/credit/won conversions and rounding
// rules used by the pricing engine and the usage ledger.
//
// All balances are whole tokens held in int64. 1 credit = 1000 tokens = ₩10.
// The USD cost model is for display only and never gates an operation.
package units

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// TokensPerCredit converts the purchasable credit unit into tokens.
	TokensPerCredit int64 = 1000

	// WonPerCredit is the face value of one credit in KRW.
	WonPerCredit int64 = 10

	// AverageTokensPerTurn is the token cost of a typical conversational turn.
	AverageTokensPerTurn int64 = 900

	// DefaultFreeMonthlyTokens is the monthly free allowance granted to every account.
	DefaultFreeMonthlyTokens int64 = 7300

	// preciseNum/preciseDen is the 1.2x surcharge applied in precise mode.
	preciseNum = 12
	preciseDen = 10
)

var (
	// USDPerThousandTokens is the reference model cost per 1k tokens.
	USDPerThousandTokens = decimal.RequireFromString("0.0071")

	// WonPerUSD is the reference exchange rate.
	WonPerUSD = decimal.NewFromInt(1385)
)

// PreciseTokens returns round(tokens × 1.2) using integer arithmetic so that
// exact halves round away from zero without float drift.
func PreciseTokens(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	return (tokens*preciseNum + preciseDen/2) / preciseDen
}

// SpendAmount returns the number of tokens actually charged for a request.
func SpendAmount(tokens int64, precise bool) int64 {
	if precise {
		return PreciseTokens(tokens)
	}
	return tokens
}

// CreditsToTokens converts whole credits into tokens.
func CreditsToTokens(credits int64) int64 {
	return credits * TokensPerCredit
}

// TokensToCredits converts tokens into credits, truncating partial credits.
func TokensToCredits(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	return tokens / TokensPerCredit
}

// CreditsToWon returns the KRW face value of a credit amount.
func CreditsToWon(credits int64) int64 {
	return credits * WonPerCredit
}

// TokensToWon returns the KRW face value of a token amount at the credit rate,
// with two decimal places.
func TokensToWon(tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).
		Div(decimal.NewFromInt(TokensPerCredit)).
		Mul(decimal.NewFromInt(WonPerCredit)).
		Round(2)
}

// ModelCostWon returns what a token amount costs under the reference USD model,
// converted to KRW. Used only to show the value of the free tier.
func ModelCostWon(tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).
		Div(decimal.NewFromInt(1000)).
		Mul(USDPerThousandTokens).
		Mul(WonPerUSD).
		Round(2)
}

// Turns estimates how many average turns a token remainder covers.
// Negative remainders clamp to zero before flooring.
func Turns(remaining int64) int64 {
	if remaining <= 0 {
		return 0
	}
	return remaining / AverageTokensPerTurn
}

// Percent returns round(100 × part / whole) clamped to [0, 100]. A zero or
// negative whole yields 0. The ratio is taken in decimal so any int64 pair is
// safe.
func Percent(part, whole int64) int64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return 100
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
}

// SaturatingAdd returns a + b for non-negative operands, capped at MaxInt64.
func SaturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// NonNegative floors v at zero.
func NonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
