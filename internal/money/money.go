package money

import "github.com/shopspring/decimal"

// Scale is the fixed number of decimal places for all monetary amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Zero is the canonical zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Round snaps an amount to the monetary scale, rounding half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent computes pct% of base without intermediate rounding. Callers round
// once, at the end of the whole computation.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// IsPositive reports whether d is strictly greater than zero.
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}
