package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// All money and share quantities in the engine are fixed-point int64 values.
// Prices are expressed in ticks (1 tick = 1e-6 dollar) and sizes in units
// (1 unit = 1e-6 share), so a share paying out $1.00 on resolution pays
// exactly TicksPerDollar ticks. Exact integer arithmetic keeps profit
// accounting free of float rounding drift.
const (
	// TicksPerDollar is the fixed-point scale for prices: price * 1e6.
	TicksPerDollar int64 = 1_000_000

	// UnitsPerShare is the fixed-point scale for sizes: size * 1e6.
	UnitsPerShare int64 = 1_000_000
)

// maxFixedPlaces is the number of decimal places representable at 1e6 scale.
const maxFixedPlaces = 6

// Notional returns the cost in ticks of buying sizeUnits at priceTicks.
// The result floors toward zero, which under-reports cost by at most one
// tick and therefore never overstates profit.
func Notional(priceTicks, sizeUnits int64) int64 {
	return priceTicks * sizeUnits / UnitsPerShare
}

// FeeOn returns the fee in ticks charged on a notional amount at the given
// basis-point rate, floored.
func FeeOn(notionalTicks, feeBps int64) int64 {
	return notionalTicks * feeBps / 10_000
}

// SizeForSpend returns the largest size in units whose notional at priceTicks
// does not exceed spendTicks. Returns 0 when priceTicks is not positive.
func SizeForSpend(spendTicks, priceTicks int64) int64 {
	if priceTicks <= 0 {
		return 0
	}
	return spendTicks * UnitsPerShare / priceTicks
}

// TicksFromString parses a venue decimal string (e.g. "0.485") into price
// ticks exactly. It rejects values with more than six decimal places rather
// than silently rounding them.
func TicksFromString(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	return TicksFromDecimal(d)
}

// TicksFromDecimal converts a decimal dollar amount into ticks exactly.
func TicksFromDecimal(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(decimal.New(TicksPerDollar, 0))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("fixed: %s has more than %d decimal places", d.String(), maxFixedPlaces)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("fixed: %s out of int64 range", d.String())
	}
	return scaled.IntPart(), nil
}

// UnitsFromString parses a venue decimal size string into size units exactly.
// Sizes share the 1e6 scale with prices.
func UnitsFromString(s string) (int64, error) {
	return TicksFromString(s)
}

// DecimalFromTicks converts ticks back into a decimal dollar amount for
// display and venue payloads.
func DecimalFromTicks(ticks int64) decimal.Decimal {
	return decimal.New(ticks, -6)
}

// Dollars renders a tick amount as a dollar string, e.g. "0.97".
func Dollars(ticks int64) string {
	return DecimalFromTicks(ticks).String()
}
