// Package amount converts between human amounts and on-chain base units.
//
// TRX and USDT (TRC-20) both use 6 decimals: 1 TRX = 1,000,000 SUN.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the precision of both supported assets.
const Decimals = 6

var (
	ErrEmpty     = errors.New("amount: empty")
	ErrNegative  = errors.New("amount: must be positive")
	ErrPrecision = errors.New("amount: more than 6 decimal places")
	ErrFormat    = errors.New("amount: invalid format")
)

// Parse parses a positive human amount such as "12.5".
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, ErrEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNegative
	}
	if d.Exponent() < -Decimals && !d.Equal(d.Truncate(Decimals)) {
		return decimal.Zero, ErrPrecision
	}
	return d, nil
}

// ToSun converts a human amount into base units, truncating below 6 decimals.
func ToSun(d decimal.Decimal) *big.Int {
	return d.Shift(Decimals).Truncate(0).BigInt()
}

// ToSunInt64 is ToSun for amounts known to fit an int64 (native transfers).
func ToSunInt64(d decimal.Decimal) int64 {
	return d.Shift(Decimals).Truncate(0).IntPart()
}

// FromSun converts base units into a human amount.
func FromSun(sun *big.Int) decimal.Decimal {
	if sun == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(sun, -Decimals)
}

// FromSunInt64 converts int64 base units into a human amount.
func FromSunInt64(sun int64) decimal.Decimal {
	return decimal.New(sun, -Decimals)
}

// Format renders d with exactly 6 decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Decimals)
}
