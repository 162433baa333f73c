// Package fixedpoint converts human-entered decimals into the integer scales
// used on the wire: rates carry 8 fractional digits, token amounts 18.
//
// Rounding is half away from zero on the shortest decimal rendering of the
// input, so a signer and a verifier holding the same decimal always derive the
// same integer.
package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"celofx/pkg/types"
)

const (
	RateDecimals   = 8
	AmountDecimals = 18
)

var (
	RateScale   = new(big.Int).Exp(big.NewInt(10), big.NewInt(RateDecimals), nil)
	AmountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

	decimalPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)
)

// ToRateFixed scales a floating point rate to 8 fractional digits.
func ToRateFixed(rate float64) (*big.Int, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("%w: rate is not a finite number", types.ErrParse)
	}
	return rateFromDecimal(decimal.NewFromFloat(rate))
}

// ParseRate scales a decimal rate string (manual entry) to 8 fractional digits.
func ParseRate(s string) (*big.Int, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}
	return rateFromDecimal(d)
}

func rateFromDecimal(d decimal.Decimal) (*big.Int, error) {
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: rate must be greater than 0", types.ErrParse)
	}
	fixed := d.Shift(RateDecimals).Round(0).BigInt()
	if fixed.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate %s rounds to zero at %d decimals", types.ErrParse, d.String(), RateDecimals)
	}
	return fixed, nil
}

// ToAmountFixed parses a decimal token amount and scales it to 18 fractional
// digits. More than 18 fractional digits is rejected rather than truncated.
func ToAmountFixed(amount string) (*big.Int, error) {
	d, err := parseDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if -d.Exponent() > AmountDecimals {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", types.ErrParse, amount, AmountDecimals)
	}
	return d.Shift(AmountDecimals).BigInt(), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", types.ErrParse, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	// Drop trailing zeros so "1.50" and "1.5" carry the same exponent.
	return decimal.RequireFromString(d.String()), nil
}

// FormatRate renders a fixed 8-digit rate as a decimal string.
func FormatRate(rate *big.Int) string {
	if rate == nil {
		return "0"
	}
	return decimal.NewFromBigInt(rate, -RateDecimals).String()
}

// FormatAmount renders a fixed 18-digit amount as a decimal string.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -AmountDecimals).String()
}

// FormatAmountFixed renders an 18-digit amount rounded to places digits.
func FormatAmountFixed(amount *big.Int, places int32) string {
	if amount == nil {
		return decimal.Zero.StringFixed(places)
	}
	return decimal.NewFromBigInt(amount, -AmountDecimals).StringFixed(places)
}

// EstimateOut is the undiscounted output amountIn*rate, for display only.
func EstimateOut(amountIn, rate *big.Int) *big.Int {
	if amountIn == nil || rate == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountIn, rate)
	return out.Quo(out, RateScale)
}
