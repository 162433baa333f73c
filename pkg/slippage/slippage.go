// Package slippage computes the minimum acceptable output of a swap.
package slippage

import (
	"fmt"
	"math/big"

	"celofx/pkg/fixedpoint"
	"celofx/pkg/types"
)

const (
	// DefaultMaxSlippageBps is 0.5%.
	DefaultMaxSlippageBps uint64 = 50
	// BpsDenominator is 100% in basis points.
	BpsDenominator uint64 = 10_000
)

// GrossOut is amountIn*rate/1e8, truncated.
func GrossOut(amountIn, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(amountIn, rate)
	return out.Quo(out, fixedpoint.RateScale)
}

// MinOut returns grossOut*(10000-bps)/10000 with truncating division at
// each step. amountIn is 18-decimal fixed point, rate 8-decimal.
func MinOut(amountIn, rate *big.Int, maxSlippageBps uint64) (*big.Int, error) {
	if maxSlippageBps >= BpsDenominator {
		return nil, fmt.Errorf("%w: %d bps must be below %d", types.ErrInvalidSlippage, maxSlippageBps, BpsDenominator)
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", types.ErrParse)
	}
	if rate == nil || rate.Sign() < 0 {
		return nil, fmt.Errorf("%w: rate must not be negative", types.ErrParse)
	}
	if amountIn.Sign() == 0 {
		return new(big.Int), nil
	}

	out := GrossOut(amountIn, rate)
	out.Mul(out, new(big.Int).SetUint64(BpsDenominator-maxSlippageBps))
	return out.Quo(out, new(big.Int).SetUint64(BpsDenominator)), nil
}
