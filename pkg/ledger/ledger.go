// Package ledger settles swaps against a consuming ledger: an in-process
// model of the verifier contract, or the contract itself over JSON-RPC.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"celofx/pkg/types"
)

// Client is the caller's view of a ledger holding the verifier contract.
type Client interface {
	// Address is the account that pays the input and, by default, executes.
	Address() common.Address
	// Approve lets spender pull up to amount of token from Address.
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error
	// SwapWithProof consumes the quote in req and settles the swap.
	SwapWithProof(ctx context.Context, req *types.SwapRequest) (*types.Settlement, error)
}

func checkRequest(req *types.SwapRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: missing swap request", types.ErrParse)
	case req.Quote == nil:
		return fmt.Errorf("%w: missing quote", types.ErrBadSignature)
	case req.AmountIn == nil || req.AmountIn.Sign() <= 0:
		return fmt.Errorf("%w: amount in must be positive", types.ErrParse)
	case req.MinOut == nil || req.MinOut.Sign() < 0:
		return fmt.Errorf("%w: min out must not be negative", types.ErrParse)
	}
	return nil
}
