package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SwapCommand represents a user's swap command before token resolution
type SwapCommand struct {
	Amount     string
	FromSymbol string
	ToSymbol   string
}

// SwapRequest is constructed per swap attempt and handed to the consuming ledger
type SwapRequest struct {
	AmountIn *big.Int
	MinOut   *big.Int
	Quote    *Quote
	Executor common.Address
}

// Settlement is the result of a swap that settled on the ledger
type Settlement struct {
	Reference string         `json:"reference"`
	QuoteHash common.Hash    `json:"quoteHash"`
	AmountIn  *big.Int       `json:"amountIn"`
	MinOut    *big.Int       `json:"minOut"`
	AmountOut *big.Int       `json:"amountOut,omitempty"`
	Executor  common.Address `json:"executor"`
	SettledAt time.Time      `json:"settledAt"`
}

// Token describes a stable token known to the CLI
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
}
