// Package store persists quote consumption records. Presence of a record
// means the quote's commitment has been spent.
package store

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("store: record not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Record marks a commitment as consumed by a settled swap.
type Record struct {
	Key        common.Hash    `json:"key"`
	Signature  hexutil.Bytes  `json:"signature"`
	FromToken  common.Address `json:"fromToken"`
	ToToken    common.Address `json:"toToken"`
	Rate       *big.Int       `json:"rate"`
	Timestamp  uint64         `json:"timestamp"`
	Executor   common.Address `json:"executor"`
	AmountIn   *big.Int       `json:"amountIn,omitempty"`
	AmountOut  *big.Int       `json:"amountOut,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	ConsumedAt time.Time      `json:"consumedAt"`
}

// Effect is the value-moving step that must happen together with the record
// write. It may fill in settlement fields of rec. Returning an error aborts
// the write.
type Effect func(ctx context.Context, rec *Record) error

// ConsumptionStore is a set-if-absent store of consumption records.
//
// SetIfAbsent runs effect and writes rec as one serialized step per key. It
// returns false without running effect when rec.Key is already present. When
// effect fails, nothing is written and its error is returned. A true result
// with a non-nil error means the effect ran and the key is spent, but the
// settlement fields could not be persisted.
type ConsumptionStore interface {
	Get(ctx context.Context, key common.Hash) (*Record, error)
	SetIfAbsent(ctx context.Context, rec *Record, effect Effect) (bool, error)
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

func runEffect(ctx context.Context, rec *Record, effect Effect) error {
	if effect == nil {
		return nil
	}
	return effect(ctx, rec)
}
