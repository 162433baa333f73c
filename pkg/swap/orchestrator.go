// Package swap drives a swap from approval to settlement.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"celofx/pkg/ledger"
	"celofx/pkg/metrics"
	"celofx/pkg/slippage"
	"celofx/pkg/types"
)

// Orchestrator approves the input, derives the slippage floor and submits
// the proof to the ledger.
type Orchestrator struct {
	client      ledger.Client
	verifier    common.Address
	slippageBps uint64
	now         func() time.Time
	logger      *zap.Logger
	metrics     metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSlippageBps sets the maximum accepted slippage.
func WithSlippageBps(bps uint64) Option {
	return func(o *Orchestrator) {
		o.slippageBps = bps
	}
}

// WithClock overrides the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOrchestrator creates an orchestrator that swaps through client against
// the verifier contract.
func NewOrchestrator(client ledger.Client, verifier common.Address, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		verifier:    verifier,
		slippageBps: slippage.DefaultMaxSlippageBps,
		now:         time.Now,
		logger:      zap.NewNop(),
		metrics:     metrics.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SlippageBps returns the configured maximum slippage.
func (o *Orchestrator) SlippageBps() uint64 {
	return o.slippageBps
}

// MinOut returns the floor Execute would submit for amountIn under q.
// The signed rate is used, so a market move after signing shows up as a
// slippage failure rather than a silently worse fill.
func (o *Orchestrator) MinOut(amountIn *big.Int, q *types.Quote) (*big.Int, error) {
	if q == nil || q.Rate == nil {
		return nil, fmt.Errorf("%w: missing quote rate", types.ErrParse)
	}
	return slippage.MinOut(amountIn, q.Rate, o.slippageBps)
}

// Execute swaps amountIn of the quote's from token. The returned error is
// classified by types.KindOf; anything outside the protocol taxonomy is
// wrapped and reported as is.
func (o *Orchestrator) Execute(ctx context.Context, amountIn *big.Int, q *types.Quote) (settlement *types.Settlement, err error) {
	start := o.now()
	defer func() {
		kind := types.KindOf(err)
		o.metrics.SwapFinished(kind, o.now().Sub(start))
		if err != nil {
			o.logger.Warn("swap failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", types.ErrParse)
	}
	if q == nil || !q.IsSigned() {
		return nil, fmt.Errorf("%w: quote is not signed", types.ErrBadSignature)
	}

	if o.slippageBps >= slippage.BpsDenominator {
		return nil, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, o.slippageBps)
	}

	if err := o.client.Approve(ctx, q.FromToken, o.verifier, amountIn); err != nil {
		if !errors.Is(err, types.ErrAuthorizationFailed) {
			err = fmt.Errorf("%w: %w", types.ErrAuthorizationFailed, err)
		}
		return nil, err
	}
	o.logger.Debug("input approved",
		zap.String("token", q.FromToken.Hex()),
		zap.String("amount", amountIn.String()))

	minOut, err := o.MinOut(amountIn, q)
	if err != nil {
		return nil, err
	}

	settlement, err = o.client.SwapWithProof(ctx, &types.SwapRequest{
		AmountIn: new(big.Int).Set(amountIn),
		MinOut:   minOut,
		Quote:    q,
		Executor: o.client.Address(),
	})
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			return nil, fmt.Errorf("swap failed: %w", err)
		}
		return nil, err
	}

	o.logger.Info("swap completed",
		zap.String("reference", settlement.Reference),
		zap.String("commitment", settlement.QuoteHash.Hex()),
		zap.String("min_out", minOut.String()))
	return settlement, nil
}
