package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"celofx/pkg/quote"
	"celofx/pkg/slippage"
	"celofx/pkg/store"
	"celofx/pkg/types"
)

// Local is an in-process consuming ledger. It holds token balances and
// allowances, keeps the pool reserves at the verifier address and runs the
// quote validator inside SwapWithProof.
type Local struct {
	validator      *quote.Validator
	settlementRate func(q *types.Quote) *big.Int
	feeBps         uint64
	now            func() time.Time
	logger         *zap.Logger

	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
}

// LocalOption configures a Local ledger.
type LocalOption func(*Local)

// WithSettlementRate sets the rate the pool actually pays out at. By default
// the quote's signed rate is used.
func WithSettlementRate(rate func(q *types.Quote) *big.Int) LocalOption {
	return func(l *Local) {
		if rate != nil {
			l.settlementRate = rate
		}
	}
}

// WithFeeBps charges a pool fee on the output.
func WithFeeBps(bps uint64) LocalOption {
	return func(l *Local) {
		l.feeBps = bps
	}
}

// WithLedgerClock overrides the settlement timestamp source.
func WithLedgerClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLedgerLogger sets the logger.
func WithLedgerLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates an empty ledger around validator. The validator's domain
// verifier is the pool address.
func NewLocal(validator *quote.Validator, opts ...LocalOption) (*Local, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	l := &Local{
		validator:      validator,
		settlementRate: func(q *types.Quote) *big.Int { return q.Rate },
		now:            time.Now,
		logger:         zap.NewNop(),
		balances:       make(map[common.Address]map[common.Address]*big.Int),
		allowances:     make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.feeBps >= slippage.BpsDenominator {
		return nil, fmt.Errorf("fee of %d bps must be below %d", l.feeBps, slippage.BpsDenominator)
	}
	return l, nil
}

// Verifier is the pool address holding reserves.
func (l *Local) Verifier() common.Address {
	return l.validator.Domain().Verifier
}

// Validator returns the validator run on every swap.
func (l *Local) Validator() *quote.Validator {
	return l.validator
}

// Mint credits amount of token to owner. Minting to Verifier funds reserves.
func (l *Local) Mint(token, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, owner, amount)
}

// Balance returns owner's balance of token.
func (l *Local) Balance(token, owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, owner))
}

// Reserve returns the pool's balance of token.
func (l *Local) Reserve(token common.Address) *big.Int {
	return l.Balance(token, l.Verifier())
}

// Allowance returns how much of owner's token spender may pull.
func (l *Local) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(token, owner, spender))
}

// Client returns a view of the ledger acting as owner.
func (l *Local) Client(owner common.Address) *Account {
	return &Account{ledger: l, owner: owner}
}

func (l *Local) balance(token, owner common.Address) *big.Int {
	if b, ok := l.balances[token][owner]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Local) credit(token, owner common.Address, amount *big.Int) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	l.balances[token][owner] = new(big.Int).Add(l.balance(token, owner), amount)
}

func (l *Local) debit(token, owner common.Address, amount *big.Int) {
	l.balances[token][owner] = new(big.Int).Sub(l.balance(token, owner), amount)
}

func (l *Local) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[token][owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (l *Local) setAllowance(token, owner, spender common.Address, amount *big.Int) {
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if l.allowances[token][owner] == nil {
		l.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[token][owner][spender] = new(big.Int).Set(amount)
}

func (l *Local) approve(owner, token, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: approval amount must not be negative", types.ErrAuthorizationFailed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if have := l.balance(token, owner); have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient funds: have %s, approving %s", types.ErrAuthorizationFailed, have, amount)
	}
	l.setAllowance(token, owner, spender, amount)
	return nil
}

// swap consumes the quote with the transfer as the store effect. The effect
// takes l.mu and keeps it until the store reports the outcome, so a transfer
// whose record was not stored is undone before anyone else sees it. The
// store lock is always taken before l.mu.
func (l *Local) swap(ctx context.Context, payer common.Address, req *types.SwapRequest) (*types.Settlement, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	executor := req.Executor
	if executor == (common.Address{}) {
		executor = payer
	}
	q := req.Quote
	pool := l.Verifier()

	var (
		locked  bool
		applied *transfer
	)
	rec, err := l.validator.Consume(ctx, q, executor, func(ctx context.Context, rec *store.Record) error {
		l.mu.Lock()
		locked = true

		if allowed := l.allowance(q.FromToken, payer, pool); allowed.Cmp(req.AmountIn) < 0 {
			return fmt.Errorf("%w: allowance %s below amount %s", types.ErrAuthorizationFailed, allowed, req.AmountIn)
		}
		if have := l.balance(q.FromToken, payer); have.Cmp(req.AmountIn) < 0 {
			return fmt.Errorf("%w: insufficient funds: have %s, need %s", types.ErrAuthorizationFailed, have, req.AmountIn)
		}

		out := l.amountOut(q, req.AmountIn)
		if reserve := l.balance(q.ToToken, pool); reserve.Cmp(out) < 0 {
			return fmt.Errorf("%w: reserve %s below output %s", types.ErrInsufficientLiquidity, reserve, out)
		}
		if out.Cmp(req.MinOut) < 0 {
			return fmt.Errorf("%w: out %s, min out %s", types.ErrActualOutBelowMinOut, out, req.MinOut)
		}

		applied = &transfer{
			payer:     payer,
			pool:      pool,
			executor:  executor,
			fromToken: q.FromToken,
			toToken:   q.ToToken,
			amountIn:  new(big.Int).Set(req.AmountIn),
			amountOut: out,
			allowance: new(big.Int).Set(l.allowance(q.FromToken, payer, pool)),
		}
		l.apply(applied)

		rec.AmountIn = new(big.Int).Set(req.AmountIn)
		rec.AmountOut = out
		rec.Reference = uuid.NewString()
		return nil
	})
	if locked {
		if err != nil && applied != nil {
			l.revert(applied)
			l.logger.Warn("transfer undone, consumption not recorded",
				zap.String("executor", applied.executor.Hex()),
				zap.String("amount_in", applied.amountIn.String()),
				zap.Error(err))
		}
		l.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("swap settled",
		zap.String("reference", rec.Reference),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("amount_out", rec.AmountOut.String()))

	return &types.Settlement{
		Reference: rec.Reference,
		QuoteHash: rec.Key,
		AmountIn:  new(big.Int).Set(req.AmountIn),
		MinOut:    new(big.Int).Set(req.MinOut),
		AmountOut: rec.AmountOut,
		Executor:  executor,
		SettledAt: l.now().UTC(),
	}, nil
}

// transfer is one settled swap's balance movement.
type transfer struct {
	payer, pool, executor common.Address
	fromToken, toToken    common.Address
	amountIn, amountOut   *big.Int
	allowance             *big.Int
}

func (l *Local) apply(t *transfer) {
	l.debit(t.fromToken, t.payer, t.amountIn)
	l.credit(t.fromToken, t.pool, t.amountIn)
	l.setAllowance(t.fromToken, t.payer, t.pool, new(big.Int).Sub(t.allowance, t.amountIn))
	l.debit(t.toToken, t.pool, t.amountOut)
	l.credit(t.toToken, t.executor, t.amountOut)
}

func (l *Local) revert(t *transfer) {
	l.debit(t.toToken, t.executor, t.amountOut)
	l.credit(t.toToken, t.pool, t.amountOut)
	l.setAllowance(t.fromToken, t.payer, t.pool, t.allowance)
	l.debit(t.fromToken, t.pool, t.amountIn)
	l.credit(t.fromToken, t.payer, t.amountIn)
}

func (l *Local) amountOut(q *types.Quote, amountIn *big.Int) *big.Int {
	rate := l.settlementRate(q)
	if rate == nil || rate.Sign() < 0 {
		rate = new(big.Int)
	}
	out := slippage.GrossOut(amountIn, rate)
	if l.feeBps > 0 {
		out.Mul(out, new(big.Int).SetUint64(slippage.BpsDenominator-l.feeBps))
		out.Quo(out, new(big.Int).SetUint64(slippage.BpsDenominator))
	}
	return out
}

// Account is a Client bound to one owner of a Local ledger.
type Account struct {
	ledger *Local
	owner  common.Address
}

var _ Client = (*Account)(nil)

func (a *Account) Address() common.Address {
	return a.owner
}

func (a *Account) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrAuthorizationFailed, err)
	}
	return a.ledger.approve(a.owner, token, spender, amount)
}

func (a *Account) SwapWithProof(ctx context.Context, req *types.SwapRequest) (*types.Settlement, error) {
	return a.ledger.swap(ctx, a.owner, req)
}
