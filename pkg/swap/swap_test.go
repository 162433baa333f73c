package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celofx/pkg/ledger"
	"celofx/pkg/quote"
	"celofx/pkg/store"
	"celofx/pkg/types"
)

var (
	alfajores = big.NewInt(44787)
	verifier  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	cUSD      = common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1")
	cREAL     = common.HexToAddress("0xE4D517785D091D3c54818832dB6094bcc2744545")
	user      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

const signedAt = 1_700_000_000

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type outcome struct {
	kind    types.ErrorKind
	elapsed time.Duration
}

type recorder struct {
	mu    sync.Mutex
	swaps []outcome
}

func (r *recorder) QuoteIssued(types.ErrorKind)   {}
func (r *recorder) QuoteVerified(types.ErrorKind) {}
func (r *recorder) SwapFinished(kind types.ErrorKind, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps = append(r.swaps, outcome{kind, elapsed})
}

type fixture struct {
	mu       sync.Mutex
	now      time.Time
	key      *ecdsa.PrivateKey
	domain   quote.Domain
	ledger   *ledger.Local
	orch     *Orchestrator
	recorder *recorder
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) at(offset time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = time.Unix(signedAt, 0).Add(offset)
}

func newFixture(t *testing.T, ledgerOpts ...ledger.LocalOption) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		now:      time.Unix(signedAt, 0),
		key:      key,
		domain:   quote.NewDomain(alfajores, verifier),
		recorder: &recorder{},
	}
	validator := quote.NewValidator(f.domain, crypto.PubkeyToAddress(key.PublicKey), store.NewMemory(), quote.WithClock(f.clock))
	f.ledger, err = ledger.NewLocal(validator, ledgerOpts...)
	require.NoError(t, err)
	f.ledger.Mint(cUSD, user, units(1_000))
	f.ledger.Mint(cREAL, verifier, units(10_000))

	f.orch = NewOrchestrator(f.ledger.Client(user), verifier, WithClock(f.clock), WithMetrics(f.recorder))
	return f
}

func (f *fixture) issuer(approver quote.Approver) *quote.Issuer {
	return quote.NewIssuer(f.domain, quote.NewKeySigner(f.key, approver), quote.WithIssuerClock(f.clock))
}

func (f *fixture) sign(t *testing.T, rate int64) *types.Quote {
	t.Helper()
	q, err := f.issuer(nil).Issue(context.Background(), cUSD, cREAL, big.NewInt(rate))
	require.NoError(t, err)
	return q
}

func TestExecuteStaleQuote(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, 510_000_000)

	f.at(310 * time.Second)
	_, err := f.orch.Execute(context.Background(), units(100), q)
	require.ErrorIs(t, err, types.ErrStaleQuote)
	assert.Equal(t, units(1_000), f.ledger.Balance(cUSD, user))
}

func TestExecuteOnceOnly(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, 510_000_000)
	f.at(100 * time.Second)

	settlement, err := f.orch.Execute(context.Background(), units(100), q)
	require.NoError(t, err)
	assert.Equal(t, units(510), settlement.AmountOut)
	assert.Equal(t, "507450000000000000000", settlement.MinOut.String())
	assert.Equal(t, user, settlement.Executor)

	_, err = f.orch.Execute(context.Background(), units(100), q)
	require.ErrorIs(t, err, types.ErrQuoteAlreadyUsed)

	assert.Equal(t, units(900), f.ledger.Balance(cUSD, user))
	assert.Equal(t, units(510), f.ledger.Balance(cREAL, user))

	require.Len(t, f.recorder.swaps, 2)
	assert.Equal(t, types.KindNone, f.recorder.swaps[0].kind)
	assert.Equal(t, types.KindQuoteAlreadyUsed, f.recorder.swaps[1].kind)
}

// The floor is derived from the signed rate, so a pool that moved more than
// the slippage tolerance since signing refuses the swap.
func TestExecuteSignTimeRateWindow(t *testing.T) {
	f := newFixture(t, ledger.WithSettlementRate(func(q *types.Quote) *big.Int {
		return big.NewInt(504_000_000)
	}))
	q := f.sign(t, 510_000_000)

	_, err := f.orch.Execute(context.Background(), units(100), q)
	require.ErrorIs(t, err, types.ErrActualOutBelowMinOut)

	_, err = f.ledger.Validator().Verify(context.Background(), q)
	require.NoError(t, err, "a slippage failure leaves the quote unconsumed")
}

func TestExecuteAuthorizationFailure(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, 510_000_000)

	_, err := f.orch.Execute(context.Background(), units(5_000), q)
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)

	_, err = f.ledger.Validator().Verify(context.Background(), q)
	require.NoError(t, err)
}

func TestExecuteInputValidation(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, 510_000_000)

	_, err := f.orch.Execute(context.Background(), big.NewInt(0), q)
	require.ErrorIs(t, err, types.ErrParse)

	_, err = f.orch.Execute(context.Background(), nil, q)
	require.ErrorIs(t, err, types.ErrParse)

	unsigned := q.Copy()
	unsigned.Signature = nil
	_, err = f.orch.Execute(context.Background(), units(1), unsigned)
	require.ErrorIs(t, err, types.ErrBadSignature)

	loose := NewOrchestrator(f.ledger.Client(user), verifier, WithSlippageBps(10_000))
	_, err = loose.Execute(context.Background(), units(1), q)
	require.ErrorIs(t, err, types.ErrInvalidSlippage)
	assert.Equal(t, 0, f.ledger.Allowance(cUSD, user, verifier).Sign(), "nothing is approved for an invalid request")
}

type brokenClient struct {
	approveErr error
	swapErr    error
}

func (c brokenClient) Address() common.Address { return user }

func (c brokenClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return c.approveErr
}

func (c brokenClient) SwapWithProof(ctx context.Context, req *types.SwapRequest) (*types.Settlement, error) {
	return nil, c.swapErr
}

func TestExecuteClassifiesClientErrors(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, 510_000_000)
	cause := errors.New("node unreachable")

	_, err := NewOrchestrator(brokenClient{approveErr: cause}, verifier).Execute(context.Background(), units(1), q)
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)
	require.ErrorIs(t, err, cause)

	_, err = NewOrchestrator(brokenClient{swapErr: cause}, verifier).Execute(context.Background(), units(1), q)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, types.KindUnknown, types.KindOf(err))

	_, err = NewOrchestrator(brokenClient{swapErr: types.ErrInsufficientLiquidity}, verifier).Execute(context.Background(), units(1), q)
	require.ErrorIs(t, err, types.ErrInsufficientLiquidity)
}

func TestSessionSignThenSwap(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.issuer(nil), f.orch)
	ctx := context.Background()

	_, err := s.Swap(ctx, units(1))
	require.ErrorIs(t, err, ErrNoQuote)

	q, err := s.Sign(ctx, cUSD, cREAL, big.NewInt(510_000_000))
	require.NoError(t, err)
	assert.Equal(t, q, s.Quote())

	_, err = s.Swap(ctx, units(100))
	require.NoError(t, err)

	_, err = s.Swap(ctx, units(100))
	require.ErrorIs(t, err, ErrNoQuote, "a spent quote is dropped")
}

func TestSessionRejectsSwapWhileSigning(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	s := NewSession(f.issuer(quote.ApproverFunc(func(ctx context.Context, req *quote.SignRequest) error {
		close(entered)
		<-release
		return nil
	})), f.orch)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Sign(ctx, cUSD, cREAL, big.NewInt(510_000_000))
		done <- err
	}()
	<-entered

	_, err := s.Swap(ctx, units(1))
	require.ErrorIs(t, err, ErrSigningInProgress)
	_, err = s.Sign(ctx, cUSD, cREAL, big.NewInt(510_000_000))
	require.ErrorIs(t, err, ErrSigningInProgress)
	require.ErrorIs(t, s.Load(f.sign(t, 1)), ErrSigningInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = s.Swap(ctx, units(100))
	require.NoError(t, err)
}

func TestSessionRejectedSigningKeepsSessionUsable(t *testing.T) {
	f := newFixture(t)
	var declined bool
	s := NewSession(f.issuer(quote.ApproverFunc(func(ctx context.Context, req *quote.SignRequest) error {
		if !declined {
			declined = true
			return types.ErrSigningRejected
		}
		return nil
	})), f.orch)
	ctx := context.Background()

	_, err := s.Sign(ctx, cUSD, cREAL, big.NewInt(510_000_000))
	require.ErrorIs(t, err, types.ErrSigningRejected)
	assert.Nil(t, s.Quote())

	_, err = s.Sign(ctx, cUSD, cREAL, big.NewInt(510_000_000))
	require.NoError(t, err)
	assert.NotNil(t, s.Quote())
}

func TestSessionKeepsQuoteAfterRecoverableFailure(t *testing.T) {
	f := newFixture(t)
	s := NewSession(nil, f.orch)
	ctx := context.Background()
	require.NoError(t, s.Load(f.sign(t, 510_000_000)))

	_, err := s.Swap(ctx, units(5_000))
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)
	require.NotNil(t, s.Quote())

	_, err = s.Swap(ctx, units(100))
	require.NoError(t, err)

	_, err = s.Sign(ctx, cUSD, cREAL, big.NewInt(1))
	require.Error(t, err)
}

func TestSessionDropsStaleQuote(t *testing.T) {
	f := newFixture(t)
	s := NewSession(nil, f.orch)
	require.NoError(t, s.Load(f.sign(t, 510_000_000)))

	f.at(10 * time.Minute)
	_, err := s.Swap(context.Background(), units(1))
	require.ErrorIs(t, err, types.ErrStaleQuote)
	assert.Nil(t, s.Quote())
}
