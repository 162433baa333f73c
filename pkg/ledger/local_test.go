package ledger

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

const signedAt = 1_700_000_000

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type localFixture struct {
	now    time.Time
	issuer *quote.Issuer
	ledger *Local
}

func newLocalFixture(t *testing.T, opts ...LocalOption) *localFixture {
	t.Helper()
	return newLocalFixtureWithReserve(t, units(10_000), opts...)
}

func newLocalFixtureWithReserve(t *testing.T, reserve *big.Int, opts ...LocalOption) *localFixture {
	t.Helper()
	return newLocalFixtureWithStore(t, reserve, store.NewMemory(), opts...)
}

func newLocalFixtureWithStore(t *testing.T, reserve *big.Int, consumed store.ConsumptionStore, opts ...LocalOption) *localFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &localFixture{now: time.Unix(signedAt, 0)}
	clock := func() time.Time { return f.now }
	domain := quote.NewDomain(alfajores, verifier)

	validator := quote.NewValidator(domain, crypto.PubkeyToAddress(key.PublicKey), consumed, quote.WithClock(clock))
	f.issuer = quote.NewIssuer(domain, quote.NewKeySigner(key, nil), quote.WithIssuerClock(clock))
	f.ledger, err = NewLocal(validator, append(opts, WithLedgerClock(clock))...)
	require.NoError(t, err)

	f.ledger.Mint(cUSD, user, units(1_000))
	f.ledger.Mint(cREAL, verifier, reserve)
	return f
}

func (f *localFixture) issue(t *testing.T, rate int64) *types.Quote {
	t.Helper()
	q, err := f.issuer.Issue(context.Background(), cUSD, cREAL, big.NewInt(rate))
	require.NoError(t, err)
	return q
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func TestLocalSwapSettles(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	q := f.issue(t, 510_000_000)
	account := f.ledger.Client(user)

	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(100)))
	settlement, err := account.SwapWithProof(ctx, &types.SwapRequest{
		AmountIn: units(100),
		MinOut:   mustBig(t, "507450000000000000000"),
		Quote:    q,
		Executor: user,
	})
	require.NoError(t, err)

	assert.Equal(t, units(510), settlement.AmountOut)
	assert.NotEmpty(t, settlement.Reference)
	assert.Equal(t, user, settlement.Executor)
	assert.Equal(t, units(900), f.ledger.Balance(cUSD, user))
	assert.Equal(t, units(510), f.ledger.Balance(cREAL, user))
	assert.Equal(t, units(100), f.ledger.Reserve(cUSD))
	assert.Equal(t, units(10_000-510), f.ledger.Reserve(cREAL))
	assert.Equal(t, 0, f.ledger.Allowance(cUSD, user, verifier).Sign())

	hash, err := f.ledger.Validator().Domain().Hash(q)
	require.NoError(t, err)
	assert.Equal(t, hash, settlement.QuoteHash)
	rec, err := f.ledger.Validator().Store().Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, settlement.Reference, rec.Reference)
	assert.Equal(t, units(510), rec.AmountOut)
}

func TestLocalSwapReplay(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	q := f.issue(t, 510_000_000)
	account := f.ledger.Client(user)

	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(200)))
	req := &types.SwapRequest{AmountIn: units(100), MinOut: big.NewInt(0), Quote: q, Executor: user}
	_, err := account.SwapWithProof(ctx, req)
	require.NoError(t, err)

	_, err = account.SwapWithProof(ctx, req)
	require.ErrorIs(t, err, types.ErrQuoteAlreadyUsed)
	assert.Equal(t, units(900), f.ledger.Balance(cUSD, user))
}

func TestLocalSwapPaysExecutor(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	account := f.ledger.Client(user)

	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(10)))
	_, err := account.SwapWithProof(ctx, &types.SwapRequest{
		AmountIn: units(10), MinOut: big.NewInt(0), Quote: f.issue(t, 200_000_000), Executor: recipient,
	})
	require.NoError(t, err)

	assert.Equal(t, units(20), f.ledger.Balance(cREAL, recipient))
	assert.Equal(t, 0, f.ledger.Balance(cREAL, user).Sign())
}

func TestLocalSwapFailuresLeaveQuoteUsable(t *testing.T) {
	tests := []struct {
		name    string
		opts    []LocalOption
		reserve *big.Int
		approve *big.Int
		amount  *big.Int
		minOut  string
		wantErr error
	}{
		{
			name:    "no allowance",
			approve: big.NewInt(0),
			amount:  units(100),
			minOut:  "0",
			wantErr: types.ErrAuthorizationFailed,
		},
		{
			name:    "pool too small",
			reserve: units(500),
			approve: units(100),
			amount:  units(100),
			minOut:  "0",
			wantErr: types.ErrInsufficientLiquidity,
		},
		{
			name:    "settlement rate moved",
			opts:    []LocalOption{WithSettlementRate(func(*types.Quote) *big.Int { return big.NewInt(500_000_000) })},
			approve: units(100),
			amount:  units(100),
			minOut:  "507450000000000000000",
			wantErr: types.ErrActualOutBelowMinOut,
		},
		{
			name:    "fee eats the margin",
			opts:    []LocalOption{WithFeeBps(100)},
			approve: units(100),
			amount:  units(100),
			minOut:  "507450000000000000000",
			wantErr: types.ErrActualOutBelowMinOut,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reserve := tt.reserve
			if reserve == nil {
				reserve = units(10_000)
			}
			f := newLocalFixtureWithReserve(t, reserve, tt.opts...)
			ctx := context.Background()
			q := f.issue(t, 510_000_000)
			account := f.ledger.Client(user)

			require.NoError(t, account.Approve(ctx, cUSD, verifier, tt.approve))
			_, err := account.SwapWithProof(ctx, &types.SwapRequest{
				AmountIn: tt.amount, MinOut: mustBig(t, tt.minOut), Quote: q, Executor: user,
			})
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, types.KindOf(err).Recoverable())

			assert.Equal(t, units(1_000), f.ledger.Balance(cUSD, user))
			assert.Equal(t, reserve, f.ledger.Reserve(cREAL))
			_, err = f.ledger.Validator().Verify(ctx, q)
			require.NoError(t, err)
		})
	}
}

func TestLocalSwapSettlementRateWithinTolerance(t *testing.T) {
	f := newLocalFixture(t, WithSettlementRate(func(*types.Quote) *big.Int { return big.NewInt(508_000_000) }))
	ctx := context.Background()
	account := f.ledger.Client(user)

	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(100)))
	settlement, err := account.SwapWithProof(ctx, &types.SwapRequest{
		AmountIn: units(100), MinOut: mustBig(t, "507450000000000000000"), Quote: f.issue(t, 510_000_000), Executor: user,
	})
	require.NoError(t, err)
	assert.Equal(t, units(508), settlement.AmountOut)
}

func TestLocalSwapStale(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	q := f.issue(t, 510_000_000)
	account := f.ledger.Client(user)
	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(100)))

	f.now = f.now.Add(310 * time.Second)
	_, err := account.SwapWithProof(ctx, &types.SwapRequest{AmountIn: units(100), MinOut: big.NewInt(0), Quote: q})
	require.ErrorIs(t, err, types.ErrStaleQuote)
	assert.Equal(t, units(1_000), f.ledger.Balance(cUSD, user))
}

func TestLocalApprove(t *testing.T) {
	f := newLocalFixture(t)
	account := f.ledger.Client(user)

	err := account.Approve(context.Background(), cUSD, verifier, units(1_001))
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)

	err = account.Approve(context.Background(), cUSD, verifier, big.NewInt(-1))
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = account.Approve(ctx, cUSD, verifier, units(1))
	require.ErrorIs(t, err, types.ErrAuthorizationFailed)
}

func TestLocalSwapRejectsBadRequest(t *testing.T) {
	f := newLocalFixture(t)
	account := f.ledger.Client(user)

	_, err := account.SwapWithProof(context.Background(), &types.SwapRequest{AmountIn: big.NewInt(0), MinOut: big.NewInt(0), Quote: f.issue(t, 1)})
	require.ErrorIs(t, err, types.ErrParse)

	_, err = account.SwapWithProof(context.Background(), &types.SwapRequest{AmountIn: big.NewInt(1), MinOut: big.NewInt(0)})
	require.ErrorIs(t, err, types.ErrBadSignature)
}

func TestNewLocalRejectsFee(t *testing.T) {
	validator := quote.NewValidator(quote.NewDomain(alfajores, verifier), user, store.NewMemory())
	_, err := NewLocal(validator, WithFeeBps(10_000))
	require.Error(t, err)

	_, err = NewLocal(nil)
	require.Error(t, err)
}

func TestLocalSwapCancelledDuringSettlementSpendsOnce(t *testing.T) {
	consumed, err := store.OpenSQLite(filepath.Join(t.TempDir(), "consumed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { consumed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOnSettle := WithSettlementRate(func(q *types.Quote) *big.Int {
		cancel()
		return q.Rate
	})
	f := newLocalFixtureWithStore(t, units(10_000), consumed, cancelOnSettle)
	q := f.issue(t, 510_000_000)
	account := f.ledger.Client(user)
	require.NoError(t, account.Approve(context.Background(), cUSD, verifier, units(200)))

	req := &types.SwapRequest{AmountIn: units(100), MinOut: big.NewInt(0), Quote: q, Executor: user}
	settlement, err := account.SwapWithProof(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, units(510), settlement.AmountOut)

	rec, err := consumed.Get(context.Background(), settlement.QuoteHash)
	require.NoError(t, err)
	assert.Equal(t, settlement.Reference, rec.Reference)

	_, err = account.SwapWithProof(context.Background(), req)
	require.ErrorIs(t, err, types.ErrQuoteAlreadyUsed)
	assert.Equal(t, units(510), f.ledger.Balance(cREAL, user))
	assert.Equal(t, units(900), f.ledger.Balance(cUSD, user))
}

// lostClaimStore runs the effect and then reports the record as not written.
type lostClaimStore struct {
	store.ConsumptionStore
}

var errDiskFull = errors.New("disk full")

func (s lostClaimStore) SetIfAbsent(ctx context.Context, rec *store.Record, effect store.Effect) (bool, error) {
	if err := effect(ctx, rec); err != nil {
		return false, err
	}
	return false, errDiskFull
}

func TestLocalSwapUndoneWhenRecordLost(t *testing.T) {
	f := newLocalFixtureWithStore(t, units(10_000), lostClaimStore{store.NewMemory()})
	ctx := context.Background()
	q := f.issue(t, 510_000_000)
	account := f.ledger.Client(user)
	require.NoError(t, account.Approve(ctx, cUSD, verifier, units(100)))

	_, err := account.SwapWithProof(ctx, &types.SwapRequest{AmountIn: units(100), MinOut: big.NewInt(0), Quote: q, Executor: recipient})
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, units(1_000), f.ledger.Balance(cUSD, user))
	assert.Equal(t, 0, f.ledger.Balance(cREAL, recipient).Sign())
	assert.Equal(t, 0, f.ledger.Reserve(cUSD).Sign())
	assert.Equal(t, units(10_000), f.ledger.Reserve(cREAL))
	assert.Equal(t, units(100), f.ledger.Allowance(cUSD, user, verifier))
}
