package quote

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

	"celofx/pkg/store"
	"celofx/pkg/types"
)

const signedAt = 1_700_000_000

var executor = common.HexToAddress("0x00000000000000000000000000000000000000ee")

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newUnsignedQuote(ts uint64) *types.Quote {
	return &types.Quote{
		FromToken: cUSD,
		ToToken:   cREAL,
		Rate:      big.NewInt(510_000_000),
		Timestamp: ts,
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	domain    Domain
	authority *ecdsa.PrivateKey
	clock     *clock
	store     *store.Memory
	validator *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		domain:    NewDomain(alfajores, verifier),
		authority: mustKey(t),
		clock:     &clock{now: time.Unix(signedAt, 0)},
		store:     store.NewMemory(),
	}
	f.validator = NewValidator(f.domain, crypto.PubkeyToAddress(f.authority.PublicKey), f.store, WithClock(f.clock.Now))
	return f
}

func (f *fixture) sign(t *testing.T, q *types.Quote) *types.Quote {
	t.Helper()
	return signWith(t, f.domain, f.authority, q)
}

func signWith(t *testing.T, d Domain, key *ecdsa.PrivateKey, q *types.Quote) *types.Quote {
	t.Helper()
	hash, err := d.Hash(q)
	require.NoError(t, err)
	sig, err := SignPersonal(key, hash)
	require.NoError(t, err)
	signed := q.Copy()
	signed.Signature = sig
	return signed
}

func (f *fixture) at(offset time.Duration) {
	f.clock.Set(time.Unix(signedAt, 0).Add(offset))
}

func TestVerifyValidQuote(t *testing.T) {
	f := newFixture(t)
	q := f.sign(t, newUnsignedQuote(signedAt))

	hash, err := f.validator.Verify(context.Background(), q)
	require.NoError(t, err)
	want, _ := f.domain.Hash(q)
	assert.Equal(t, want, hash)
}

func TestVerifyBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))

	for i := 0; i < len(q.Signature)*8; i += 7 {
		flipped := q.Copy()
		flipped.Signature[i/8] ^= 1 << (i % 8)
		_, err := f.validator.Verify(ctx, flipped)
		require.ErrorIs(t, err, types.ErrBadSignature, "bit %d", i)
	}

	mutations := map[string]func(q *types.Quote){
		"rate":      func(q *types.Quote) { q.Rate = big.NewInt(520_000_000) },
		"from":      func(q *types.Quote) { q.FromToken = cREAL },
		"to":        func(q *types.Quote) { q.ToToken = cUSD },
		"timestamp": func(q *types.Quote) { q.Timestamp-- },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := q.Copy()
			mutate(tampered)
			_, err := f.validator.Verify(ctx, tampered)
			require.ErrorIs(t, err, types.ErrBadSignature)
		})
	}

	t.Run("other signer", func(t *testing.T) {
		forged := signWith(t, f.domain, mustKey(t), newUnsignedQuote(signedAt))
		_, err := f.validator.Verify(ctx, forged)
		require.ErrorIs(t, err, types.ErrBadSignature)
	})

	t.Run("other chain", func(t *testing.T) {
		mainnet := NewDomain(big.NewInt(42220), verifier)
		replayed := signWith(t, mainnet, f.authority, newUnsignedQuote(signedAt))
		_, err := f.validator.Verify(ctx, replayed)
		require.ErrorIs(t, err, types.ErrBadSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := f.validator.Verify(ctx, newUnsignedQuote(signedAt))
		require.ErrorIs(t, err, types.ErrBadSignature)
	})
}

func TestVerifyFreshnessBoundary(t *testing.T) {
	tests := []struct {
		offset  time.Duration
		wantErr bool
	}{
		{0, false},
		{299 * time.Second, false},
		{300 * time.Second, false},
		{301 * time.Second, true},
		{310 * time.Second, true},
		{-30 * time.Second, false},
		{-31 * time.Second, true},
	}
	for _, tt := range tests {
		f := newFixture(t)
		q := f.sign(t, newUnsignedQuote(signedAt))
		f.at(tt.offset)

		_, err := f.validator.Verify(context.Background(), q)
		if tt.wantErr {
			require.ErrorIs(t, err, types.ErrStaleQuote, "offset %s", tt.offset)
		} else {
			require.NoError(t, err, "offset %s", tt.offset)
		}
	}
}

func TestVerifyCheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))

	_, err := f.validator.Consume(ctx, q, executor, nil)
	require.NoError(t, err)

	f.at(10 * time.Minute)
	_, err = f.validator.Verify(ctx, q)
	require.ErrorIs(t, err, types.ErrStaleQuote, "freshness is checked before consumption")

	bad := q.Copy()
	bad.Signature[10] ^= 0xff
	_, err = f.validator.Verify(ctx, bad)
	require.ErrorIs(t, err, types.ErrBadSignature, "signature is checked first")
}

func TestConsumeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))
	f.at(100 * time.Second)

	rec, err := f.validator.Consume(ctx, q, executor, func(ctx context.Context, r *store.Record) error {
		r.Reference = "settled"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, executor, rec.Executor)
	assert.Equal(t, "settled", rec.Reference)

	_, err = f.validator.Consume(ctx, q.Copy(), executor, nil)
	require.ErrorIs(t, err, types.ErrQuoteAlreadyUsed)

	_, err = f.validator.Verify(ctx, q)
	require.ErrorIs(t, err, types.ErrQuoteAlreadyUsed)
}

func TestConsumeEffectFailureKeepsQuoteUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))

	_, err := f.validator.Consume(ctx, q, executor, func(ctx context.Context, r *store.Record) error {
		return types.ErrInsufficientLiquidity
	})
	require.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	_, err = f.validator.Verify(ctx, q)
	require.NoError(t, err)

	_, err = f.validator.Consume(ctx, q, executor, nil)
	require.NoError(t, err)
}

func TestConsumeConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))

	const attempts = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		used    int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.validator.Consume(ctx, q.Copy(), executor, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, types.ErrQuoteAlreadyUsed):
				used++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, attempts-1, used)
}

func TestState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.sign(t, newUnsignedQuote(signedAt))

	state, _, err := f.validator.State(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, StateValid, state)

	bad := q.Copy()
	bad.Rate = big.NewInt(1)
	state, _, err = f.validator.State(ctx, bad)
	require.ErrorIs(t, err, types.ErrBadSignature)
	assert.Equal(t, StateRejected, state)

	f.at(301 * time.Second)
	state, _, _ = f.validator.State(ctx, q)
	assert.Equal(t, StateExpired, state)

	f.at(time.Second)
	_, err = f.validator.Consume(ctx, q, executor, nil)
	require.NoError(t, err)
	f.at(time.Hour)
	state, _, _ = f.validator.State(ctx, q)
	assert.Equal(t, StateConsumed, state)
}
