package quote

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celofx/pkg/types"
)

// foreignSigner claims one address but signs with another key.
type foreignSigner struct {
	claimed common.Address
	inner   *KeySigner
}

func (s foreignSigner) Address() common.Address { return s.claimed }

func (s foreignSigner) SignHash(ctx context.Context, req *SignRequest) ([]byte, error) {
	return s.inner.SignHash(ctx, req)
}

func TestIssueProducesVerifiableQuote(t *testing.T) {
	f := newFixture(t)
	issuer := NewIssuer(f.domain, NewKeySigner(f.authority, nil), WithIssuerClock(f.clock.Now))

	q, err := issuer.Issue(context.Background(), cUSD, cREAL, big.NewInt(510_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(signedAt), q.Timestamp)
	assert.True(t, q.IsSigned())

	_, err = f.validator.Verify(context.Background(), q)
	require.NoError(t, err)
}

func TestIssueRejected(t *testing.T) {
	f := newFixture(t)
	signer := NewKeySigner(f.authority, ApproverFunc(func(ctx context.Context, req *SignRequest) error {
		return types.ErrSigningRejected
	}))
	issuer := NewIssuer(f.domain, signer, WithIssuerClock(f.clock.Now))

	q, err := issuer.Issue(context.Background(), cUSD, cREAL, big.NewInt(510_000_000))
	require.ErrorIs(t, err, types.ErrSigningRejected)
	assert.Nil(t, q)
}

func TestIssueValidatesInput(t *testing.T) {
	f := newFixture(t)
	issuer := NewIssuer(f.domain, NewKeySigner(f.authority, nil))

	_, err := issuer.Issue(context.Background(), cUSD, cREAL, big.NewInt(0))
	require.ErrorIs(t, err, types.ErrParse)

	_, err = issuer.Issue(context.Background(), cUSD, cUSD, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrParse)
}

func TestIssueDetectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	signer := foreignSigner{
		claimed: crypto.PubkeyToAddress(f.authority.PublicKey),
		inner:   NewKeySigner(mustKey(t), nil),
	}
	issuer := NewIssuer(f.domain, signer, WithIssuerClock(func() time.Time { return time.Unix(signedAt, 0) }))

	_, err := issuer.Issue(context.Background(), cUSD, cREAL, big.NewInt(510_000_000))
	require.ErrorIs(t, err, types.ErrBadSignature)
}
