package quote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"celofx/pkg/metrics"
	"celofx/pkg/types"
)

// Issuer turns a fixed-point rate into a signed quote.
type Issuer struct {
	domain  Domain
	signer  Signer
	now     func() time.Time
	logger  *zap.Logger
	metrics metrics.Recorder
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source used for quote timestamps.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithIssuerLogger sets the logger.
func WithIssuerLogger(logger *zap.Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithIssuerMetrics sets the metrics recorder.
func WithIssuerMetrics(m metrics.Recorder) IssuerOption {
	return func(i *Issuer) {
		if m != nil {
			i.metrics = m
		}
	}
}

// NewIssuer creates an issuer signing under domain with signer.
func NewIssuer(domain Domain, signer Signer, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		domain:  domain,
		signer:  signer,
		now:     time.Now,
		logger:  zap.NewNop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Domain returns the domain quotes are signed under.
func (i *Issuer) Domain() Domain {
	return i.domain
}

// Signer returns the signer used by the issuer.
func (i *Issuer) Signer() Signer {
	return i.signer
}

// Issue stamps, hashes and signs a quote for the pair at rate (8 decimals).
// A declined or cancelled signature returns types.ErrSigningRejected.
func (i *Issuer) Issue(ctx context.Context, from, to common.Address, rate *big.Int) (*types.Quote, error) {
	q, err := i.issue(ctx, from, to, rate)
	i.metrics.QuoteIssued(types.KindOf(err))
	return q, err
}

func (i *Issuer) issue(ctx context.Context, from, to common.Address, rate *big.Int) (*types.Quote, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate must be greater than 0", types.ErrParse)
	}
	if from == to {
		return nil, fmt.Errorf("%w: from and to tokens are the same", types.ErrParse)
	}

	q := &types.Quote{
		FromToken: from,
		ToToken:   to,
		Rate:      new(big.Int).Set(rate),
		Timestamp: uint64(i.now().Unix()),
	}
	hash, err := i.domain.Hash(q)
	if err != nil {
		return nil, err
	}

	sig, err := i.signer.SignHash(ctx, &SignRequest{
		Hash:     hash,
		Quote:    q.Copy(),
		ChainID:  i.domain.ChainID,
		Verifier: i.domain.Verifier,
	})
	if err != nil {
		i.logger.Info("quote signing did not complete", zap.String("commitment", hash.Hex()), zap.Error(err))
		return nil, err
	}

	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("signer returned an unusable signature: %w", err)
	}
	if signer != i.signer.Address() {
		return nil, fmt.Errorf("%w: signer returned a signature from %s, expected %s", types.ErrBadSignature, signer.Hex(), i.signer.Address().Hex())
	}

	q.Signature = sig
	i.logger.Info("quote signed",
		zap.String("commitment", hash.Hex()),
		zap.String("rate", q.Rate.String()),
		zap.Uint64("timestamp", q.Timestamp))
	return q, nil
}
