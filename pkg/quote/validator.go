package quote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"celofx/pkg/metrics"
	"celofx/pkg/store"
	"celofx/pkg/types"
)

const (
	// FreshnessWindow is the maximum age of a quote at consumption.
	FreshnessWindow = 5 * time.Minute
	// MaxClockSkew bounds how far in the future a quote timestamp may be.
	MaxClockSkew = 30 * time.Second
)

// State is the lifecycle position of a quote as seen by a validator.
type State string

const (
	StateUnverified State = "unverified"
	StateValid      State = "valid"
	StateRejected   State = "rejected"
	StateConsumed   State = "consumed"
	StateExpired    State = "expired"
)

// Validator verifies quotes against one authority and consumes them at most once.
type Validator struct {
	domain    Domain
	authority common.Address
	store     store.ConsumptionStore
	now       func() time.Time
	logger    *zap.Logger
	metrics   metrics.Recorder
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(v *Validator) {
		if m != nil {
			v.metrics = m
		}
	}
}

// NewValidator creates a validator for quotes signed by authority under domain.
func NewValidator(domain Domain, authority common.Address, consumed store.ConsumptionStore, opts ...Option) *Validator {
	v := &Validator{
		domain:    domain,
		authority: authority,
		store:     consumed,
		now:       time.Now,
		logger:    zap.NewNop(),
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Domain returns the commitment domain.
func (v *Validator) Domain() Domain {
	return v.domain
}

// Authority returns the designated signer.
func (v *Validator) Authority() common.Address {
	return v.authority
}

// Store returns the consumption store.
func (v *Validator) Store() store.ConsumptionStore {
	return v.store
}

// Verify checks signature, freshness and prior consumption, in that order,
// and returns the commitment hash of a valid quote.
func (v *Validator) Verify(ctx context.Context, q *types.Quote) (common.Hash, error) {
	hash, err := v.verify(ctx, q)
	v.metrics.QuoteVerified(types.KindOf(err))
	if err != nil {
		v.logger.Debug("quote rejected", zap.String("commitment", hash.Hex()), zap.Error(err))
	}
	return hash, err
}

func (v *Validator) verify(ctx context.Context, q *types.Quote) (common.Hash, error) {
	hash, err := v.verifySignature(q)
	if err != nil {
		return hash, err
	}
	if err := v.checkFresh(q.Timestamp); err != nil {
		return hash, err
	}
	if _, err := v.store.Get(ctx, hash); err == nil {
		return hash, fmt.Errorf("%w: commitment %s", types.ErrQuoteAlreadyUsed, hash.Hex())
	} else if !errors.Is(err, store.ErrNotFound) {
		return hash, fmt.Errorf("failed to read consumption record: %w", err)
	}
	return hash, nil
}

func (v *Validator) verifySignature(q *types.Quote) (common.Hash, error) {
	if q == nil {
		return common.Hash{}, fmt.Errorf("%w: missing quote", types.ErrBadSignature)
	}
	hash, err := v.domain.Hash(q)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrBadSignature, err)
	}
	signer, err := RecoverSigner(hash, q.Signature)
	if err != nil {
		return hash, err
	}
	if signer != v.authority {
		return hash, fmt.Errorf("%w: signed by %s, authority is %s", types.ErrBadSignature, signer.Hex(), v.authority.Hex())
	}
	return hash, nil
}

func (v *Validator) checkFresh(timestamp uint64) error {
	if timestamp > math.MaxInt64 {
		return fmt.Errorf("%w: timestamp %d out of range", types.ErrStaleQuote, timestamp)
	}
	age := v.now().Unix() - int64(timestamp)
	if age > int64(FreshnessWindow/time.Second) {
		return fmt.Errorf("%w: quote is %ds old, window is %s", types.ErrStaleQuote, age, FreshnessWindow)
	}
	if -age > int64(MaxClockSkew/time.Second) {
		return fmt.Errorf("%w: timestamp %ds in the future", types.ErrStaleQuote, -age)
	}
	return nil
}

// Consume verifies q and, if valid, records it as consumed together with
// effect. The record is written only when effect succeeds.
func (v *Validator) Consume(ctx context.Context, q *types.Quote, executor common.Address, effect store.Effect) (*store.Record, error) {
	hash, err := v.Verify(ctx, q)
	if err != nil {
		return nil, err
	}

	rec := &store.Record{
		Key:        hash,
		Signature:  append([]byte(nil), q.Signature...),
		FromToken:  q.FromToken,
		ToToken:    q.ToToken,
		Rate:       q.Rate,
		Timestamp:  q.Timestamp,
		Executor:   executor,
		ConsumedAt: v.now().UTC(),
	}
	stored, err := v.store.SetIfAbsent(ctx, rec, effect)
	if stored && err != nil {
		// The swap settled; only the settlement details are missing.
		v.logger.Warn("consumption recorded without settlement details",
			zap.String("commitment", hash.Hex()), zap.Error(err))
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, fmt.Errorf("%w: commitment %s", types.ErrQuoteAlreadyUsed, hash.Hex())
	}

	v.logger.Info("quote consumed",
		zap.String("commitment", hash.Hex()),
		zap.String("executor", executor.Hex()),
		zap.String("reference", rec.Reference))
	return rec, nil
}

// State reports where q is in its lifecycle. A consumed quote stays
// consumed after its window passes.
func (v *Validator) State(ctx context.Context, q *types.Quote) (State, common.Hash, error) {
	hash, err := v.verifySignature(q)
	if err != nil {
		return StateRejected, hash, err
	}
	if _, err := v.store.Get(ctx, hash); err == nil {
		return StateConsumed, hash, fmt.Errorf("%w: commitment %s", types.ErrQuoteAlreadyUsed, hash.Hex())
	} else if !errors.Is(err, store.ErrNotFound) {
		return StateUnverified, hash, fmt.Errorf("failed to read consumption record: %w", err)
	}
	if err := v.checkFresh(q.Timestamp); err != nil {
		return StateExpired, hash, err
	}
	return StateValid, hash, nil
}
