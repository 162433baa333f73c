package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"celofx/pkg/quote"
	"celofx/pkg/types"
)

var (
	// ErrSigningInProgress is returned while a signature request is outstanding.
	ErrSigningInProgress = errors.New("signing in progress")
	// ErrNoQuote is returned by Swap before a quote has been signed or loaded.
	ErrNoQuote = errors.New("no signed quote")
)

// Session holds at most one live quote and sequences signing before swapping.
type Session struct {
	issuer       *quote.Issuer
	orchestrator *Orchestrator

	mu      sync.Mutex
	signing bool
	current *types.Quote
}

// NewSession creates a session. issuer may be nil when quotes are only loaded.
func NewSession(issuer *quote.Issuer, orchestrator *Orchestrator) *Session {
	return &Session{issuer: issuer, orchestrator: orchestrator}
}

// Sign issues a quote for the pair and keeps it for the next Swap. A
// rejected signature leaves the previous quote in place.
func (s *Session) Sign(ctx context.Context, from, to common.Address, rate *big.Int) (*types.Quote, error) {
	if s.issuer == nil {
		return nil, errors.New("session has no signer")
	}

	s.mu.Lock()
	if s.signing {
		s.mu.Unlock()
		return nil, ErrSigningInProgress
	}
	s.signing = true
	s.mu.Unlock()

	q, err := s.issuer.Issue(ctx, from, to, rate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signing = false
	if err != nil {
		return nil, err
	}
	s.current = q
	return q.Copy(), nil
}

// Load replaces the live quote with one signed elsewhere.
func (s *Session) Load(q *types.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signing {
		return ErrSigningInProgress
	}
	s.current = q.Copy()
	return nil
}

// Quote returns a copy of the live quote, or nil.
func (s *Session) Quote() *types.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Copy()
}

// Swap executes the live quote. The quote is dropped once it is spent or can
// no longer be spent; recoverable failures keep it for a retry.
func (s *Session) Swap(ctx context.Context, amountIn *big.Int) (*types.Settlement, error) {
	s.mu.Lock()
	if s.signing {
		s.mu.Unlock()
		return nil, ErrSigningInProgress
	}
	q := s.current
	s.mu.Unlock()

	if q == nil {
		return nil, ErrNoQuote
	}

	settlement, err := s.orchestrator.Execute(ctx, amountIn, q)
	switch types.KindOf(err) {
	case types.KindNone, types.KindBadSignature, types.KindStaleQuote, types.KindQuoteAlreadyUsed:
		s.mu.Lock()
		if s.current == q {
			s.current = nil
		}
		s.mu.Unlock()
	}
	return settlement, err
}
