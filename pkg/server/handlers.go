package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"celofx/pkg/fixedpoint"
	"celofx/pkg/parser"
	"celofx/pkg/quote"
	"celofx/pkg/store"
	"celofx/pkg/swap"
	"celofx/pkg/types"
)

type errorResponse struct {
	Error string          `json:"error"`
	Kind  types.ErrorKind `json:"kind,omitempty"`
}

type verifyResponse struct {
	State      quote.State     `json:"state"`
	Commitment string          `json:"commitment,omitempty"`
	Kind       types.ErrorKind `json:"kind,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type recordResponse struct {
	Commitment string        `json:"commitment"`
	Signature  hexutil.Bytes `json:"signature"`
	FromToken  string        `json:"fromToken"`
	ToToken    string        `json:"toToken"`
	Rate       string        `json:"rate"`
	Timestamp  uint64        `json:"timestamp"`
	Executor   string        `json:"executor"`
	AmountIn   string        `json:"amountIn,omitempty"`
	AmountOut  string        `json:"amountOut,omitempty"`
	Reference  string        `json:"reference,omitempty"`
	ConsumedAt time.Time     `json:"consumedAt"`
}

type swapRequest struct {
	Quote       *types.Quote `json:"quote"`
	AmountIn    string       `json:"amountIn"`
	Executor    string       `json:"executor"`
	SlippageBps *uint64      `json:"slippageBps,omitempty"`
}

type swapResponse struct {
	Reference  string    `json:"reference"`
	Commitment string    `json:"commitment"`
	Executor   string    `json:"executor"`
	AmountIn   string    `json:"amountIn"`
	MinOut     string    `json:"minOut"`
	AmountOut  string    `json:"amountOut"`
	SettledAt  time.Time `json:"settledAt"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindParse, types.KindInvalidSlippage:
		return http.StatusBadRequest
	case types.KindBadSignature, types.KindStaleQuote, types.KindActualOutBelowMinOut:
		return http.StatusUnprocessableEntity
	case types.KindQuoteAlreadyUsed:
		return http.StatusConflict
	case types.KindAuthorizationFailed:
		return http.StatusForbidden
	case types.KindInsufficientLiquidity:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	s.writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Kind: kind})
}

// Health reports the chain binding of the ledger.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	v := s.ledger.Validator()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"chainId":   v.Domain().ChainID.String(),
		"verifier":  v.Domain().Verifier.Hex(),
		"authority": v.Authority().Hex(),
	})
}

// VerifyQuote reports the state of a quote without consuming it.
func (s *Server) VerifyQuote(w http.ResponseWriter, r *http.Request) {
	var q types.Quote
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		if !errors.Is(err, types.ErrParse) {
			err = fmt.Errorf("%w: %v", types.ErrParse, err)
		}
		s.writeError(w, err)
		return
	}

	state, hash, err := s.ledger.Validator().State(r.Context(), &q)
	resp := verifyResponse{State: state, Kind: types.KindOf(err)}
	if hash != (common.Hash{}) {
		resp.Commitment = hash.Hex()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GetConsumption returns the consumption record for a commitment hash.
func (s *Server) GetConsumption(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		s.writeError(w, fmt.Errorf("%w: invalid commitment hash %q", types.ErrParse, raw))
		return
	}

	rec, err := s.ledger.Validator().Store().Get(r.Context(), common.BytesToHash(decoded))
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "commitment not consumed"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, recordResponse{
		Commitment: rec.Key.Hex(),
		Signature:  rec.Signature,
		FromToken:  rec.FromToken.Hex(),
		ToToken:    rec.ToToken.Hex(),
		Rate:       bigString(rec.Rate),
		Timestamp:  rec.Timestamp,
		Executor:   rec.Executor.Hex(),
		AmountIn:   bigString(rec.AmountIn),
		AmountOut:  bigString(rec.AmountOut),
		Reference:  rec.Reference,
		ConsumedAt: rec.ConsumedAt,
	})
}

// Swap approves and swaps on behalf of the executor against the local ledger.
//
// The caller is not authenticated: any client may name any executor, and the
// server spends that executor's local balance. The output always goes back to
// the named executor. This is a demo service over an in-process ledger; do
// not expose it where executor balances are real.
func (s *Server) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if !errors.Is(err, types.ErrParse) {
			err = fmt.Errorf("%w: %v", types.ErrParse, err)
		}
		s.writeError(w, err)
		return
	}
	if req.Quote == nil {
		s.writeError(w, fmt.Errorf("%w: quote is required", types.ErrParse))
		return
	}
	if !common.IsHexAddress(req.Executor) {
		s.writeError(w, fmt.Errorf("%w: invalid executor %q", types.ErrParse, req.Executor))
		return
	}
	amountIn, err := parser.ValidateAmount(req.AmountIn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	bps := s.slippageBps
	if req.SlippageBps != nil {
		bps = *req.SlippageBps
	}

	executor := common.HexToAddress(req.Executor)
	s.fund(executor)

	orchestrator := swap.NewOrchestrator(s.ledger.Client(executor), s.ledger.Verifier(),
		swap.WithSlippageBps(bps),
		swap.WithLogger(s.logger),
		swap.WithMetrics(s.metrics))
	settlement, err := orchestrator.Execute(r.Context(), amountIn, req.Quote)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, swapResponse{
		Reference:  settlement.Reference,
		Commitment: settlement.QuoteHash.Hex(),
		Executor:   settlement.Executor.Hex(),
		AmountIn:   fixedpoint.FormatAmount(settlement.AmountIn),
		MinOut:     fixedpoint.FormatAmount(settlement.MinOut),
		AmountOut:  fixedpoint.FormatAmount(settlement.AmountOut),
		SettledAt:  settlement.SettledAt,
	})
}
