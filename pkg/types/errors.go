package types

import "errors"

var (
	ErrParse                 = errors.New("parse error")
	ErrSigningRejected       = errors.New("signing rejected")
	ErrBadSignature          = errors.New("bad sig")
	ErrStaleQuote            = errors.New("stale quote")
	ErrQuoteAlreadyUsed      = errors.New("quote used")
	ErrInvalidSlippage       = errors.New("invalid slippage")
	ErrAuthorizationFailed   = errors.New("authorization failed")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrActualOutBelowMinOut  = errors.New("slippage: actual out below min out")
)

// ErrorKind is the stable name of a protocol failure, used in JSON output,
// HTTP responses, metric labels and the journal.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindParse                 ErrorKind = "ParseError"
	KindSigningRejected       ErrorKind = "SigningRejected"
	KindBadSignature          ErrorKind = "BadSignature"
	KindStaleQuote            ErrorKind = "StaleQuote"
	KindQuoteAlreadyUsed      ErrorKind = "QuoteAlreadyUsed"
	KindInvalidSlippage       ErrorKind = "InvalidSlippage"
	KindAuthorizationFailed   ErrorKind = "AuthorizationFailed"
	KindInsufficientLiquidity ErrorKind = "InsufficientLiquidity"
	KindActualOutBelowMinOut  ErrorKind = "ActualOutBelowMinOut"
	KindUnknown               ErrorKind = "Unknown"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrParse, KindParse},
	{ErrSigningRejected, KindSigningRejected},
	{ErrBadSignature, KindBadSignature},
	{ErrStaleQuote, KindStaleQuote},
	{ErrQuoteAlreadyUsed, KindQuoteAlreadyUsed},
	{ErrInvalidSlippage, KindInvalidSlippage},
	{ErrAuthorizationFailed, KindAuthorizationFailed},
	{ErrInsufficientLiquidity, KindInsufficientLiquidity},
	{ErrActualOutBelowMinOut, KindActualOutBelowMinOut},
}

// KindOf classifies err. It returns KindNone for nil and KindUnknown for
// errors outside the protocol taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Recoverable reports whether the quote is left unconsumed by a failure of
// this kind, so the caller may retry it inside the freshness window.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindSigningRejected, KindInsufficientLiquidity, KindAuthorizationFailed, KindActualOutBelowMinOut:
		return true
	}
	return false
}
