package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature.
const SignatureLength = 65

// Quote is a signed rate commitment. It must not be mutated once signed.
type Quote struct {
	FromToken common.Address
	ToToken   common.Address
	// Rate is toToken units per fromToken unit with 8 fractional digits.
	Rate      *big.Int
	Timestamp uint64
	Signature []byte
}

// IsSigned reports whether the quote carries a signature of the expected size.
func (q *Quote) IsSigned() bool {
	return q != nil && len(q.Signature) == SignatureLength
}

// Copy returns a deep copy so callers can hand quotes across goroutines.
func (q *Quote) Copy() *Quote {
	if q == nil {
		return nil
	}
	cp := *q
	if q.Rate != nil {
		cp.Rate = new(big.Int).Set(q.Rate)
	}
	cp.Signature = append([]byte(nil), q.Signature...)
	return &cp
}

type quoteJSON struct {
	FromToken string        `json:"fromToken"`
	ToToken   string        `json:"toToken"`
	Rate      string        `json:"rate"`
	Timestamp uint64        `json:"timestamp"`
	Signature hexutil.Bytes `json:"signature"`
}

// MarshalJSON renders the display form of the quote.
func (q Quote) MarshalJSON() ([]byte, error) {
	rate := "0"
	if q.Rate != nil {
		rate = q.Rate.String()
	}
	return json.Marshal(quoteJSON{
		FromToken: q.FromToken.Hex(),
		ToToken:   q.ToToken.Hex(),
		Rate:      rate,
		Timestamp: q.Timestamp,
		Signature: q.Signature,
	})
}

// UnmarshalJSON decodes and validates the display form of the quote.
func (q *Quote) UnmarshalJSON(data []byte) error {
	var raw quoteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: quote: %v", ErrParse, err)
	}
	if !common.IsHexAddress(raw.FromToken) {
		return fmt.Errorf("%w: quote: invalid fromToken %q", ErrParse, raw.FromToken)
	}
	if !common.IsHexAddress(raw.ToToken) {
		return fmt.Errorf("%w: quote: invalid toToken %q", ErrParse, raw.ToToken)
	}
	rate, ok := new(big.Int).SetString(raw.Rate, 10)
	if !ok || rate.Sign() <= 0 {
		return fmt.Errorf("%w: quote: rate must be a positive integer, got %q", ErrParse, raw.Rate)
	}
	if len(raw.Signature) != SignatureLength {
		return fmt.Errorf("%w: quote: signature must be %d bytes, got %d", ErrParse, SignatureLength, len(raw.Signature))
	}
	*q = Quote{
		FromToken: common.HexToAddress(raw.FromToken),
		ToToken:   common.HexToAddress(raw.ToToken),
		Rate:      rate,
		Timestamp: raw.Timestamp,
		Signature: []byte(raw.Signature),
	}
	return nil
}
