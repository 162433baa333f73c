package journal

import (
	"time"

	"celofx/pkg/types"
)

// EntryKind distinguishes issued quotes from swap attempts
type EntryKind string

const (
	KindQuote EntryKind = "quote" // A quote was requested from the signer
	KindSwap  EntryKind = "swap"  // A swap was attempted
)

// EntryStatus is the outcome recorded for an entry
type EntryStatus string

const (
	StatusSigned   EntryStatus = "signed"   // Quote signed by the authority
	StatusRejected EntryStatus = "rejected" // Signer declined or failed
	StatusSettled  EntryStatus = "settled"  // Swap settled on the ledger
	StatusFailed   EntryStatus = "failed"   // Swap did not settle
)

// Entry is one line of history
type Entry struct {
	ID         string       `json:"id"`
	Kind       EntryKind    `json:"kind"`
	Status     EntryStatus  `json:"status"`
	Created    time.Time    `json:"created"`
	Commitment string       `json:"commitment,omitempty"`
	Quote      *types.Quote `json:"quote,omitempty"`

	// Swap details, amounts in 18-decimal fixed point
	Amount    string `json:"amount,omitempty"`
	MinOut    string `json:"min_out,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
	Reference string `json:"reference,omitempty"`

	ErrorKind types.ErrorKind `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}
