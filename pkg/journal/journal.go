// Package journal keeps a local history of issued quotes and swap attempts.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"celofx/pkg/types"
)

const (
	DefaultFileName = ".celofx-journal.json"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("journal: entry not found")

// Journal is an append-only JSON history file
type Journal struct {
	filePath string
	now      func() time.Time
	mu       sync.RWMutex
	entries  []*Entry
}

type journalFile struct {
	Entries []*Entry `json:"entries"`
}

// Open loads the journal at filePath, defaulting to the home directory. A
// missing file is created on first append.
func Open(filePath string) (*Journal, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	j := &Journal{filePath: filePath, now: time.Now}
	if err := j.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}
	return j, nil
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.filePath)
	if err != nil {
		return err
	}

	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	j.entries = file.Entries
	return nil
}

// save must be called with j.mu held.
func (j *Journal) save() error {
	data, err := json.MarshalIndent(journalFile{Entries: j.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := j.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tempFile, j.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Append stores entry, assigning an ID and timestamp when missing.
func (j *Journal) Append(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Created.IsZero() {
		entry.Created = j.now().UTC()
	}

	j.entries = append(j.entries, entry)
	if err := j.save(); err != nil {
		j.entries = j.entries[:len(j.entries)-1]
		return err
	}
	return nil
}

// RecordQuote appends the outcome of a signing request.
func (j *Journal) RecordQuote(q *types.Quote, commitment common.Hash, signErr error) (*Entry, error) {
	entry := &Entry{
		Kind:   KindQuote,
		Status: StatusSigned,
		Quote:  q.Copy(),
	}
	if commitment != (common.Hash{}) {
		entry.Commitment = commitment.Hex()
	}
	if signErr != nil {
		entry.Status = StatusRejected
		entry.ErrorKind = types.KindOf(signErr)
		entry.Error = signErr.Error()
	}
	return entry, j.Append(entry)
}

// RecordSwap appends the outcome of a swap attempt.
func (j *Journal) RecordSwap(amountIn *big.Int, q *types.Quote, settlement *types.Settlement, swapErr error) (*Entry, error) {
	entry := &Entry{
		Kind:   KindSwap,
		Status: StatusSettled,
		Quote:  q.Copy(),
	}
	if amountIn != nil {
		entry.Amount = amountIn.String()
	}
	if settlement != nil {
		entry.Commitment = settlement.QuoteHash.Hex()
		entry.Reference = settlement.Reference
		if settlement.MinOut != nil {
			entry.MinOut = settlement.MinOut.String()
		}
		if settlement.AmountOut != nil {
			entry.AmountOut = settlement.AmountOut.String()
		}
	}
	if swapErr != nil {
		entry.Status = StatusFailed
		entry.ErrorKind = types.KindOf(swapErr)
		entry.Error = swapErr.Error()
	}
	return entry, j.Append(entry)
}

// List returns entries oldest first. An empty kind returns every entry.
func (j *Journal) List(kind EntryKind) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := make([]*Entry, 0, len(j.entries))
	for _, e := range j.entries {
		if kind == "" || e.Kind == kind {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Created.Before(entries[b].Created)
	})
	return entries
}

// Get returns the entry with id.
func (j *Journal) Get(id string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, e := range j.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// LatestQuote returns the most recently signed quote.
func (j *Journal) LatestQuote() (*types.Quote, error) {
	entries := j.List(KindQuote)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == StatusSigned && entries[i].Quote.IsSigned() {
			return entries[i].Quote.Copy(), nil
		}
	}
	return nil, fmt.Errorf("%w: no signed quote", ErrNotFound)
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.filePath
}
