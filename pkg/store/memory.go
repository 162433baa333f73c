package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process ConsumptionStore for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[common.Hash]*Record
	closed  bool
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[common.Hash]*Record)}
}

// Get returns the record for key.
func (m *Memory) Get(ctx context.Context, key common.Hash) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// SetIfAbsent holds the store lock across effect.
func (m *Memory) SetIfAbsent(ctx context.Context, rec *Record, effect Effect) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}
	if _, exists := m.records[rec.Key]; exists {
		return false, nil
	}
	if err := runEffect(ctx, rec, effect); err != nil {
		return false, err
	}
	cp := *rec
	m.records[rec.Key] = &cp
	return true, nil
}

// List returns all records ordered by consumption time.
func (m *Memory) List(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		records = append(records, &cp)
	}
	sortRecords(records)
	return records, nil
}

// Close releases the store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ConsumedAt.Before(records[j].ConsumedAt)
	})
}
