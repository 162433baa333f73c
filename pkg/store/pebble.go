package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

var consumedPrefix = []byte("consumed/")

// Pebble stores consumption records in an embedded pebble database. Like
// File, it writes the claim with a synced write before running the effect.
type Pebble struct {
	db *pebble.DB
	mu sync.Mutex
}

// OpenPebble opens or creates the database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("store: pebble directory must be configured")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func pebbleKey(key common.Hash) []byte {
	return append(append([]byte{}, consumedPrefix...), key.Bytes()...)
}

// Get returns the record for key.
func (p *Pebble) Get(ctx context.Context, key common.Hash) (*Record, error) {
	data, closer, err := p.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// SetIfAbsent claims the key, runs effect, and writes the final record.
func (p *Pebble) SetIfAbsent(ctx context.Context, rec *Record, effect Effect) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := pebbleKey(rec.Key)
	_, closer, err := p.db.Get(k)
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("check record: %w", err)
	}

	if err := p.put(k, rec); err != nil {
		return false, fmt.Errorf("claim %s: %w", rec.Key.Hex(), err)
	}

	if err := runEffect(ctx, rec, effect); err != nil {
		if delErr := p.db.Delete(k, pebble.Sync); delErr != nil {
			return false, errors.Join(err, fmt.Errorf("release claim %s: %w", rec.Key.Hex(), delErr))
		}
		return false, err
	}

	if err := p.put(k, rec); err != nil {
		return true, fmt.Errorf("persist settlement for %s: %w", rec.Key.Hex(), err)
	}
	return true, nil
}

func (p *Pebble) put(k []byte, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return p.db.Set(k, data, pebble.Sync)
}

// List returns all records ordered by consumption time.
func (p *Pebble) List(ctx context.Context) ([]*Record, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: consumedPrefix,
		UpperBound: prefixUpperBound(consumedPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	var records []*Record
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}

// prefixUpperBound is the exclusive upper bound of a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
