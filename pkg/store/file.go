package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultFileName = ".celofx-consumed.json"
)

// File keeps consumption records in a JSON file. The claim for a key is
// written to disk before the effect runs and released if the effect fails,
// so a crash mid-swap leaves the quote spent rather than reusable.
type File struct {
	filePath string
	mu       sync.Mutex
	records  map[common.Hash]*Record
}

// fileContents represents the JSON structure for storage
type fileContents struct {
	Records map[common.Hash]*Record `json:"records"`
}

// NewFile opens or creates the store at filePath. An empty path uses the
// default file in the home directory.
func NewFile(filePath string) (*File, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	f := &File{
		filePath: filePath,
		records:  make(map[common.Hash]*Record),
	}

	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load consumption records: %w", err)
	}

	return f, nil
}

// load reads records from the storage file
func (f *File) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("failed to unmarshal records: %w", err)
	}
	if contents.Records != nil {
		f.records = contents.Records
	}
	return nil
}

// save writes records to the storage file. Callers hold f.mu.
func (f *File) save() error {
	data, err := json.MarshalIndent(fileContents{Records: f.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := os.Rename(tempFile, f.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Get returns the record for key.
func (f *File) Get(ctx context.Context, key common.Hash) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// SetIfAbsent claims rec.Key on disk, runs effect, then persists the final record.
func (f *File) SetIfAbsent(ctx context.Context, rec *Record, effect Effect) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[rec.Key]; exists {
		return false, nil
	}

	claim := *rec
	f.records[rec.Key] = &claim
	if err := f.save(); err != nil {
		delete(f.records, rec.Key)
		return false, fmt.Errorf("failed to claim %s: %w", rec.Key.Hex(), err)
	}

	if err := runEffect(ctx, rec, effect); err != nil {
		delete(f.records, rec.Key)
		if saveErr := f.save(); saveErr != nil {
			return false, errors.Join(err, fmt.Errorf("failed to release claim %s: %w", rec.Key.Hex(), saveErr))
		}
		return false, err
	}

	final := *rec
	f.records[rec.Key] = &final
	if err := f.save(); err != nil {
		return true, fmt.Errorf("failed to persist settlement for %s: %w", rec.Key.Hex(), err)
	}
	return true, nil
}

// List returns all records ordered by consumption time.
func (f *File) List(ctx context.Context) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := make([]*Record, 0, len(f.records))
	for _, rec := range f.records {
		cp := *rec
		records = append(records, &cp)
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op; every write is already on disk.
func (f *File) Close() error {
	return nil
}

// Path returns the storage file path
func (f *File) Path() string {
	return f.filePath
}
