package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS consumed_quotes (
    commitment  TEXT PRIMARY KEY,
    signature   BLOB NOT NULL,
    from_token  TEXT NOT NULL,
    to_token    TEXT NOT NULL,
    rate        TEXT NOT NULL,
    quote_ts    INTEGER NOT NULL,
    executor    TEXT NOT NULL,
    amount_in   TEXT,
    amount_out  TEXT,
    reference   TEXT,
    consumed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS consumed_quotes_consumed_at ON consumed_quotes(consumed_at);
`

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLite stores consumption records in a sqlite database. The claim insert
// and the effect share one transaction, and the pool holds a single
// connection, so attempts on the same store are serialized.
type SQLite struct {
	db *sql.DB
}

// ErrPathRequired is returned when the sqlite path is missing.
var ErrPathRequired = errors.New("store: sqlite path must be configured")

// SQLiteDSN converts a filesystem path into an on-disk DSN.
func SQLiteDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if trimmed == ":memory:" {
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, sqlitePragmas), nil
}

// OpenSQLite opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	dsn, err := SQLiteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases database resources.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the record for key.
func (s *SQLite) Get(ctx context.Context, key common.Hash) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT commitment, signature, from_token, to_token, rate, quote_ts, executor,
               amount_in, amount_out, reference, consumed_at
        FROM consumed_quotes
        WHERE commitment = ?
    `, key.Hex())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// SetIfAbsent inserts the claim with ON CONFLICT DO NOTHING, runs effect and
// commits. A failed effect rolls the claim back. The transaction is detached
// from ctx cancellation: database/sql rolls a transaction back as soon as its
// context is done, which would drop the claim after effect already ran.
func (s *SQLite) SetIfAbsent(ctx context.Context, rec *Record, effect Effect) (bool, error) {
	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
        INSERT INTO consumed_quotes(commitment, signature, from_token, to_token, rate, quote_ts, executor, consumed_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(commitment) DO NOTHING
    `, rec.Key.Hex(), []byte(rec.Signature), rec.FromToken.Hex(), rec.ToToken.Hex(), bigString(rec.Rate),
		int64(rec.Timestamp), rec.Executor.Hex(), rec.ConsumedAt.UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("claim commitment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := runEffect(ctx, rec, effect); err != nil {
		return false, err
	}

	// From here on the claim must be committed.
	_, updateErr := tx.ExecContext(txCtx, `
        UPDATE consumed_quotes
        SET amount_in = ?, amount_out = ?, reference = ?
        WHERE commitment = ?
    `, nullableBig(rec.AmountIn), nullableBig(rec.AmountOut), rec.Reference, rec.Key.Hex())
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	if updateErr != nil {
		return true, fmt.Errorf("record settlement: %w", updateErr)
	}
	return true, nil
}

// List returns all records ordered by consumption time.
func (s *SQLite) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT commitment, signature, from_token, to_token, rate, quote_ts, executor,
               amount_in, amount_out, reference, consumed_at
        FROM consumed_quotes
        ORDER BY consumed_at ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		key, from, to, rate, executor string
		sig                           []byte
		ts, consumedAt                int64
		amountIn, amountOut, ref      sql.NullString
	)
	if err := row.Scan(&key, &sig, &from, &to, &rate, &ts, &executor, &amountIn, &amountOut, &ref, &consumedAt); err != nil {
		return nil, err
	}
	rec := &Record{
		Key:        common.HexToHash(key),
		Signature:  sig,
		FromToken:  common.HexToAddress(from),
		ToToken:    common.HexToAddress(to),
		Rate:       parseBig(rate),
		Timestamp:  uint64(ts),
		Executor:   common.HexToAddress(executor),
		Reference:  ref.String,
		ConsumedAt: time.Unix(0, consumedAt).UTC(),
	}
	if amountIn.Valid {
		rec.AmountIn = parseBig(amountIn.String)
	}
	if amountOut.Valid {
		rec.AmountOut = parseBig(amountOut.String)
	}
	return rec, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableBig(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
