package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

var ErrUnknownDialect = errors.New("unknown sql dialect")

var schemas = map[Dialect]string{
	DialectMySQL: `
		CREATE TABLE IF NOT EXISTS ledger_blobs (
			blob_key   VARCHAR(191) NOT NULL PRIMARY KEY,
			value      LONGBLOB     NOT NULL,
			version    BIGINT       NOT NULL DEFAULT 0,
			updated_at DATETIME(3)  NOT NULL
		)`,
	DialectSQLite: `
		CREATE TABLE IF NOT EXISTS ledger_blobs (
			blob_key   TEXT      NOT NULL PRIMARY KEY,
			value      BLOB      NOT NULL,
			version    INTEGER   NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
}

var upserts = map[Dialect]string{
	DialectMySQL: `
		INSERT INTO ledger_blobs (blob_key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), version = version + 1, updated_at = VALUES(updated_at)`,
	DialectSQLite: `
		INSERT INTO ledger_blobs (blob_key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(blob_key) DO UPDATE SET value = excluded.value, version = version + 1, updated_at = excluded.updated_at`,
}

// SQLStore keeps ledger blobs in the ledger_blobs table. Each row carries a
// version bumped on every write.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if _, ok := upserts[dialect]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemas[s.dialect]); err != nil {
		return fmt.Errorf("create ledger_blobs: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_blobs WHERE blob_key = ?`, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query blob %s: %w", key, err)
	}
	return value, nil
}

// Version returns how many times key has been written, 0 when absent.
func (s *SQLStore) Version(ctx context.Context, key string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM ledger_blobs WHERE blob_key = ?`, key).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query version %s: %w", key, err)
	}
	return version, nil
}

func (s *SQLStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var keys []string
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, upserts[s.dialect], key, entries[key], now); err != nil {
			return fmt.Errorf("upsert blob %s: %w", key, err)
		}
	}

	return tx.Commit()
}
