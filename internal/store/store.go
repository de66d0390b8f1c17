package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is stored in PRAGMA user_version.
// Version 1 indexes encrypted_transactions.sender for DeleteAll.
const currentSchemaVersion = 1

var (
	// ErrNotFound is returned when no row exists for a hash.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a row with the same hash already exists.
	ErrDuplicate = errors.New("duplicate hash")

	// ErrVersionConflict is returned when an update lost a race with
	// another writer.
	ErrVersionConflict = errors.New("version conflict")
)

// Store owns the SQLite database shared by the encoded and raw
// transaction stores.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating tables and running migrations
// as needed.
//
// Every connection is configured with:
//   - WAL journaling so Receive and the resend scan read while a push writes
//   - NORMAL synchronous mode, durable across process crashes
//   - a 5 second busy timeout instead of failing fast on a held lock
//   - foreign key enforcement
//
// Reopening an existing database is safe.
func Open(path string) (*Store, error) {
	// the file is created lazily on first use
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	// One connection for the whole pool. SQLite allows a single writer,
	// and each ":memory:" connection would otherwise be its own empty
	// database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1) // keep it open between requests

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	// pragmas, then schema, then migrations
	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database. A zero Store closes cleanly.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the pool for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transactions returns the encoded transaction store.
func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{db: s.db}
}

// RawTransactions returns the raw transaction store.
func (s *Store) RawTransactions() *RawTransactionStore {
	return &RawTransactionStore{db: s.db}
}

// upcheck reports whether the database answers a trivial query.
func upcheck(ctx context.Context, db *sql.DB, table string) bool {
	if db == nil {
		return false
	}
	var n int
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s LIMIT 1)", table)).Scan(&n)
	return err == nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PK violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

// pragmas run in order on the single pooled connection. Each is read back
// by verifyPragma in tests.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// prepare configures the connection, creates missing tables and brings the
// schema up to currentSchemaVersion.
func prepare(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return migrate(db)
}

// migrate runs each step above the recorded user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// migrateToV1 indexes the sender column so deleteAll avoids a table scan.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_encrypted_transactions_sender
		ON encrypted_transactions(sender)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma is used by tests to read back connection settings.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("read pragma %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("pragma %s is %q, want %q", name, value, expected)
	}
	return nil
}
