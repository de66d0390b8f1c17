package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/privtx/internal/enc"
)

// TransactionStore persists encrypted transactions.
type TransactionStore struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Save inserts a new transaction. A row with the same hash yields
// ErrDuplicate.
func (s *TransactionStore) Save(ctx context.Context, et *enc.EncryptedTransaction) error {
	return insertTransaction(ctx, s.db, et)
}

// Update replaces the payload of an existing row if its version still
// matches et.Version. On success et.Version is advanced.
func (s *TransactionStore) Update(ctx context.Context, et *enc.EncryptedTransaction) error {
	return updateTransaction(ctx, s.db, et)
}

// RetrieveByHash loads a transaction, returning ErrNotFound if absent.
func (s *TransactionStore) RetrieveByHash(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, encoded_payload, version
		FROM encrypted_transactions
		WHERE hash = ?
	`, hash[:])

	et, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retrieve %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", hash, err)
	}
	return et, nil
}

// FindByHashes loads every stored transaction among hashes. Missing hashes
// are skipped. Results follow insertion order.
func (s *TransactionStore) FindByHashes(ctx context.Context, hashes []enc.MessageHash) ([]*enc.EncryptedTransaction, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(hashes))
	args := make([]any, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h.Bytes()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, encoded_payload, version
		FROM encrypted_transactions
		WHERE hash IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find by hashes: %w", err)
	}
	defer rows.Close()

	var out []*enc.EncryptedTransaction
	for rows.Next() {
		et, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("find by hashes: %w", err)
		}
		out = append(out, et)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find by hashes: %w", err)
	}
	return out, nil
}

// Delete removes a single transaction, returning ErrNotFound if absent.
func (s *TransactionStore) Delete(ctx context.Context, hash enc.MessageHash) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM encrypted_transactions WHERE hash = ?`, hash[:])
	if err != nil {
		return fmt.Errorf("delete %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", hash, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", hash, ErrNotFound)
	}
	return nil
}

// DeleteAll removes every transaction sent by sender and returns the count.
func (s *TransactionStore) DeleteAll(ctx context.Context, sender enc.PublicKey) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM encrypted_transactions WHERE sender = ?`, sender[:])
	if err != nil {
		return 0, fmt.Errorf("delete all for %s: %w", sender, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all for %s: %w", sender, err)
	}
	return n, nil
}

// Page returns up to limit transactions stored after cursor, plus the cursor
// for the next page. A returned cursor equal to the input means the end was
// reached.
func (s *TransactionStore) Page(ctx context.Context, cursor int64, limit int) ([]*enc.EncryptedTransaction, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, hash, encoded_payload, version
		FROM encrypted_transactions
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, cursor, limit)
	if err != nil {
		return nil, cursor, fmt.Errorf("page: %w", err)
	}
	defer rows.Close()

	next := cursor
	var out []*enc.EncryptedTransaction
	for rows.Next() {
		var (
			seq     int64
			hash    []byte
			payload []byte
			version int64
		)
		if err := rows.Scan(&seq, &hash, &payload, &version); err != nil {
			return nil, cursor, fmt.Errorf("page: %w", err)
		}
		et, err := buildTransaction(hash, payload, version)
		if err != nil {
			return nil, cursor, fmt.Errorf("page: %w", err)
		}
		out = append(out, et)
		next = seq
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("page: %w", err)
	}
	return out, next, nil
}

// Count returns the number of stored transactions.
func (s *TransactionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encrypted_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Upcheck reports whether the encoded store is reachable.
func (s *TransactionStore) Upcheck(ctx context.Context) bool {
	return upcheck(ctx, s.db, "encrypted_transactions")
}

func insertTransaction(ctx context.Context, db execer, et *enc.EncryptedTransaction) error {
	data, err := enc.EncodePayload(et.Payload)
	if err != nil {
		return fmt.Errorf("save %s: %w", et.Hash, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO encrypted_transactions
		(hash, encoded_payload, sender, privacy_mode, version)
		VALUES (?, ?, ?, ?, 0)
	`,
		et.Hash.Bytes(),
		data,
		et.Payload.SenderKey.Bytes(),
		int(et.Payload.PrivacyMode),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("save %s: %w", et.Hash, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", et.Hash, err)
	}
	et.Version = 0
	return nil
}

func updateTransaction(ctx context.Context, db execer, et *enc.EncryptedTransaction) error {
	data, err := enc.EncodePayload(et.Payload)
	if err != nil {
		return fmt.Errorf("update %s: %w", et.Hash, err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE encrypted_transactions
		SET encoded_payload = ?, version = version + 1
		WHERE hash = ? AND version = ?
	`, data, et.Hash.Bytes(), et.Version)
	if err != nil {
		return fmt.Errorf("update %s: %w", et.Hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", et.Hash, err)
	}
	if n == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM encrypted_transactions WHERE hash = ?`, et.Hash.Bytes()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update %s: %w", et.Hash, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", et.Hash, err)
		}
		return fmt.Errorf("update %s: %w", et.Hash, ErrVersionConflict)
	}
	et.Version++
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*enc.EncryptedTransaction, error) {
	var (
		hash    []byte
		payload []byte
		version int64
	)
	if err := row.Scan(&hash, &payload, &version); err != nil {
		return nil, err
	}
	return buildTransaction(hash, payload, version)
}

func buildTransaction(hash, payload []byte, version int64) (*enc.EncryptedTransaction, error) {
	h, err := enc.MessageHashFromBytes(hash)
	if err != nil {
		return nil, err
	}
	p, err := enc.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", h, err)
	}
	return &enc.EncryptedTransaction{Hash: h, Payload: p, Version: version}, nil
}
