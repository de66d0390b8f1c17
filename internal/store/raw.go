package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/privtx/internal/enc"
)

// RawTransactionStore persists raw transactions keyed by the hash of their
// signed data.
type RawTransactionStore struct {
	db *sql.DB
}

// Save inserts a raw transaction. Saving the same hash twice is a no-op,
// since identical ciphertext always yields identical rows.
func (s *RawTransactionStore) Save(ctx context.Context, raw *enc.EncryptedRawTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encrypted_raw_transactions
		(hash, encrypted_payload, encrypted_key, nonce, sender)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		raw.Hash.Bytes(),
		raw.EncryptedPayload,
		raw.EncryptedKey,
		raw.Nonce[:],
		raw.Sender.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("save raw %s: %w", raw.Hash, err)
	}
	return nil
}

// RetrieveByHash loads a raw transaction, returning ErrNotFound if absent.
func (s *RawTransactionStore) RetrieveByHash(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedRawTransaction, error) {
	var (
		payload, key, nonce, sender []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_payload, encrypted_key, nonce, sender
		FROM encrypted_raw_transactions
		WHERE hash = ?
	`, hash[:]).Scan(&payload, &key, &nonce, &sender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retrieve raw %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve raw %s: %w", hash, err)
	}

	raw := &enc.EncryptedRawTransaction{
		Hash:             hash,
		EncryptedPayload: payload,
		EncryptedKey:     key,
	}
	if len(nonce) != enc.NonceSize {
		return nil, fmt.Errorf("retrieve raw %s: bad nonce length %d", hash, len(nonce))
	}
	copy(raw.Nonce[:], nonce)
	if raw.Sender, err = enc.PublicKeyFromBytes(sender); err != nil {
		return nil, fmt.Errorf("retrieve raw %s: %w", hash, err)
	}
	return raw, nil
}

// Upcheck reports whether the raw store is reachable.
func (s *RawTransactionStore) Upcheck(ctx context.Context) bool {
	return upcheck(ctx, s.db, "encrypted_raw_transactions")
}
