// Package resend recovers transactions between nodes. A node that lost its
// store asks peers to push back everything it sent or received; the pushes
// land either in the ordinary StorePayload path or, for payloads this node
// sent itself, in AcceptOwnMessage.
package resend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
	"github.com/roach88/privtx/internal/transaction"
)

// DefaultPageSize is the number of rows read per page by ResendAll.
const DefaultPageSize = 100

const maxAcceptAttempts = 5

// Enclave is the subset of the enclave the resend manager needs.
type Enclave interface {
	PublicKeys() enc.KeySet
	UnencryptTransaction(payload *enc.EncodedPayload, recipient enc.PublicKey) ([]byte, error)
}

// Store is the subset of the encoded transaction store the resend manager
// reads and writes.
type Store interface {
	Begin(ctx context.Context) (store.UnitOfWork, error)
	RetrieveByHash(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedTransaction, error)
	Update(ctx context.Context, tx *enc.EncryptedTransaction) error
	Page(ctx context.Context, cursor int64, limit int) ([]*enc.EncryptedTransaction, int64, error)
}

// Publisher pushes a payload to recipients. Implementations strip the
// boxes a recipient may not see.
type Publisher interface {
	PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error
}

// Manager implements transaction.ResendManager plus the resend requests
// served to peers.
type Manager struct {
	enclave   Enclave
	txs       Store
	publisher Publisher
	pageSize  int
}

// NewManager creates a resend manager. A pageSize of zero or less uses
// DefaultPageSize.
func NewManager(enclave Enclave, txs Store, publisher Publisher, pageSize int) *Manager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Manager{enclave: enclave, txs: txs, publisher: publisher, pageSize: pageSize}
}

// AcceptOwnMessage stores a payload this node originally sent and a peer
// has pushed back. The payload must open with the sender's key, and if the
// transaction is already stored both copies must carry the same plaintext.
func (m *Manager) AcceptOwnMessage(ctx context.Context, payload *enc.EncodedPayload) error {
	hash := payload.Hash()
	if !m.enclave.PublicKeys().Contains(payload.SenderKey) {
		return &transaction.Error{
			Code:    transaction.CodeInvalidRequest,
			Message: fmt.Sprintf("Message %s was not sent by a local key", hash),
		}
	}

	plain, err := m.enclave.UnencryptTransaction(payload, payload.SenderKey)
	if err != nil {
		return &transaction.Error{
			Code:    transaction.CodeInvalidState,
			Message: fmt.Sprintf("Unable to decrypt own message %s", hash),
			Err:     err,
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAcceptAttempts; attempt++ {
		err := m.acceptOnce(ctx, hash, payload, plain)
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("accept own message %s: %w", hash, lastErr)
}

func (m *Manager) acceptOnce(ctx context.Context, hash enc.MessageHash, payload *enc.EncodedPayload, plain []byte) error {
	existing, err := m.txs.RetrieveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		uow, err := m.txs.Begin(ctx)
		if err != nil {
			return fmt.Errorf("accept own message %s: %w", hash, err)
		}
		defer uow.Rollback()
		if err := uow.Save(ctx, &enc.EncryptedTransaction{Hash: hash, Payload: payload}); err != nil {
			return err
		}
		if err := uow.Commit(); err != nil {
			return fmt.Errorf("accept own message %s: %w", hash, err)
		}
		slog.Info("recovered own transaction", "hash", hash.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("accept own message %s: %w", hash, err)
	}

	stored, err := m.enclave.UnencryptTransaction(existing.Payload, existing.Payload.SenderKey)
	if err != nil {
		return fmt.Errorf("accept own message %s: decrypt stored copy: %w", hash, err)
	}
	if !bytes.Equal(stored, plain) {
		return &transaction.Error{
			Code:    transaction.CodeInvalidState,
			Message: "Invalid payload provided",
		}
	}

	merged, changed, err := transaction.MergePayload(existing.Payload, payload)
	if err != nil || !changed {
		return err
	}
	existing.Payload = merged
	return m.txs.Update(ctx, existing)
}

// ResendIndividual pushes one transaction sent by this node to recipient.
func (m *Manager) ResendIndividual(ctx context.Context, hash enc.MessageHash, recipient enc.PublicKey) error {
	tx, err := m.txs.RetrieveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return &transaction.Error{
			Code:    transaction.CodeTransactionNotFound,
			Message: fmt.Sprintf("Message with hash %s was not found", hash),
			Err:     err,
		}
	}
	if err != nil {
		return fmt.Errorf("resend %s: %w", hash, err)
	}

	if !m.enclave.PublicKeys().Contains(tx.Payload.SenderKey) {
		return &transaction.Error{
			Code:    transaction.CodeInvalidRequest,
			Message: fmt.Sprintf("Message %s was not sent by this node", hash),
		}
	}
	if !tx.Payload.HasRecipient(recipient) {
		return &transaction.Error{
			Code:    transaction.CodeInvalidRequest,
			Message: fmt.Sprintf("Recipient %s is not a party to message %s", recipient, hash),
		}
	}
	return m.publisher.PublishPayload(ctx, tx.Payload, []enc.PublicKey{recipient})
}

// ResendAll pushes every stored transaction that recipient is entitled to:
// those recipient sent, and those a local key sent to recipient. Failed
// pushes do not stop the scan; they are returned together once it ends.
// The number of transactions pushed is returned alongside.
func (m *Manager) ResendAll(ctx context.Context, recipient enc.PublicKey) (int, error) {
	local := m.enclave.PublicKeys()

	var (
		cursor int64
		sent   int
		errs   []error
	)
	for {
		page, next, err := m.txs.Page(ctx, cursor, m.pageSize)
		if err != nil {
			return sent, fmt.Errorf("resend all: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, tx := range page {
			if !entitled(tx.Payload, recipient, local) {
				continue
			}
			if err := m.publisher.PublishPayload(ctx, tx.Payload, []enc.PublicKey{recipient}); err != nil {
				slog.Warn("resend failed", "hash", tx.Hash.String(), "recipient", recipient.String(), "error", err)
				errs = append(errs, fmt.Errorf("resend %s: %w", tx.Hash, err))
				continue
			}
			sent++
		}
		cursor = next
	}

	slog.Info("resend complete", "recipient", recipient.String(), "sent", sent, "failed", len(errs))
	return sent, errors.Join(errs...)
}

func entitled(p *enc.EncodedPayload, recipient enc.PublicKey, local enc.KeySet) bool {
	if p.SenderKey == recipient {
		return true
	}
	return local.Contains(p.SenderKey) && p.HasRecipient(recipient)
}
