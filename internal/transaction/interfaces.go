package transaction

import (
	"context"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
)

// Enclave performs payload cryptography and owns the local identities.
type Enclave interface {
	EncryptPayload(plaintext []byte, sender enc.PublicKey, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error)
	EncryptRawTransaction(raw enc.RawTransaction, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error)
	EncryptRawPayload(plaintext []byte, sender enc.PublicKey) (enc.RawTransaction, error)
	UnencryptTransaction(payload *enc.EncodedPayload, recipient enc.PublicKey) ([]byte, error)
	UnencryptRawPayload(raw enc.RawTransaction) ([]byte, error)
	PublicKeys() enc.KeySet
	ForwardingKeys() []enc.PublicKey
	FindInvalidSecurityHashes(payload *enc.EncodedPayload, affected []enc.AffectedTransaction) []enc.TxHash
	DefaultPublicKey() enc.PublicKey
}

// TransactionFinder loads stored transactions by hash.
type TransactionFinder interface {
	FindByHashes(ctx context.Context, hashes []enc.MessageHash) ([]*enc.EncryptedTransaction, error)
}

// TransactionStore persists encrypted transactions. Lookups of absent rows
// fail with store.ErrNotFound.
type TransactionStore interface {
	TransactionFinder
	Begin(ctx context.Context) (store.UnitOfWork, error)
	Update(ctx context.Context, tx *enc.EncryptedTransaction) error
	RetrieveByHash(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedTransaction, error)
	Delete(ctx context.Context, hash enc.MessageHash) error
	DeleteAll(ctx context.Context, sender enc.PublicKey) (int64, error)
	Upcheck(ctx context.Context) bool
}

// RawTransactionStore persists raw transactions.
type RawTransactionStore interface {
	Save(ctx context.Context, raw *enc.EncryptedRawTransaction) error
	RetrieveByHash(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedRawTransaction, error)
	Upcheck(ctx context.Context) bool
}

// ResendManager reconciles payloads this node originally sent.
type ResendManager interface {
	AcceptOwnMessage(ctx context.Context, payload *enc.EncodedPayload) error
}

// BatchPayloadPublisher pushes a payload to remote recipients.
type BatchPayloadPublisher interface {
	PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error
}

// Recorder observes operation outcomes.
type Recorder interface {
	RecordOperation(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}
