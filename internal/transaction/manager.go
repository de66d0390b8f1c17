// Package transaction orchestrates the lifecycle of private transactions:
// encrypting and distributing new payloads, reconciling payloads pushed by
// peers, and decrypting stored payloads for local recipients.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
)

// maxStoreAttempts bounds the read-merge-write cycle in StorePayload when
// racing writers invalidate the row read.
const maxStoreAttempts = 5

// Manager is the entry point for every transaction operation.
type Manager struct {
	enclave   Enclave
	txs       TransactionStore
	raws      RawTransactionStore
	resend    ResendManager
	publisher BatchPayloadPublisher
	privacy   *PrivacyHelper
	payloads  *EncodedPayloadManager
	recorder  Recorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder sets the observer for operation outcomes.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// NewManager wires a manager from its collaborators.
func NewManager(
	enclave Enclave,
	txs TransactionStore,
	raws RawTransactionStore,
	resend ResendManager,
	publisher BatchPayloadPublisher,
	privacy *PrivacyHelper,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		enclave:   enclave,
		txs:       txs,
		raws:      raws,
		resend:    resend,
		publisher: publisher,
		privacy:   privacy,
		payloads:  NewEncodedPayloadManager(enclave, privacy),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Payloads returns the manager's stateless payload helper.
func (m *Manager) Payloads() *EncodedPayloadManager {
	return m.payloads
}

// Send encrypts a payload, stores it, and once the store has committed
// publishes it to every non-local party.
func (m *Manager) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	payload, parties, err := m.payloads.create(ctx, req)
	if err != nil {
		m.recorder.RecordOperation("send", "error")
		return SendResponse{}, err
	}
	return m.persistAndPublish(ctx, "send", payload.Hash(), payload, req.Recipients, parties)
}

// SendSignedTransaction distributes a raw transaction previously stored with
// StoreRaw. The resulting transaction keeps the signed-data hash.
func (m *Manager) SendSignedTransaction(ctx context.Context, req SendSignedRequest) (SendResponse, error) {
	raw, err := m.raws.RetrieveByHash(ctx, req.SignedData)
	if errors.Is(err, store.ErrNotFound) {
		m.recorder.RecordOperation("send_signed", "not_found")
		return SendResponse{}, newNotFoundError(req.SignedData, err)
	}
	if err != nil {
		return SendResponse{}, fmt.Errorf("send signed transaction: %w", err)
	}

	meta, parties, err := m.payloads.prepare(ctx, raw.Sender, req.Recipients, req.PrivacyMode,
		req.MandatoryRecipients, req.AffectedContractTransactions, req.ExecHash, req.PrivacyGroupID)
	if err != nil {
		m.recorder.RecordOperation("send_signed", "error")
		return SendResponse{}, err
	}

	payload, err := m.enclave.EncryptRawTransaction(raw.ToRawTransaction(), parties, meta)
	if err != nil {
		return SendResponse{}, fmt.Errorf("send signed transaction: %w", err)
	}
	return m.persistAndPublish(ctx, "send_signed", req.SignedData, payload, req.Recipients, parties)
}

func (m *Manager) persistAndPublish(ctx context.Context, op string, hash enc.MessageHash, payload *enc.EncodedPayload, requested, parties []enc.PublicKey) (SendResponse, error) {
	local := m.enclave.PublicKeys()

	uow, err := m.txs.Begin(ctx)
	if err != nil {
		return SendResponse{}, fmt.Errorf("%s: %w", op, err)
	}
	defer uow.Rollback()

	if err := uow.Save(ctx, &enc.EncryptedTransaction{Hash: hash, Payload: payload}); err != nil {
		return SendResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	var remote []enc.PublicKey
	for _, p := range parties {
		if !local.Contains(p) {
			remote = append(remote, p)
		}
	}
	if len(remote) > 0 {
		publishCtx := context.WithoutCancel(ctx)
		uow.AfterCommit(func() {
			if err := m.publisher.PublishPayload(publishCtx, payload, remote); err != nil {
				slog.Warn("publish failed", "hash", hash.String(), "recipients", len(remote), "error", err)
			}
		})
	}

	if err := uow.Commit(); err != nil {
		return SendResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.Info("transaction stored", "op", op, "hash", hash.String(), "mode", payload.PrivacyMode.String())
	m.recorder.RecordOperation(op, "stored")
	return SendResponse{
		TransactionHash: hash,
		ManagedParties:  local.Intersect(requested),
		Sender:          payload.SenderKey,
	}, nil
}

// StoreRaw encrypts a payload into the raw store without distributing it.
func (m *Manager) StoreRaw(ctx context.Context, req StoreRawRequest) (StoreRawResponse, error) {
	sender := req.Sender
	if sender == (enc.PublicKey{}) {
		sender = m.enclave.DefaultPublicKey()
	}

	raw, err := m.enclave.EncryptRawPayload(req.Payload, sender)
	if err != nil {
		return StoreRawResponse{}, fmt.Errorf("store raw: %w", err)
	}

	hash := enc.Digest(raw.EncryptedPayload)
	err = m.raws.Save(ctx, &enc.EncryptedRawTransaction{
		Hash:             hash,
		EncryptedPayload: raw.EncryptedPayload,
		EncryptedKey:     raw.EncryptedKey,
		Nonce:            raw.Nonce,
		Sender:           raw.From,
	})
	if err != nil {
		return StoreRawResponse{}, fmt.Errorf("store raw: %w", err)
	}

	m.recorder.RecordOperation("store_raw", "stored")
	return StoreRawResponse{Hash: hash}, nil
}

// StorePayload reconciles a payload pushed by a peer or replayed by resend.
func (m *Manager) StorePayload(ctx context.Context, incoming *enc.EncodedPayload) (StoreResult, error) {
	result, err := m.storePayload(ctx, incoming)
	if err != nil {
		m.recorder.RecordOperation("store_payload", string(CodeOf(err)))
		return result, err
	}
	m.recorder.RecordOperation("store_payload", string(result.Outcome))
	slog.Debug("payload reconciled", "hash", result.Hash.String(), "outcome", string(result.Outcome), "reason", result.Reason)
	return result, nil
}

func (m *Manager) storePayload(ctx context.Context, incoming *enc.EncodedPayload) (StoreResult, error) {
	hash := incoming.Hash()
	payload := incoming.Clone()

	affected, missing, err := m.privacy.FindAffectedContractTransactions(ctx, payload.AffectedHashes())
	if err != nil {
		return StoreResult{Hash: hash}, fmt.Errorf("store payload %s: %w", hash, err)
	}

	if payload.PrivacyMode == enc.PrivateStateValidation {
		if err := m.privacy.ValidatePayload(payload, affected, missing); err != nil {
			return StoreResult{Hash: hash}, err
		}
	} else {
		affected, payload.AffectedContractTransactions = m.privacy.Sanitize(payload, affected, missing)
	}

	// Stored dependencies hold only the local recipient's view, so their
	// sender counts as a party alongside the remaining recipient keys.
	for _, a := range affected {
		if a.Payload.SenderKey != payload.SenderKey && !a.Payload.HasRecipient(payload.SenderKey) {
			slog.Warn("dropping payload from sender not party to affected transaction",
				"hash", hash.String(), "sender", payload.SenderKey.String(), "affected", a.Hash.String())
			return StoreResult{
				Hash:    hash,
				Outcome: OutcomeDropped,
				Reason:  fmt.Sprintf("sender is not a party to affected transaction %s", a.Hash),
			}, nil
		}
	}

	if m.enclave.PublicKeys().Contains(payload.SenderKey) {
		if err := m.resend.AcceptOwnMessage(ctx, payload); err != nil {
			return StoreResult{Hash: hash}, fmt.Errorf("store payload %s: %w", hash, err)
		}
		return StoreResult{Hash: hash, Outcome: OutcomeDelegated}, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxStoreAttempts; attempt++ {
		outcome, err := m.createOrMerge(ctx, hash, payload)
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrVersionConflict) {
			slog.Debug("concurrent write, retrying", "hash", hash.String(), "attempt", attempt+1)
			lastErr = err
			continue
		}
		if err != nil {
			return StoreResult{Hash: hash}, err
		}
		return StoreResult{Hash: hash, Outcome: outcome}, nil
	}
	return StoreResult{Hash: hash}, fmt.Errorf("store payload %s: %w", hash, lastErr)
}

func (m *Manager) createOrMerge(ctx context.Context, hash enc.MessageHash, payload *enc.EncodedPayload) (Outcome, error) {
	existing, err := m.txs.RetrieveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		uow, err := m.txs.Begin(ctx)
		if err != nil {
			return "", fmt.Errorf("store payload %s: %w", hash, err)
		}
		defer uow.Rollback()
		if err := uow.Save(ctx, &enc.EncryptedTransaction{Hash: hash, Payload: payload}); err != nil {
			return "", err
		}
		if err := uow.Commit(); err != nil {
			return "", fmt.Errorf("store payload %s: %w", hash, err)
		}
		return OutcomeCreated, nil
	}
	if err != nil {
		return "", fmt.Errorf("store payload %s: %w", hash, err)
	}

	merged, changed, err := MergePayload(existing.Payload, payload)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	existing.Payload = merged
	if err := m.txs.Update(ctx, existing); err != nil {
		return "", err
	}
	return OutcomeMerged, nil
}

// Receive decrypts a stored transaction for a local recipient.
func (m *Manager) Receive(ctx context.Context, req ReceiveRequest) (ReceiveResponse, error) {
	if req.Raw {
		return m.receiveRaw(ctx, req.TransactionHash)
	}

	tx, err := m.txs.RetrieveByHash(ctx, req.TransactionHash)
	if errors.Is(err, store.ErrNotFound) {
		return ReceiveResponse{}, newNotFoundError(req.TransactionHash, err)
	}
	if err != nil {
		return ReceiveResponse{}, fmt.Errorf("receive: %w", err)
	}

	resp, err := m.payloads.Decrypt(tx.Payload, req.Recipient)
	if err != nil {
		m.recorder.RecordOperation("receive", string(CodeOf(err)))
		return ReceiveResponse{}, err
	}
	m.recorder.RecordOperation("receive", "ok")
	return resp, nil
}

func (m *Manager) receiveRaw(ctx context.Context, hash enc.MessageHash) (ReceiveResponse, error) {
	raw, err := m.raws.RetrieveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return ReceiveResponse{}, newNotFoundError(hash, err)
	}
	if err != nil {
		return ReceiveResponse{}, fmt.Errorf("receive raw: %w", err)
	}

	plain, err := m.enclave.UnencryptRawPayload(raw.ToRawTransaction())
	if err != nil {
		return ReceiveResponse{}, fmt.Errorf("receive raw: %w", err)
	}
	m.recorder.RecordOperation("receive_raw", "ok")
	return ReceiveResponse{
		Sender:          raw.Sender,
		UnencryptedData: plain,
		PrivacyMode:     enc.StandardPrivate,
		ManagedParties:  m.enclave.PublicKeys().Intersect([]enc.PublicKey{raw.Sender}),
	}, nil
}

// Delete removes a stored transaction.
func (m *Manager) Delete(ctx context.Context, hash enc.MessageHash) error {
	err := m.txs.Delete(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return newNotFoundError(hash, err)
	}
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	slog.Info("transaction deleted", "hash", hash.String())
	return nil
}

// DeleteAll removes every transaction sent by sender.
func (m *Manager) DeleteAll(ctx context.Context, sender enc.PublicKey) (int64, error) {
	n, err := m.txs.DeleteAll(ctx, sender)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	slog.Info("transactions deleted", "sender", sender.String(), "count", n)
	return n, nil
}

// IsSender reports whether a local identity sent the transaction.
func (m *Manager) IsSender(ctx context.Context, hash enc.MessageHash) (bool, error) {
	tx, err := m.retrieve(ctx, hash)
	if err != nil {
		return false, err
	}
	return m.enclave.PublicKeys().Contains(tx.Payload.SenderKey), nil
}

// GetParticipants returns the recipient keys of a stored transaction.
func (m *Manager) GetParticipants(ctx context.Context, hash enc.MessageHash) ([]enc.PublicKey, error) {
	tx, err := m.retrieve(ctx, hash)
	if err != nil {
		return nil, err
	}
	return tx.Payload.RecipientKeys, nil
}

// GetMandatoryRecipients returns the mandatory recipients of a
// MANDATORY_RECIPIENTS transaction.
func (m *Manager) GetMandatoryRecipients(ctx context.Context, hash enc.MessageHash) ([]enc.PublicKey, error) {
	tx, err := m.retrieve(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx.Payload.PrivacyMode != enc.MandatoryRecipients {
		return nil, &Error{
			Code:    CodeMandatoryRecipientsNotAvailable,
			Message: "Operation invalid. Transaction found is not a mandatory recipients privacy type",
		}
	}
	return enc.SortKeys(tx.Payload.MandatoryRecipients), nil
}

// Upcheck reports whether both stores are healthy.
func (m *Manager) Upcheck(ctx context.Context) bool {
	return m.txs.Upcheck(ctx) && m.raws.Upcheck(ctx)
}

// LocalKeys returns the enclave's identities in canonical order.
func (m *Manager) LocalKeys() []enc.PublicKey {
	return m.enclave.PublicKeys().Sorted()
}

// DefaultPublicKey returns the enclave's default identity.
func (m *Manager) DefaultPublicKey() enc.PublicKey {
	return m.enclave.DefaultPublicKey()
}

func (m *Manager) retrieve(ctx context.Context, hash enc.MessageHash) (*enc.EncryptedTransaction, error) {
	tx, err := m.txs.RetrieveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newNotFoundError(hash, err)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", hash, err)
	}
	return tx, nil
}
