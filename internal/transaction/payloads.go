package transaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/privtx/internal/enc"
)

// EncodedPayloadManager builds and opens encoded payloads without touching
// the transaction store. Send and Receive are built on it; the API also
// exposes it directly for callers that transport payloads themselves.
type EncodedPayloadManager struct {
	enclave Enclave
	privacy *PrivacyHelper
}

// NewEncodedPayloadManager creates a payload manager.
func NewEncodedPayloadManager(enclave Enclave, privacy *PrivacyHelper) *EncodedPayloadManager {
	return &EncodedPayloadManager{enclave: enclave, privacy: privacy}
}

// Create validates a send request and encrypts it.
func (p *EncodedPayloadManager) Create(ctx context.Context, req SendRequest) (*enc.EncodedPayload, error) {
	payload, _, err := p.create(ctx, req)
	return payload, err
}

func (p *EncodedPayloadManager) create(ctx context.Context, req SendRequest) (*enc.EncodedPayload, []enc.PublicKey, error) {
	sender := req.Sender
	if sender == (enc.PublicKey{}) {
		sender = p.enclave.DefaultPublicKey()
	}

	meta, parties, err := p.prepare(ctx, sender, req.Recipients, req.PrivacyMode,
		req.MandatoryRecipients, req.AffectedContractTransactions, req.ExecHash, req.PrivacyGroupID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := p.enclave.EncryptPayload(req.Payload, sender, parties, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt payload: %w", err)
	}
	return payload, parties, nil
}

// prepare validates the privacy settings of a send and returns the enclave
// metadata plus the full party list: recipients, then the sender, then the
// forwarding keys, each key once.
func (p *EncodedPayloadManager) prepare(
	ctx context.Context,
	sender enc.PublicKey,
	recipients []enc.PublicKey,
	mode enc.PrivacyMode,
	mandatory []enc.PublicKey,
	affectedHashes []enc.TxHash,
	execHash []byte,
	groupID enc.PrivacyGroupID,
) (enc.PrivacyMetadata, []enc.PublicKey, error) {
	parties := append(append(append([]enc.PublicKey{}, recipients...), sender), p.enclave.ForwardingKeys()...)
	parties = enc.DedupKeys(parties)

	affected, missing, err := p.privacy.FindAffectedContractTransactions(ctx, affectedHashes)
	if err != nil {
		return enc.PrivacyMetadata{}, nil, err
	}
	if err := p.privacy.ValidateSendRequest(mode, parties, mandatory, affected, missing); err != nil {
		return enc.PrivacyMetadata{}, nil, err
	}

	switch {
	case mode == enc.MandatoryRecipients && len(mandatory) == 0:
		return enc.PrivacyMetadata{}, nil, newInvalidRequestError("missing mandatory recipients data")
	case mode == enc.MandatoryRecipients && !enc.NewKeySet(parties...).ContainsAll(enc.NewKeySet(mandatory...)):
		return enc.PrivacyMetadata{}, nil, newInvalidRequestError("One or more mandatory recipients not included in the participant list")
	case mode != enc.MandatoryRecipients && len(mandatory) > 0:
		return enc.PrivacyMetadata{}, nil, newInvalidRequestError("Mandatory recipients data only applicable for mandatory recipients privacy mode")
	case mode == enc.PrivateStateValidation && len(execHash) == 0:
		return enc.PrivacyMetadata{}, nil, newInvalidRequestError("Missing exec hash for private state validation")
	}

	return enc.PrivacyMetadata{
		PrivacyMode:                  mode,
		AffectedContractTransactions: affected,
		ExecHash:                     execHash,
		MandatoryRecipients:          enc.DedupKeys(mandatory),
		PrivacyGroupID:               groupID,
	}, parties, nil
}

// Decrypt opens payload with recipient, or by trial over the candidate
// keys when recipient is nil. Candidates are the local keys in canonical
// order, narrowed to the mandatory recipients for MANDATORY_RECIPIENTS
// payloads. The first key that opens the payload wins.
func (p *EncodedPayloadManager) Decrypt(payload *enc.EncodedPayload, recipient *enc.PublicKey) (ReceiveResponse, error) {
	local := p.enclave.PublicKeys()

	var candidates []enc.PublicKey
	switch {
	case recipient != nil:
		candidates = []enc.PublicKey{*recipient}
	case payload.PrivacyMode == enc.MandatoryRecipients:
		candidates = enc.SortKeys(local.Intersect(payload.MandatoryRecipients))
	default:
		candidates = local.Sorted()
	}

	var plain []byte
	var opened bool
	for _, key := range candidates {
		data, err := p.enclave.UnencryptTransaction(payload, key)
		if err != nil {
			slog.Debug("trial decryption failed", "hash", payload.Hash().String(), "key", key.String(), "error", err)
			continue
		}
		plain, opened = data, true
		break
	}
	if !opened {
		return ReceiveResponse{}, newRecipientKeyNotFoundError(payload.Hash())
	}

	return ReceiveResponse{
		Sender:               payload.SenderKey,
		UnencryptedData:      plain,
		PrivacyMode:          payload.PrivacyMode,
		ExecHash:             payload.ExecHash,
		AffectedTransactions: payload.AffectedHashes(),
		PrivacyGroupID:       payload.PrivacyGroupID,
		ManagedParties:       p.managedParties(payload, local),
	}, nil
}

// managedParties returns the local keys that are parties to payload. Legacy
// payloads carry no recipient keys, so each local key is tried instead.
func (p *EncodedPayloadManager) managedParties(payload *enc.EncodedPayload, local enc.KeySet) []enc.PublicKey {
	if len(payload.RecipientKeys) > 0 {
		return local.Intersect(payload.RecipientKeys)
	}
	var parties []enc.PublicKey
	for _, key := range local.Sorted() {
		if _, err := p.enclave.UnencryptTransaction(payload, key); err == nil {
			parties = append(parties, key)
		}
	}
	return parties
}
