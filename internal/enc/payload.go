package enc

import (
	"bytes"
	"encoding/base64"
	"maps"
	"slices"
)

// PrivacyGroupID identifies a privacy group. A nil value means absent.
type PrivacyGroupID []byte

// String returns the base64 form of the group id.
func (p PrivacyGroupID) String() string {
	return base64.StdEncoding.EncodeToString(p)
}

// EncodedPayload is the encrypted form of a transaction as produced by the
// enclave and exchanged between nodes.
//
// When both RecipientKeys and RecipientBoxes are non-empty they are
// index-correlated: RecipientKeys[i] owns RecipientBoxes[i]. Legacy payloads
// carry boxes without keys.
type EncodedPayload struct {
	SenderKey                    PublicKey
	CipherText                   []byte
	CipherTextNonce              Nonce
	RecipientBoxes               []RecipientBox
	RecipientNonce               Nonce
	RecipientKeys                []PublicKey
	PrivacyMode                  PrivacyMode
	AffectedContractTransactions map[TxHash]SecurityHash
	ExecHash                     []byte
	MandatoryRecipients          []PublicKey
	PrivacyGroupID               PrivacyGroupID
}

// Hash returns the content address of the payload.
func (p *EncodedPayload) Hash() MessageHash {
	return Digest(p.CipherText)
}

// Clone returns a deep copy.
func (p *EncodedPayload) Clone() *EncodedPayload {
	out := *p
	out.CipherText = bytes.Clone(p.CipherText)
	out.RecipientKeys = slices.Clone(p.RecipientKeys)
	out.RecipientBoxes = make([]RecipientBox, len(p.RecipientBoxes))
	for i, b := range p.RecipientBoxes {
		out.RecipientBoxes[i] = bytes.Clone(b)
	}
	if p.AffectedContractTransactions != nil {
		out.AffectedContractTransactions = make(map[TxHash]SecurityHash, len(p.AffectedContractTransactions))
		for k, v := range p.AffectedContractTransactions {
			out.AffectedContractTransactions[k] = bytes.Clone(v)
		}
	}
	out.ExecHash = bytes.Clone(p.ExecHash)
	out.MandatoryRecipients = slices.Clone(p.MandatoryRecipients)
	out.PrivacyGroupID = bytes.Clone(p.PrivacyGroupID)
	return &out
}

// HasRecipient reports whether key is among the recipient keys.
func (p *EncodedPayload) HasRecipient(key PublicKey) bool {
	return slices.Contains(p.RecipientKeys, key)
}

// HasBox reports whether an identical box is already present.
func (p *EncodedPayload) HasBox(box RecipientBox) bool {
	return slices.ContainsFunc(p.RecipientBoxes, box.Equal)
}

// BoxFor returns the box paired with key.
func (p *EncodedPayload) BoxFor(key PublicKey) (RecipientBox, bool) {
	i := slices.Index(p.RecipientKeys, key)
	if i < 0 || i >= len(p.RecipientBoxes) {
		return nil, false
	}
	return p.RecipientBoxes[i], true
}

// AffectedHashes returns the affected transaction hashes in canonical order.
func (p *EncodedPayload) AffectedHashes() []TxHash {
	return SortTxHashes(slices.Collect(maps.Keys(p.AffectedContractTransactions)))
}

// ForRecipient returns the copy of the payload a single recipient receives.
// Other recipients' boxes are removed and key becomes the first recipient.
// PSV payloads keep the remaining recipient keys after it so every party can
// check the full party set.
func (p *EncodedPayload) ForRecipient(key PublicKey) *EncodedPayload {
	out := p.Clone()
	box, ok := p.BoxFor(key)
	if !ok {
		return out
	}
	out.RecipientBoxes = []RecipientBox{bytes.Clone(box)}
	out.RecipientKeys = []PublicKey{key}
	if p.PrivacyMode == PrivateStateValidation {
		for _, k := range p.RecipientKeys {
			if k != key {
				out.RecipientKeys = append(out.RecipientKeys, k)
			}
		}
	}
	return out
}

// PrivacyMetadata is handed to the enclave at encryption time.
type PrivacyMetadata struct {
	PrivacyMode                  PrivacyMode
	AffectedContractTransactions []AffectedTransaction
	ExecHash                     []byte
	MandatoryRecipients          []PublicKey
	PrivacyGroupID               PrivacyGroupID
}

// AffectedTransaction is a stored transaction referenced as a dependency.
type AffectedTransaction struct {
	Hash    TxHash
	Payload *EncodedPayload
}

// EncryptedTransaction is a persisted encoded payload. Version increments on
// every successful update and guards concurrent merges.
type EncryptedTransaction struct {
	Hash    MessageHash
	Payload *EncodedPayload
	Version int64
}

// RawTransaction is a locally encrypted, not yet distributed, payload.
type RawTransaction struct {
	EncryptedPayload []byte
	EncryptedKey     []byte
	Nonce            Nonce
	From             PublicKey
}

// EncryptedRawTransaction is a persisted RawTransaction keyed by the hash of
// its signed data.
type EncryptedRawTransaction struct {
	Hash             MessageHash
	EncryptedPayload []byte
	EncryptedKey     []byte
	Nonce            Nonce
	Sender           PublicKey
}

// ToRawTransaction converts the stored record back for decryption.
func (e *EncryptedRawTransaction) ToRawTransaction() RawTransaction {
	return RawTransaction{
		EncryptedPayload: e.EncryptedPayload,
		EncryptedKey:     e.EncryptedKey,
		Nonce:            e.Nonce,
		From:             e.Sender,
	}
}
