package transaction

import (
	"github.com/roach88/privtx/internal/enc"
)

// SendRequest asks the node to encrypt, store and distribute a payload.
// A zero Sender selects the enclave's default key.
type SendRequest struct {
	Payload                      []byte
	Sender                       enc.PublicKey
	Recipients                   []enc.PublicKey
	PrivacyMode                  enc.PrivacyMode
	MandatoryRecipients          []enc.PublicKey
	AffectedContractTransactions []enc.TxHash
	ExecHash                     []byte
	PrivacyGroupID               enc.PrivacyGroupID
}

// SendSignedRequest distributes a previously stored raw transaction.
type SendSignedRequest struct {
	SignedData                   enc.MessageHash
	Recipients                   []enc.PublicKey
	PrivacyMode                  enc.PrivacyMode
	MandatoryRecipients          []enc.PublicKey
	AffectedContractTransactions []enc.TxHash
	ExecHash                     []byte
	PrivacyGroupID               enc.PrivacyGroupID
}

// SendResponse reports the stored transaction.
type SendResponse struct {
	TransactionHash enc.MessageHash
	ManagedParties  []enc.PublicKey
	Sender          enc.PublicKey
}

// StoreRawRequest asks the node to encrypt a payload without distributing it.
// A zero Sender selects the enclave's default key.
type StoreRawRequest struct {
	Payload []byte
	Sender  enc.PublicKey
}

// StoreRawResponse carries the raw transaction hash.
type StoreRawResponse struct {
	Hash enc.MessageHash
}

// ReceiveRequest asks for the plaintext of a stored transaction.
type ReceiveRequest struct {
	TransactionHash enc.MessageHash
	Recipient       *enc.PublicKey
	Raw             bool
}

// ReceiveResponse is a decrypted transaction.
type ReceiveResponse struct {
	Sender               enc.PublicKey
	UnencryptedData      []byte
	PrivacyMode          enc.PrivacyMode
	ExecHash             []byte
	AffectedTransactions []enc.TxHash
	PrivacyGroupID       enc.PrivacyGroupID
	ManagedParties       []enc.PublicKey
}

// Outcome describes what StorePayload did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDelegated Outcome = "delegated"
	OutcomeDropped   Outcome = "dropped"
)

// StoreResult is the result of StorePayload. Reason is set for dropped
// payloads.
type StoreResult struct {
	Hash    enc.MessageHash
	Outcome Outcome
	Reason  string
}

// Stored reports whether the payload is now held by this node.
func (r StoreResult) Stored() bool {
	return r.Outcome != OutcomeDropped
}
