package api

import (
	"github.com/roach88/privtx/internal/enc"
)

// SendRequest is the body of POST /send and POST /encodedpayload/create.
// Keys and hashes are base64.
type SendRequest struct {
	Payload                      []byte          `json:"payload"`
	From                         *enc.PublicKey  `json:"from,omitempty"`
	To                           []enc.PublicKey `json:"to"`
	PrivacyFlag                  int             `json:"privacyFlag"`
	AffectedContractTransactions []enc.TxHash    `json:"affectedContractTransactions,omitempty"`
	ExecHash                     []byte          `json:"execHash,omitempty"`
	MandatoryRecipients          []enc.PublicKey `json:"mandatoryRecipients,omitempty"`
	PrivacyGroupID               []byte          `json:"privacyGroupId,omitempty"`
}

// SendSignedRequest is the body of POST /sendsignedtx.
type SendSignedRequest struct {
	Hash                         enc.MessageHash `json:"hash"`
	To                           []enc.PublicKey `json:"to"`
	PrivacyFlag                  int             `json:"privacyFlag"`
	AffectedContractTransactions []enc.TxHash    `json:"affectedContractTransactions,omitempty"`
	ExecHash                     []byte          `json:"execHash,omitempty"`
	MandatoryRecipients          []enc.PublicKey `json:"mandatoryRecipients,omitempty"`
	PrivacyGroupID               []byte          `json:"privacyGroupId,omitempty"`
}

// SendResponse answers a send.
type SendResponse struct {
	Key            enc.MessageHash `json:"key"`
	ManagedParties []enc.PublicKey `json:"managedParties"`
	SenderKey      enc.PublicKey   `json:"senderKey"`
}

// StoreRawRequest is the body of POST /storeraw.
type StoreRawRequest struct {
	Payload []byte         `json:"payload"`
	From    *enc.PublicKey `json:"from,omitempty"`
}

// StoreRawResponse answers a raw store.
type StoreRawResponse struct {
	Key enc.MessageHash `json:"key"`
}

// ReceiveResponse is the decrypted view of a transaction.
type ReceiveResponse struct {
	Payload                      []byte          `json:"payload"`
	PrivacyFlag                  int             `json:"privacyFlag"`
	AffectedContractTransactions []enc.TxHash    `json:"affectedContractTransactions"`
	ExecHash                     []byte          `json:"execHash,omitempty"`
	ManagedParties               []enc.PublicKey `json:"managedParties"`
	SenderKey                    enc.PublicKey   `json:"senderKey"`
	PrivacyGroupID               []byte          `json:"privacyGroupId,omitempty"`
}

// DecryptRequest is the body of POST /encodedpayload/decrypt. The payload
// uses the peer wire encoding.
type DecryptRequest struct {
	EncodedPayload []byte         `json:"encodedPayload"`
	Recipient      *enc.PublicKey `json:"recipient,omitempty"`
}

// ResendRequest is the body of POST /resend.
type ResendRequest struct {
	Type      string           `json:"type"`
	PublicKey enc.PublicKey    `json:"publicKey"`
	Key       *enc.MessageHash `json:"key,omitempty"`
}

// ResendResponse reports how many transactions a resend pushed.
type ResendResponse struct {
	Pushed int `json:"pushed"`
}

// KeysResponse lists the node's local identities.
type KeysResponse struct {
	Keys []enc.PublicKey `json:"keys"`
}

// Resend request types.
const (
	ResendAll        = "ALL"
	ResendIndividual = "INDIVIDUAL"
)
