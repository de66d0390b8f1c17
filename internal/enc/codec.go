package enc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PayloadVersion is written into every encoded payload.
const PayloadVersion = 1

// payloadWire is the decoded shape of an encoded payload.
type payloadWire struct {
	Version                      int               `json:"version"`
	SenderKey                    string            `json:"senderKey"`
	CipherText                   string            `json:"cipherText"`
	CipherTextNonce              string            `json:"cipherTextNonce"`
	RecipientBoxes               []string          `json:"recipientBoxes"`
	RecipientNonce               string            `json:"recipientNonce"`
	RecipientKeys                []string          `json:"recipientKeys"`
	PrivacyMode                  int               `json:"privacyMode"`
	AffectedContractTransactions map[string]string `json:"affectedContractTransactions"`
	ExecHash                     string            `json:"execHash,omitempty"`
	MandatoryRecipients          []string          `json:"mandatoryRecipients"`
	PrivacyGroupID               *string           `json:"privacyGroupId,omitempty"`
}

var b64 = base64.StdEncoding

// EncodePayload serializes a payload to canonical JSON.
// Mandatory recipients are written in canonical key order.
func EncodePayload(p *EncodedPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	obj := map[string]any{
		"version":                      PayloadVersion,
		"senderKey":                    p.SenderKey.String(),
		"cipherText":                   b64.EncodeToString(p.CipherText),
		"cipherTextNonce":              b64.EncodeToString(p.CipherTextNonce[:]),
		"recipientBoxes":               encodeBoxes(p.RecipientBoxes),
		"recipientNonce":               b64.EncodeToString(p.RecipientNonce[:]),
		"recipientKeys":                encodeKeys(p.RecipientKeys),
		"privacyMode":                  int(p.PrivacyMode),
		"affectedContractTransactions": encodeAffected(p.AffectedContractTransactions),
		"mandatoryRecipients":          encodeKeys(SortKeys(p.MandatoryRecipients)),
	}
	if len(p.ExecHash) > 0 {
		obj["execHash"] = b64.EncodeToString(p.ExecHash)
	}
	if p.PrivacyGroupID != nil {
		obj["privacyGroupId"] = p.PrivacyGroupID.String()
	}

	data, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses bytes produced by EncodePayload.
func DecodePayload(data []byte) (*EncodedPayload, error) {
	var w payloadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if w.Version != PayloadVersion {
		return nil, fmt.Errorf("decode payload: unsupported version %d", w.Version)
	}

	p := &EncodedPayload{}
	var err error
	if p.SenderKey, err = ParsePublicKey(w.SenderKey); err != nil {
		return nil, fmt.Errorf("decode payload: sender: %w", err)
	}
	if p.CipherText, err = b64.DecodeString(w.CipherText); err != nil {
		return nil, fmt.Errorf("decode payload: cipher text: %w", err)
	}
	if p.CipherTextNonce, err = decodeNonce(w.CipherTextNonce); err != nil {
		return nil, fmt.Errorf("decode payload: cipher text nonce: %w", err)
	}
	if p.RecipientNonce, err = decodeNonce(w.RecipientNonce); err != nil {
		return nil, fmt.Errorf("decode payload: recipient nonce: %w", err)
	}
	if p.PrivacyMode, err = PrivacyModeFromFlag(w.PrivacyMode); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	for i, s := range w.RecipientBoxes {
		box, err := b64.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode payload: box[%d]: %w", i, err)
		}
		p.RecipientBoxes = append(p.RecipientBoxes, box)
	}
	if p.RecipientKeys, err = decodeKeys(w.RecipientKeys); err != nil {
		return nil, fmt.Errorf("decode payload: recipients: %w", err)
	}
	if p.MandatoryRecipients, err = decodeKeys(w.MandatoryRecipients); err != nil {
		return nil, fmt.Errorf("decode payload: mandatory recipients: %w", err)
	}
	if len(w.AffectedContractTransactions) > 0 {
		p.AffectedContractTransactions = make(map[TxHash]SecurityHash, len(w.AffectedContractTransactions))
		for k, v := range w.AffectedContractTransactions {
			txHash, err := ParseTxHash(k)
			if err != nil {
				return nil, fmt.Errorf("decode payload: affected tx: %w", err)
			}
			sec, err := b64.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("decode payload: security hash for %s: %w", k, err)
			}
			p.AffectedContractTransactions[txHash] = sec
		}
	}
	if w.ExecHash != "" {
		if p.ExecHash, err = b64.DecodeString(w.ExecHash); err != nil {
			return nil, fmt.Errorf("decode payload: exec hash: %w", err)
		}
	}
	if w.PrivacyGroupID != nil {
		gid, err := b64.DecodeString(*w.PrivacyGroupID)
		if err != nil {
			return nil, fmt.Errorf("decode payload: privacy group: %w", err)
		}
		p.PrivacyGroupID = PrivacyGroupID(gid)
		if p.PrivacyGroupID == nil {
			p.PrivacyGroupID = PrivacyGroupID{}
		}
	}
	return p, nil
}

func encodeKeys(keys []PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func decodeKeys(in []string) ([]PublicKey, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]PublicKey, len(in))
	for i, s := range in {
		k, err := ParsePublicKey(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

func encodeBoxes(boxes []RecipientBox) []string {
	out := make([]string, len(boxes))
	for i, b := range boxes {
		out[i] = b64.EncodeToString(b)
	}
	return out
}

func encodeAffected(m map[TxHash]SecurityHash) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k.String()] = v.String()
	}
	return out
}

func decodeNonce(s string) (Nonce, error) {
	var n Nonce
	b, err := b64.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != NonceSize {
		return n, fmt.Errorf("want %d bytes, got %d", NonceSize, len(b))
	}
	copy(n[:], b)
	return n, nil
}
