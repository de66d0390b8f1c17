// Package enclave implements a local NaCl enclave: it holds the node's key
// pairs and performs every encryption, decryption and security-hash
// computation on encoded payloads.
//
// A payload is sealed with a random master key (secretbox). The master key
// is then boxed once per recipient using the sender/recipient shared key
// and a single recipient nonce.
package enclave

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/privtx/internal/enc"
)

var (
	// ErrDecrypt is returned when no available key opens a payload.
	ErrDecrypt = errors.New("unable to decrypt payload")

	// ErrUnknownKey is returned when an operation needs the private half of
	// a key this enclave does not hold.
	ErrUnknownKey = errors.New("key not held by enclave")
)

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	Public  enc.PublicKey
	Private [32]byte
}

// GenerateKeyPair creates a new key pair from r.
func GenerateKeyPair(r io.Reader) (KeyPair, error) {
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPair{Public: enc.PublicKey(*pub), Private: *priv}, nil
}

// Option configures an Enclave.
type Option func(*Enclave)

// WithRand sets the randomness source for keys and nonces.
func WithRand(r io.Reader) Option {
	return func(e *Enclave) { e.rand = r }
}

// Enclave holds local identities and performs payload cryptography.
// It is safe for concurrent use; its key material is fixed at construction.
type Enclave struct {
	keys       []KeyPair
	private    map[enc.PublicKey][32]byte
	forwarding []enc.PublicKey
	rand       io.Reader
}

// New creates an enclave. The first key pair is the default identity.
func New(keys []KeyPair, forwarding []enc.PublicKey, opts ...Option) (*Enclave, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("enclave: at least one key pair is required")
	}
	e := &Enclave{
		keys:       keys,
		private:    make(map[enc.PublicKey][32]byte, len(keys)),
		forwarding: enc.DedupKeys(forwarding),
		rand:       rand.Reader,
	}
	for _, kp := range keys {
		if _, dup := e.private[kp.Public]; dup {
			return nil, fmt.Errorf("enclave: duplicate key %s", kp.Public)
		}
		e.private[kp.Public] = kp.Private
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DefaultPublicKey returns the first configured identity.
func (e *Enclave) DefaultPublicKey() enc.PublicKey {
	return e.keys[0].Public
}

// PublicKeys returns every local identity.
func (e *Enclave) PublicKeys() enc.KeySet {
	s := make(enc.KeySet, len(e.keys))
	for _, kp := range e.keys {
		s[kp.Public] = struct{}{}
	}
	return s
}

// ForwardingKeys returns the keys every sent transaction is also shared with.
func (e *Enclave) ForwardingKeys() []enc.PublicKey {
	return append([]enc.PublicKey(nil), e.forwarding...)
}

// EncryptPayload seals plaintext from sender to every recipient.
func (e *Enclave) EncryptPayload(plaintext []byte, sender enc.PublicKey, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error) {
	senderPriv, ok := e.private[sender]
	if !ok {
		return nil, fmt.Errorf("encrypt payload: sender %s: %w", sender, ErrUnknownKey)
	}

	var masterKey [32]byte
	var nonce enc.Nonce
	if err := e.fill(masterKey[:], nonce[:]); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	cipherText := secretbox.Seal(nil, plaintext, (*[24]byte)(&nonce), &masterKey)

	return e.buildPayload(sender, senderPriv, masterKey, cipherText, nonce, recipients, meta)
}

// EncryptRawTransaction re-encrypts a stored raw transaction for recipients.
// The ciphertext is reused so the resulting payload hashes the same as the
// raw transaction.
func (e *Enclave) EncryptRawTransaction(raw enc.RawTransaction, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error) {
	senderPriv, ok := e.private[raw.From]
	if !ok {
		return nil, fmt.Errorf("encrypt raw transaction: sender %s: %w", raw.From, ErrUnknownKey)
	}
	masterKey, err := openBox(raw.EncryptedKey, raw.Nonce, raw.From, senderPriv)
	if err != nil {
		return nil, fmt.Errorf("encrypt raw transaction: %w", err)
	}
	return e.buildPayload(raw.From, senderPriv, masterKey, raw.EncryptedPayload, raw.Nonce, recipients, meta)
}

func (e *Enclave) buildPayload(sender enc.PublicKey, senderPriv, masterKey [32]byte, cipherText []byte, nonce enc.Nonce, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error) {
	var recipientNonce enc.Nonce
	if err := e.fill(recipientNonce[:]); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	boxes := make([]enc.RecipientBox, len(recipients))
	for i, r := range recipients {
		var shared [32]byte
		box.Precompute(&shared, (*[32]byte)(&r), &senderPriv)
		boxes[i] = box.SealAfterPrecomputation(nil, masterKey[:], (*[24]byte)(&recipientNonce), &shared)
	}

	affected := make(map[enc.TxHash]enc.SecurityHash, len(meta.AffectedContractTransactions))
	for _, a := range meta.AffectedContractTransactions {
		sec, err := e.securityHash(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("encrypt payload: affected %s: %w", a.Hash, err)
		}
		affected[a.Hash] = sec
	}

	return &enc.EncodedPayload{
		SenderKey:                    sender,
		CipherText:                   cipherText,
		CipherTextNonce:              nonce,
		RecipientBoxes:               boxes,
		RecipientNonce:               recipientNonce,
		RecipientKeys:                append([]enc.PublicKey(nil), recipients...),
		PrivacyMode:                  meta.PrivacyMode,
		AffectedContractTransactions: affected,
		ExecHash:                     meta.ExecHash,
		MandatoryRecipients:          enc.SortKeys(meta.MandatoryRecipients),
		PrivacyGroupID:               meta.PrivacyGroupID,
	}, nil
}

// EncryptRawPayload seals plaintext for later distribution. The master key
// is boxed to the sender itself.
func (e *Enclave) EncryptRawPayload(plaintext []byte, sender enc.PublicKey) (enc.RawTransaction, error) {
	senderPriv, ok := e.private[sender]
	if !ok {
		return enc.RawTransaction{}, fmt.Errorf("encrypt raw payload: sender %s: %w", sender, ErrUnknownKey)
	}

	var masterKey [32]byte
	var nonce enc.Nonce
	if err := e.fill(masterKey[:], nonce[:]); err != nil {
		return enc.RawTransaction{}, fmt.Errorf("encrypt raw payload: %w", err)
	}

	var shared [32]byte
	box.Precompute(&shared, (*[32]byte)(&sender), &senderPriv)

	return enc.RawTransaction{
		EncryptedPayload: secretbox.Seal(nil, plaintext, (*[24]byte)(&nonce), &masterKey),
		EncryptedKey:     box.SealAfterPrecomputation(nil, masterKey[:], (*[24]byte)(&nonce), &shared),
		Nonce:            nonce,
		From:             sender,
	}, nil
}

// UnencryptRawPayload opens a raw transaction created by this enclave.
func (e *Enclave) UnencryptRawPayload(raw enc.RawTransaction) ([]byte, error) {
	senderPriv, ok := e.private[raw.From]
	if !ok {
		return nil, fmt.Errorf("unencrypt raw payload: sender %s: %w", raw.From, ErrUnknownKey)
	}
	masterKey, err := openBox(raw.EncryptedKey, raw.Nonce, raw.From, senderPriv)
	if err != nil {
		return nil, fmt.Errorf("unencrypt raw payload: %w", err)
	}
	plain, ok := secretbox.Open(nil, raw.EncryptedPayload, (*[24]byte)(&raw.Nonce), &masterKey)
	if !ok {
		return nil, fmt.Errorf("unencrypt raw payload: %w", ErrDecrypt)
	}
	return plain, nil
}

// UnencryptTransaction opens payload as the local identity recipient.
func (e *Enclave) UnencryptTransaction(payload *enc.EncodedPayload, recipient enc.PublicKey) ([]byte, error) {
	priv, ok := e.private[recipient]
	if !ok {
		return nil, fmt.Errorf("unencrypt %s as %s: %w", payload.Hash(), recipient, ErrUnknownKey)
	}
	masterKey, err := masterKeyAs(payload, recipient, priv)
	if err != nil {
		return nil, fmt.Errorf("unencrypt %s as %s: %w", payload.Hash(), recipient, err)
	}
	plain, ok := secretbox.Open(nil, payload.CipherText, (*[24]byte)(&payload.CipherTextNonce), &masterKey)
	if !ok {
		return nil, fmt.Errorf("unencrypt %s as %s: %w", payload.Hash(), recipient, ErrDecrypt)
	}
	return plain, nil
}

// FindInvalidSecurityHashes returns the affected transactions whose declared
// security hash in payload does not match the one this enclave computes.
// A dependency the enclave cannot open, or one payload does not declare, is
// reported as invalid.
func (e *Enclave) FindInvalidSecurityHashes(payload *enc.EncodedPayload, affected []enc.AffectedTransaction) []enc.TxHash {
	var invalid []enc.TxHash
	for _, a := range affected {
		declared, ok := payload.AffectedContractTransactions[a.Hash]
		if !ok {
			invalid = append(invalid, a.Hash)
			continue
		}
		expected, err := e.securityHash(a.Payload)
		if err != nil {
			slog.Debug("cannot compute security hash", "affected", a.Hash.String(), "error", err)
			invalid = append(invalid, a.Hash)
			continue
		}
		if subtle.ConstantTimeCompare(expected, declared) != 1 {
			invalid = append(invalid, a.Hash)
		}
	}
	return enc.SortTxHashes(invalid)
}

// securityHash computes SHA3-512(cipherText || masterKey || recipientNonce)
// for a transaction one of the local identities can open.
func (e *Enclave) securityHash(p *enc.EncodedPayload) (enc.SecurityHash, error) {
	masterKey, err := e.anyMasterKey(p)
	if err != nil {
		return nil, err
	}
	h := sha3.New512()
	h.Write(p.CipherText)
	h.Write(masterKey[:])
	h.Write(p.RecipientNonce[:])
	return h.Sum(nil), nil
}

// anyMasterKey recovers the master key with the first local identity able
// to open the payload.
func (e *Enclave) anyMasterKey(p *enc.EncodedPayload) ([32]byte, error) {
	for _, kp := range e.keys {
		if mk, err := masterKeyAs(p, kp.Public, kp.Private); err == nil {
			return mk, nil
		}
	}
	return [32]byte{}, ErrDecrypt
}

// masterKeyAs recovers the master key acting as self.
// The sender may open any recipient's box. A recipient opens its own box,
// or tries every box when the payload carries no recipient keys.
func masterKeyAs(p *enc.EncodedPayload, self enc.PublicKey, priv [32]byte) ([32]byte, error) {
	if self == p.SenderKey {
		for i, r := range p.RecipientKeys {
			if i >= len(p.RecipientBoxes) {
				break
			}
			if mk, err := openBox(p.RecipientBoxes[i], p.RecipientNonce, r, priv); err == nil {
				return mk, nil
			}
		}
	}

	if b, ok := p.BoxFor(self); ok {
		return openBox(b, p.RecipientNonce, p.SenderKey, priv)
	}

	if len(p.RecipientKeys) == 0 {
		for _, b := range p.RecipientBoxes {
			if mk, err := openBox(b, p.RecipientNonce, p.SenderKey, priv); err == nil {
				return mk, nil
			}
		}
	}
	return [32]byte{}, ErrDecrypt
}

func openBox(b enc.RecipientBox, nonce enc.Nonce, peer enc.PublicKey, priv [32]byte) ([32]byte, error) {
	var shared [32]byte
	box.Precompute(&shared, (*[32]byte)(&peer), &priv)
	return openMasterKeyShared(b, nonce, &shared)
}

func openMasterKeyShared(sealed []byte, nonce enc.Nonce, shared *[32]byte) ([32]byte, error) {
	var mk [32]byte
	out, ok := box.OpenAfterPrecomputation(nil, sealed, (*[24]byte)(&nonce), shared)
	if !ok || len(out) != len(mk) {
		return mk, ErrDecrypt
	}
	copy(mk[:], out)
	return mk, nil
}

func (e *Enclave) fill(bufs ...[]byte) error {
	for _, b := range bufs {
		if _, err := io.ReadFull(e.rand, b); err != nil {
			return fmt.Errorf("read randomness: %w", err)
		}
	}
	return nil
}
