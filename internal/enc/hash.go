package enc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"slices"

	"golang.org/x/crypto/sha3"
)

// HashSize is the length in bytes of a MessageHash (SHA3-512).
const HashSize = 64

// NonceSize is the length in bytes of a Nonce.
const NonceSize = 24

// MessageHash is the digest of a transaction's ciphertext and the primary
// key of an encrypted transaction.
type MessageHash [HashSize]byte

// TxHash names another transaction that an encoded payload depends on.
// It shares the MessageHash representation.
type TxHash MessageHash

// SecurityHash proves agreement on the outcome of an affected transaction.
type SecurityHash []byte

// Nonce is a 24-byte NaCl nonce.
type Nonce [NonceSize]byte

// RecipientBox is the sealed master key for a single recipient.
type RecipientBox []byte

// Digest computes the MessageHash of a ciphertext.
// Identical ciphertext always yields the identical hash.
func Digest(cipherText []byte) MessageHash {
	return MessageHash(sha3.Sum512(cipherText))
}

// MessageHashFromBytes copies b into a MessageHash.
func MessageHashFromBytes(b []byte) (MessageHash, error) {
	var h MessageHash
	if len(b) != HashSize {
		return h, fmt.Errorf("message hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseMessageHash decodes a base64 hash. Both standard and URL-safe
// alphabets are accepted since hashes travel in URL paths.
func ParseMessageHash(s string) (MessageHash, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var urlErr error
		b, urlErr = base64.URLEncoding.DecodeString(s)
		if urlErr != nil {
			return MessageHash{}, fmt.Errorf("message hash %q: %w", s, err)
		}
	}
	return MessageHashFromBytes(b)
}

// Bytes returns a copy of the hash bytes.
func (h MessageHash) Bytes() []byte { return bytes.Clone(h[:]) }

// String returns the standard base64 form.
func (h MessageHash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// URLString returns the URL-safe base64 form.
func (h MessageHash) URLString() string {
	return base64.URLEncoding.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h MessageHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *MessageHash) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// String returns the standard base64 form.
func (t TxHash) String() string { return MessageHash(t).String() }

// MarshalText implements encoding.TextMarshaler.
func (t TxHash) MarshalText() ([]byte, error) {
	return MessageHash(t).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TxHash) UnmarshalText(text []byte) error {
	return (*MessageHash)(t).UnmarshalText(text)
}

// ParseTxHash decodes a base64 transaction hash.
func ParseTxHash(s string) (TxHash, error) {
	h, err := ParseMessageHash(s)
	return TxHash(h), err
}

// Compare orders transaction hashes byte-lexicographically.
func (t TxHash) Compare(o TxHash) int {
	return bytes.Compare(t[:], o[:])
}

// SortTxHashes returns a sorted copy of hashes.
func SortTxHashes(hashes []TxHash) []TxHash {
	out := slices.Clone(hashes)
	slices.SortFunc(out, TxHash.Compare)
	return out
}

// String returns the base64 form of the security hash.
func (s SecurityHash) String() string {
	return base64.StdEncoding.EncodeToString(s)
}

// Equal reports whether both boxes hold the same bytes.
func (b RecipientBox) Equal(o RecipientBox) bool {
	return bytes.Equal(b, o)
}
