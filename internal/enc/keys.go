package enc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"slices"
)

// KeySize is the length in bytes of a PublicKey.
const KeySize = 32

// PublicKey is an opaque fixed-length party identity.
type PublicKey [KeySize]byte

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != KeySize {
		return k, fmt.Errorf("public key: want %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// ParsePublicKey decodes a standard base64 key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("public key %q: %w", s, err)
	}
	return PublicKeyFromBytes(b)
}

// MustParsePublicKey is like ParsePublicKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParsePublicKey(s string) PublicKey {
	k, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Bytes returns a copy of the key bytes.
func (k PublicKey) Bytes() []byte {
	return bytes.Clone(k[:])
}

// String returns the base64 form of the key.
func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Compare orders keys byte-lexicographically.
func (k PublicKey) Compare(o PublicKey) int {
	return bytes.Compare(k[:], o[:])
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SortKeys returns a sorted copy of keys.
func SortKeys(keys []PublicKey) []PublicKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, PublicKey.Compare)
	return out
}

// KeySet is an unordered set of public keys.
type KeySet map[PublicKey]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...PublicKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Contains reports whether k is in the set.
func (s KeySet) Contains(k PublicKey) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the members in canonical order.
func (s KeySet) Sorted() []PublicKey {
	out := make([]PublicKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.SortFunc(out, PublicKey.Compare)
	return out
}

// Intersect returns the members of keys that are also in s, in input order
// and without duplicates.
func (s KeySet) Intersect(keys []PublicKey) []PublicKey {
	out := make([]PublicKey, 0, len(keys))
	seen := make(KeySet, len(keys))
	for _, k := range keys {
		if s.Contains(k) && !seen.Contains(k) {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// ContainsAll reports whether every member of other is in s.
func (s KeySet) ContainsAll(other KeySet) bool {
	for k := range other {
		if !s.Contains(k) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same members.
func (s KeySet) Equal(other KeySet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// DedupKeys drops repeated keys, keeping first occurrences.
func DedupKeys(keys []PublicKey) []PublicKey {
	out := make([]PublicKey, 0, len(keys))
	seen := make(KeySet, len(keys))
	for _, k := range keys {
		if !seen.Contains(k) {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
