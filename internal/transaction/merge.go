package transaction

import (
	"bytes"
	"slices"

	"github.com/roach88/privtx/internal/enc"
)

// MergePayload folds the recipient box carried by incoming into existing.
// It returns the merged payload and whether anything changed; existing is
// never modified.
//
// Both payloads must share ciphertext. The incoming payload is a single
// recipient's view: its first recipient key owns its first box.
//
//   - Standard modes prepend the new (key, box) pair unless the key is present.
//   - Legacy rows without recipient keys prepend the box unless present.
//   - A keyless incoming payload cannot merge into a keyed row: its box has
//     no key to pair with and would shift every existing pairing.
//   - PSV payloads fix their party set at creation. The incoming key must
//     already be a party; it moves to the front alongside its box so keys and
//     boxes stay index-correlated.
func MergePayload(existing, incoming *enc.EncodedPayload) (*enc.EncodedPayload, bool, error) {
	if !bytes.Equal(existing.CipherText, incoming.CipherText) {
		return nil, false, newInvalidStateError("Invalid existing transaction")
	}
	if len(incoming.RecipientBoxes) == 0 {
		return nil, false, newInvalidStateError("Incoming payload carries no recipient box")
	}
	box := incoming.RecipientBoxes[0]

	if existing.PrivacyMode == enc.PrivateStateValidation {
		return mergePSV(existing, incoming, box)
	}

	merged := existing.Clone()
	if len(existing.RecipientKeys) == 0 {
		if existing.HasBox(box) {
			return existing, false, nil
		}
		merged.RecipientBoxes = prepend(merged.RecipientBoxes, box)
		return merged, true, nil
	}
	if len(incoming.RecipientKeys) == 0 {
		return nil, false, newInvalidStateError("Incoming payload carries a box without a recipient key")
	}

	key := incoming.RecipientKeys[0]
	if existing.HasRecipient(key) {
		return existing, false, nil
	}
	merged.RecipientKeys = prepend(merged.RecipientKeys, key)
	merged.RecipientBoxes = prepend(merged.RecipientBoxes, box)
	return merged, true, nil
}

func mergePSV(existing, incoming *enc.EncodedPayload, box enc.RecipientBox) (*enc.EncodedPayload, bool, error) {
	if !bytes.Equal(existing.ExecHash, incoming.ExecHash) {
		return nil, false, newInvalidStateError("Invalid existing transaction")
	}
	if len(incoming.RecipientKeys) == 0 || !existing.HasRecipient(incoming.RecipientKeys[0]) {
		return nil, false, newInvalidStateError("expected recipient not found")
	}
	key := incoming.RecipientKeys[0]

	if _, owned := existing.BoxFor(key); owned || existing.HasBox(box) {
		return existing, false, nil
	}

	merged := existing.Clone()
	rest := slices.DeleteFunc(merged.RecipientKeys, func(k enc.PublicKey) bool { return k == key })
	merged.RecipientKeys = prepend(rest, key)
	merged.RecipientBoxes = prepend(merged.RecipientBoxes, box)
	return merged, true, nil
}

func prepend[T any](s []T, v T) []T {
	return append([]T{v}, s...)
}
