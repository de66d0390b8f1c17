// Package enc defines the data model shared by every privtx component:
// public keys, message hashes, encoded payloads and the stored transaction
// records built from them.
//
// enc imports nothing internal. All byte identities are rendered as standard
// base64 when they cross a text boundary (JSON, YAML, logs).
//
// Key design constraints:
//   - PublicKey has a total byte-lexicographic order used for every sort
//   - MessageHash is the SHA3-512 digest of a payload's ciphertext
//   - EncodedPayload recipient keys and boxes are index-correlated when both are present
//   - Payload bytes are produced by the canonical JSON codec only
package enc
