package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/roach88/privtx/internal/enc"
)

// createTestStore opens a fresh database in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(b byte) enc.PublicKey {
	var k enc.PublicKey
	copy(k[:], bytes.Repeat([]byte{b}, enc.KeySize))
	return k
}

// createTestTransaction builds a transaction with one recipient.
func createTestTransaction(cipherText string, sender, recipient byte) *enc.EncryptedTransaction {
	p := &enc.EncodedPayload{
		SenderKey:      testKey(sender),
		CipherText:     []byte(cipherText),
		RecipientKeys:  []enc.PublicKey{testKey(recipient)},
		RecipientBoxes: []enc.RecipientBox{[]byte("box-" + cipherText)},
	}
	return &enc.EncryptedTransaction{Hash: p.Hash(), Payload: p}
}
