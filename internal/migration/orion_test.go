package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/testutil"
)

func nonce(b byte) []byte {
	return bytes.Repeat([]byte{b}, enc.NonceSize)
}

func export(t *testing.T, records ...any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	for _, r := range records {
		require.NoError(t, e.Encode(r))
	}
	return &buf
}

func TestConvert(t *testing.T) {
	im := NewImporter([]enc.PublicKey{keyB}, nil)

	p, err := im.Convert(OrionRecord{
		Sender:         keyA,
		CipherText:     []byte("cipher"),
		Nonce:          nonce(1),
		EncryptedKeys:  [][]byte{[]byte("boxB")},
		PrivacyGroupID: []byte("group"),
		Addresses:      []enc.PublicKey{keyA, keyB},
	})
	require.NoError(t, err)
	assert.Equal(t, keyA, p.SenderKey)
	assert.Equal(t, enc.Digest([]byte("cipher")), p.Hash())
	assert.Equal(t, []enc.PublicKey{keyB}, p.RecipientKeys)
	assert.Equal(t, boxes("boxB"), p.RecipientBoxes)
	assert.Equal(t, enc.StandardPrivate, p.PrivacyMode)
	assert.Equal(t, enc.PrivacyGroupID("group"), p.PrivacyGroupID)
	assert.Equal(t, enc.Nonce{}, p.RecipientNonce)
}

func TestConvert_Rejects(t *testing.T) {
	im := NewImporter([]enc.PublicKey{keyB}, nil)
	valid := func() OrionRecord {
		return OrionRecord{
			Sender:        keyA,
			CipherText:    []byte("cipher"),
			Nonce:         nonce(1),
			EncryptedKeys: [][]byte{[]byte("boxB")},
			Addresses:     []enc.PublicKey{keyB},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*OrionRecord)
		wantErr string
	}{
		{"empty cipher text", func(r *OrionRecord) { r.CipherText = nil }, "empty cipher text"},
		{"short nonce", func(r *OrionRecord) { r.Nonce = []byte{1} }, "nonce"},
		{"short recipient nonce", func(r *OrionRecord) { r.RecipientNonce = []byte{1} }, "recipient nonce"},
		{"not addressed to us", func(r *OrionRecord) { r.Addresses = []enc.PublicKey{keyC} }, "no recipient box"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(&rec)
			_, err := im.Convert(rec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImport(t *testing.T) {
	s := testutil.OpenStore(t)
	im := NewImporter([]enc.PublicKey{keyA}, s.Transactions())

	input := export(t,
		OrionRecord{
			Sender:        keyA,
			CipherText:    []byte("first"),
			Nonce:         nonce(1),
			EncryptedKeys: [][]byte{[]byte("box1"), []byte("box2")},
			Addresses:     []enc.PublicKey{keyC, keyA},
		},
		OrionRecord{
			Sender:        keyB,
			CipherText:    []byte("second"),
			Nonce:         nonce(2),
			EncryptedKeys: [][]byte{[]byte("boxA")},
			Addresses:     []enc.PublicKey{keyB, keyA},
		},
		OrionRecord{
			Sender:        keyB,
			CipherText:    []byte("broken"),
			Nonce:         []byte{1, 2, 3},
			EncryptedKeys: [][]byte{[]byte("boxA")},
			Addresses:     []enc.PublicKey{keyA},
		},
	)
	data := input.Bytes()

	sum, err := im.Import(t.Context(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEmpty(t, sum.BatchID)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)

	tx, err := s.Transactions().RetrieveByHash(t.Context(), enc.Digest([]byte("first")))
	require.NoError(t, err)
	assert.Equal(t, []enc.PublicKey{keyA, keyC}, tx.Payload.RecipientKeys)
	assert.Equal(t, boxes("box1", "box2"), tx.Payload.RecipientBoxes)

	tx, err = s.Transactions().RetrieveByHash(t.Context(), enc.Digest([]byte("second")))
	require.NoError(t, err)
	assert.Equal(t, []enc.PublicKey{keyA}, tx.Payload.RecipientKeys)

	again, err := im.Import(t.Context(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEqual(t, sum.BatchID, again.BatchID)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, 1, again.Failed)
}

func TestImport_SyntaxErrorStops(t *testing.T) {
	s := testutil.OpenStore(t)
	im := NewImporter([]enc.PublicKey{keyA}, s.Transactions())

	_, err := im.Import(t.Context(), strings.NewReader("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
}

func TestImport_Cancelled(t *testing.T) {
	s := testutil.OpenStore(t)
	im := NewImporter([]enc.PublicKey{keyA}, s.Transactions())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := im.Import(ctx, strings.NewReader(""))
	assert.ErrorIs(t, err, context.Canceled)
}
