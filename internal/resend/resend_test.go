package resend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
	"github.com/roach88/privtx/internal/transaction"
)

func testKey(b byte) enc.PublicKey {
	var k enc.PublicKey
	copy(k[:], bytes.Repeat([]byte{b}, enc.KeySize))
	return k
}

var (
	keyA = testKey(0xA)
	keyB = testKey(0xB)
	keyC = testKey(0xC)
)

// stubEnclave opens "ct:"-tagged ciphertext for any local key.
type stubEnclave struct {
	local []enc.PublicKey
	fail  bool
}

func (s *stubEnclave) PublicKeys() enc.KeySet { return enc.NewKeySet(s.local...) }

func (s *stubEnclave) UnencryptTransaction(p *enc.EncodedPayload, recipient enc.PublicKey) ([]byte, error) {
	if s.fail || !slices.Contains(s.local, recipient) {
		return nil, errors.New("stub: cannot decrypt")
	}
	return bytes.TrimPrefix(p.CipherText, []byte("ct:")), nil
}

type pushRecord struct {
	hash      enc.MessageHash
	recipient enc.PublicKey
}

type stubPublisher struct {
	pushes []pushRecord
	failOn map[enc.MessageHash]bool
}

func (s *stubPublisher) PublishPayload(_ context.Context, p *enc.EncodedPayload, recipients []enc.PublicKey) error {
	if s.failOn[p.Hash()] {
		return fmt.Errorf("push %s refused", p.Hash())
	}
	for _, r := range recipients {
		s.pushes = append(s.pushes, pushRecord{hash: p.Hash(), recipient: r})
	}
	return nil
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func payload(sender enc.PublicKey, ct string, recipients ...enc.PublicKey) *enc.EncodedPayload {
	boxes := make([]enc.RecipientBox, len(recipients))
	for i, r := range recipients {
		boxes[i] = append([]byte("box:"), r[:]...)
	}
	return &enc.EncodedPayload{
		SenderKey:      sender,
		CipherText:     []byte(ct),
		RecipientKeys:  recipients,
		RecipientBoxes: boxes,
	}
}

func seed(t *testing.T, s *store.Store, p *enc.EncodedPayload) enc.MessageHash {
	t.Helper()
	require.NoError(t, s.Transactions().Save(context.Background(),
		&enc.EncryptedTransaction{Hash: p.Hash(), Payload: p}))
	return p.Hash()
}

func TestAcceptOwnMessage_StoresMissingTransaction(t *testing.T) {
	s := createTestStore(t)
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), &stubPublisher{}, 0)

	p := payload(keyA, "ct:mine", keyB)
	require.NoError(t, m.AcceptOwnMessage(t.Context(), p))

	stored, err := s.Transactions().RetrieveByHash(t.Context(), p.Hash())
	require.NoError(t, err)
	assert.Equal(t, []enc.PublicKey{keyB}, stored.Payload.RecipientKeys)
}

func TestAcceptOwnMessage_MergesIntoExisting(t *testing.T) {
	s := createTestStore(t)
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), &stubPublisher{}, 0)
	ctx := t.Context()

	seed(t, s, payload(keyA, "ct:mine", keyB))
	require.NoError(t, m.AcceptOwnMessage(ctx, payload(keyA, "ct:mine", keyC)))

	stored, err := s.Transactions().RetrieveByHash(ctx, enc.Digest([]byte("ct:mine")))
	require.NoError(t, err)
	assert.Equal(t, []enc.PublicKey{keyC, keyB}, stored.Payload.RecipientKeys)
	assert.Equal(t, int64(1), stored.Version)

	// pushing the same view again changes nothing
	require.NoError(t, m.AcceptOwnMessage(ctx, payload(keyA, "ct:mine", keyC)))
	stored, err = s.Transactions().RetrieveByHash(ctx, enc.Digest([]byte("ct:mine")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestAcceptOwnMessage_Rejections(t *testing.T) {
	t.Run("sender not local", func(t *testing.T) {
		s := createTestStore(t)
		m := NewManager(&stubEnclave{local: []enc.PublicKey{keyB}}, s.Transactions(), &stubPublisher{}, 0)

		err := m.AcceptOwnMessage(t.Context(), payload(keyA, "ct:x", keyB))
		assert.Equal(t, transaction.CodeInvalidRequest, transaction.CodeOf(err))
	})

	t.Run("undecryptable", func(t *testing.T) {
		s := createTestStore(t)
		m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}, fail: true}, s.Transactions(), &stubPublisher{}, 0)

		err := m.AcceptOwnMessage(t.Context(), payload(keyA, "ct:x", keyB))
		assert.True(t, transaction.IsInvalidState(err))
	})

	t.Run("keyless copy of a keyed row", func(t *testing.T) {
		s := createTestStore(t)
		m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), &stubPublisher{}, 0)
		hash := seed(t, s, payload(keyA, "ct:mine", keyB))

		keyless := payload(keyA, "ct:mine", keyC)
		keyless.RecipientKeys = nil
		err := m.AcceptOwnMessage(t.Context(), keyless)
		assert.True(t, transaction.IsInvalidState(err), "err: %v", err)

		stored, err := s.Transactions().RetrieveByHash(t.Context(), hash)
		require.NoError(t, err)
		assert.Equal(t, []enc.PublicKey{keyB}, stored.Payload.RecipientKeys)
		assert.Equal(t, []enc.RecipientBox{append([]byte("box:"), keyB[:]...)}, stored.Payload.RecipientBoxes)
		assert.Zero(t, stored.Version)
	})
}

func TestResendIndividual(t *testing.T) {
	s := createTestStore(t)
	pub := &stubPublisher{}
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), pub, 0)
	ctx := t.Context()

	own := seed(t, s, payload(keyA, "ct:own", keyB, keyA))
	foreign := seed(t, s, payload(keyC, "ct:foreign", keyA))

	require.NoError(t, m.ResendIndividual(ctx, own, keyB))
	assert.Equal(t, []pushRecord{{hash: own, recipient: keyB}}, pub.pushes)

	err := m.ResendIndividual(ctx, own, keyC)
	assert.Equal(t, transaction.CodeInvalidRequest, transaction.CodeOf(err))

	err = m.ResendIndividual(ctx, foreign, keyC)
	assert.Equal(t, transaction.CodeInvalidRequest, transaction.CodeOf(err))

	err = m.ResendIndividual(ctx, enc.Digest([]byte("missing")), keyB)
	assert.True(t, transaction.IsNotFound(err))
	assert.Len(t, pub.pushes, 1)
}

func TestResendAll(t *testing.T) {
	s := createTestStore(t)
	pub := &stubPublisher{}
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), pub, 2)

	var want []pushRecord
	for i := range 5 {
		h := seed(t, s, payload(keyA, fmt.Sprintf("ct:to-b-%d", i), keyB, keyA))
		want = append(want, pushRecord{hash: h, recipient: keyB})
	}
	seed(t, s, payload(keyA, "ct:to-c", keyC, keyA))
	fromB := seed(t, s, payload(keyB, "ct:from-b", keyA))
	seed(t, s, payload(keyC, "ct:from-c", keyA, keyB))
	want = append(want, pushRecord{hash: fromB, recipient: keyB})

	sent, err := m.ResendAll(t.Context(), keyB)
	require.NoError(t, err)
	assert.Equal(t, 6, sent)
	assert.Equal(t, want, pub.pushes)
}

func TestResendAll_ContinuesPastFailures(t *testing.T) {
	s := createTestStore(t)
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), nil, 0)

	bad := seed(t, s, payload(keyA, "ct:bad", keyB))
	seed(t, s, payload(keyA, "ct:good", keyB))
	pub := &stubPublisher{failOn: map[enc.MessageHash]bool{bad: true}}
	m.publisher = pub

	sent, err := m.ResendAll(t.Context(), keyB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, 1, sent)
	assert.Len(t, pub.pushes, 1)
}

func TestResendAll_EmptyStore(t *testing.T) {
	s := createTestStore(t)
	pub := &stubPublisher{}
	m := NewManager(&stubEnclave{local: []enc.PublicKey{keyA}}, s.Transactions(), pub, 0)

	sent, err := m.ResendAll(t.Context(), keyB)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, pub.pushes)
}
