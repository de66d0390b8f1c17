package transaction

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
)

var errFakeDecrypt = errors.New("fake: cannot decrypt")

func testKey(b byte) enc.PublicKey {
	var k enc.PublicKey
	copy(k[:], bytes.Repeat([]byte{b}, enc.KeySize))
	return k
}

func testTxHash(s string) enc.TxHash {
	return enc.TxHash(enc.Digest([]byte(s)))
}

// fakeEnclave encrypts by tagging bytes. A local key opens a payload if it
// is the sender, a recipient, or owns a tagged box in a legacy payload.
type fakeEnclave struct {
	local      []enc.PublicKey
	forwarding []enc.PublicKey
	invalid    []enc.TxHash
	decrypts   int
}

func newFakeEnclave(local ...enc.PublicKey) *fakeEnclave {
	return &fakeEnclave{local: local}
}

func boxFor(k enc.PublicKey) enc.RecipientBox {
	return append([]byte("box:"), k[:]...)
}

func (f *fakeEnclave) EncryptPayload(plaintext []byte, sender enc.PublicKey, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error) {
	return f.build(append([]byte("ct:"), plaintext...), sender, recipients, meta), nil
}

func (f *fakeEnclave) EncryptRawTransaction(raw enc.RawTransaction, recipients []enc.PublicKey, meta enc.PrivacyMetadata) (*enc.EncodedPayload, error) {
	return f.build(raw.EncryptedPayload, raw.From, recipients, meta), nil
}

func (f *fakeEnclave) build(cipherText []byte, sender enc.PublicKey, recipients []enc.PublicKey, meta enc.PrivacyMetadata) *enc.EncodedPayload {
	boxes := make([]enc.RecipientBox, len(recipients))
	for i, r := range recipients {
		boxes[i] = boxFor(r)
	}
	affected := make(map[enc.TxHash]enc.SecurityHash)
	for _, a := range meta.AffectedContractTransactions {
		affected[a.Hash] = []byte("sec")
	}
	return &enc.EncodedPayload{
		SenderKey:                    sender,
		CipherText:                   cipherText,
		RecipientKeys:                slices.Clone(recipients),
		RecipientBoxes:               boxes,
		PrivacyMode:                  meta.PrivacyMode,
		AffectedContractTransactions: affected,
		ExecHash:                     meta.ExecHash,
		MandatoryRecipients:          enc.SortKeys(meta.MandatoryRecipients),
		PrivacyGroupID:               meta.PrivacyGroupID,
	}
}

func (f *fakeEnclave) EncryptRawPayload(plaintext []byte, sender enc.PublicKey) (enc.RawTransaction, error) {
	return enc.RawTransaction{
		EncryptedPayload: append([]byte("ct:"), plaintext...),
		EncryptedKey:     []byte("key"),
		From:             sender,
	}, nil
}

func (f *fakeEnclave) UnencryptTransaction(payload *enc.EncodedPayload, recipient enc.PublicKey) ([]byte, error) {
	f.decrypts++
	if !slices.Contains(f.local, recipient) {
		return nil, errFakeDecrypt
	}
	ok := recipient == payload.SenderKey || payload.HasRecipient(recipient) ||
		(len(payload.RecipientKeys) == 0 && payload.HasBox(boxFor(recipient)))
	if !ok {
		return nil, errFakeDecrypt
	}
	return bytes.TrimPrefix(payload.CipherText, []byte("ct:")), nil
}

func (f *fakeEnclave) UnencryptRawPayload(raw enc.RawTransaction) ([]byte, error) {
	return bytes.TrimPrefix(raw.EncryptedPayload, []byte("ct:")), nil
}

func (f *fakeEnclave) PublicKeys() enc.KeySet { return enc.NewKeySet(f.local...) }

func (f *fakeEnclave) ForwardingKeys() []enc.PublicKey { return f.forwarding }

func (f *fakeEnclave) FindInvalidSecurityHashes(payload *enc.EncodedPayload, affected []enc.AffectedTransaction) []enc.TxHash {
	var out []enc.TxHash
	for _, a := range affected {
		if _, declared := payload.AffectedContractTransactions[a.Hash]; !declared || slices.Contains(f.invalid, a.Hash) {
			out = append(out, a.Hash)
		}
	}
	return out
}

func (f *fakeEnclave) DefaultPublicKey() enc.PublicKey { return f.local[0] }

type publishCall struct {
	hash       enc.MessageHash
	recipients []enc.PublicKey
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	check func(enc.MessageHash)
	err   error
}

func (p *recordingPublisher) PublishPayload(_ context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.check != nil {
		p.check(payload.Hash())
	}
	p.calls = append(p.calls, publishCall{hash: payload.Hash(), recipients: recipients})
	return p.err
}

type recordingResend struct {
	accepted []*enc.EncodedPayload
	err      error
}

func (r *recordingResend) AcceptOwnMessage(_ context.Context, payload *enc.EncodedPayload) error {
	r.accepted = append(r.accepted, payload)
	return r.err
}

type recordingRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingRecorder) RecordOperation(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+outcome)
}

type fixture struct {
	enclave   *fakeEnclave
	store     *store.Store
	publisher *recordingPublisher
	resend    *recordingResend
	recorder  *recordingRecorder
	manager   *Manager
}

func newFixture(t *testing.T, local ...enc.PublicKey) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		enclave:   newFakeEnclave(local...),
		store:     s,
		publisher: &recordingPublisher{},
		resend:    &recordingResend{},
		recorder:  &recordingRecorder{},
	}
	privacy := NewPrivacyHelper(s.Transactions(), f.enclave, true)
	f.manager = NewManager(f.enclave, s.Transactions(), s.RawTransactions(), f.resend, f.publisher, privacy,
		WithRecorder(f.recorder))
	return f
}

// seed stores a payload directly, bypassing the manager.
func (f *fixture) seed(t *testing.T, p *enc.EncodedPayload) enc.MessageHash {
	t.Helper()
	tx := &enc.EncryptedTransaction{Hash: p.Hash(), Payload: p}
	if err := f.store.Transactions().Save(context.Background(), tx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return tx.Hash
}

func (f *fixture) load(t *testing.T, hash enc.MessageHash) *enc.EncodedPayload {
	t.Helper()
	tx, err := f.store.Transactions().RetrieveByHash(context.Background(), hash)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return tx.Payload
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.Transactions().Count(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}
