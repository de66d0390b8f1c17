package transaction

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/enclave"
	"github.com/roach88/privtx/internal/store"
)

// loopbackPublisher hands each recipient its own view of a payload by
// calling StorePayload on the node that owns the key.
type loopbackPublisher struct {
	nodes map[enc.PublicKey]*Manager
}

func (p *loopbackPublisher) PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error {
	for _, r := range recipients {
		node, ok := p.nodes[r]
		if !ok {
			return fmt.Errorf("no node for %s", r)
		}
		if _, err := node.StorePayload(ctx, payload.ForRecipient(r)); err != nil {
			return err
		}
	}
	return nil
}

type testNode struct {
	key     enc.PublicKey
	store   *store.Store
	manager *Manager
}

func newTestNodes(t *testing.T, n int) ([]*testNode, *loopbackPublisher) {
	t.Helper()
	pub := &loopbackPublisher{nodes: make(map[enc.PublicKey]*Manager)}
	nodes := make([]*testNode, n)
	for i := range nodes {
		kp, err := enclave.GenerateKeyPair(rand.Reader)
		require.NoError(t, err)
		e, err := enclave.New([]enclave.KeyPair{kp}, nil)
		require.NoError(t, err)

		s, err := store.Open(filepath.Join(t.TempDir(), fmt.Sprintf("node%d.db", i)))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		privacy := NewPrivacyHelper(s.Transactions(), e, true)
		m := NewManager(e, s.Transactions(), s.RawTransactions(), &recordingResend{}, pub, privacy)
		nodes[i] = &testNode{key: kp.Public, store: s, manager: m}
		pub.nodes[kp.Public] = m
	}
	return nodes, pub
}

func TestSendAndReceiveAcrossNodes(t *testing.T) {
	nodes, _ := newTestNodes(t, 3)
	alice, bob, carol := nodes[0], nodes[1], nodes[2]
	ctx := t.Context()

	sent, err := alice.manager.Send(ctx, SendRequest{
		Payload:    []byte("hello bob and carol"),
		Recipients: []enc.PublicKey{bob.key, carol.key},
	})
	require.NoError(t, err)

	for _, n := range []*testNode{bob, carol} {
		resp, err := n.manager.Receive(ctx, ReceiveRequest{TransactionHash: sent.TransactionHash})
		require.NoError(t, err)
		assert.Equal(t, "hello bob and carol", string(resp.UnencryptedData))
		assert.Equal(t, alice.key, resp.Sender)
		assert.Equal(t, []enc.PublicKey{n.key}, resp.ManagedParties)

		stored, err := n.store.Transactions().RetrieveByHash(ctx, sent.TransactionHash)
		require.NoError(t, err)
		assert.Equal(t, []enc.PublicKey{n.key}, stored.Payload.RecipientKeys)
		assert.Len(t, stored.Payload.RecipientBoxes, 1)
	}

	// the sender can read its own transaction
	resp, err := alice.manager.Receive(ctx, ReceiveRequest{TransactionHash: sent.TransactionHash})
	require.NoError(t, err)
	assert.Equal(t, "hello bob and carol", string(resp.UnencryptedData))
}

func TestPrivateStateValidationAcrossNodes(t *testing.T) {
	nodes, _ := newTestNodes(t, 2)
	alice, bob := nodes[0], nodes[1]
	ctx := t.Context()

	first, err := alice.manager.Send(ctx, SendRequest{
		Payload:     []byte("deploy"),
		Recipients:  []enc.PublicKey{bob.key},
		PrivacyMode: enc.PrivateStateValidation,
		ExecHash:    []byte("exec-1"),
	})
	require.NoError(t, err)

	second, err := alice.manager.Send(ctx, SendRequest{
		Payload:                      []byte("call"),
		Recipients:                   []enc.PublicKey{bob.key},
		PrivacyMode:                  enc.PrivateStateValidation,
		ExecHash:                     []byte("exec-2"),
		AffectedContractTransactions: []enc.TxHash{enc.TxHash(first.TransactionHash)},
	})
	require.NoError(t, err)

	resp, err := bob.manager.Receive(ctx, ReceiveRequest{TransactionHash: second.TransactionHash})
	require.NoError(t, err)
	assert.Equal(t, "call", string(resp.UnencryptedData))
	assert.Equal(t, enc.PrivateStateValidation, resp.PrivacyMode)
	assert.Equal(t, []enc.TxHash{enc.TxHash(first.TransactionHash)}, resp.AffectedTransactions)
	assert.Equal(t, []byte("exec-2"), resp.ExecHash)

	stored, err := bob.store.Transactions().RetrieveByHash(ctx, second.TransactionHash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []enc.PublicKey{alice.key, bob.key}, stored.Payload.RecipientKeys)
}

func TestTamperedSecurityHashRejectedAcrossNodes(t *testing.T) {
	nodes, _ := newTestNodes(t, 2)
	alice, bob := nodes[0], nodes[1]
	ctx := t.Context()

	first, err := alice.manager.Send(ctx, SendRequest{
		Payload:     []byte("deploy"),
		Recipients:  []enc.PublicKey{bob.key},
		PrivacyMode: enc.PrivateStateValidation,
		ExecHash:    []byte("exec-1"),
	})
	require.NoError(t, err)

	// build the dependent payload without sending so its declaration can be forged
	second, err := alice.manager.Payloads().Create(ctx, SendRequest{
		Payload:                      []byte("call"),
		Recipients:                   []enc.PublicKey{bob.key},
		PrivacyMode:                  enc.PrivateStateValidation,
		ExecHash:                     []byte("exec-2"),
		AffectedContractTransactions: []enc.TxHash{enc.TxHash(first.TransactionHash)},
	})
	require.NoError(t, err)
	second.AffectedContractTransactions[enc.TxHash(first.TransactionHash)] = []byte("forged")

	_, err = bob.manager.StorePayload(ctx, second.ForRecipient(bob.key))
	require.True(t, IsPrivacyViolation(err), "err: %v", err)

	_, err = bob.manager.Receive(ctx, ReceiveRequest{TransactionHash: second.Hash()})
	assert.True(t, IsNotFound(err))
}

func TestKeylessCopyFromCoRecipientKeepsRowReadable(t *testing.T) {
	nodes, _ := newTestNodes(t, 3)
	alice, bob, carol := nodes[0], nodes[1], nodes[2]
	ctx := t.Context()

	sent, err := alice.manager.Send(ctx, SendRequest{
		Payload:    []byte("for bob and carol"),
		Recipients: []enc.PublicKey{bob.key, carol.key},
	})
	require.NoError(t, err)

	carolCopy, err := carol.store.Transactions().RetrieveByHash(ctx, sent.TransactionHash)
	require.NoError(t, err)
	keyless := carolCopy.Payload.Clone()
	keyless.RecipientKeys = nil

	_, err = bob.manager.StorePayload(ctx, keyless)
	require.True(t, IsInvalidState(err), "err: %v", err)

	stored, err := bob.store.Transactions().RetrieveByHash(ctx, sent.TransactionHash)
	require.NoError(t, err)
	assert.Equal(t, []enc.PublicKey{bob.key}, stored.Payload.RecipientKeys)
	assert.Len(t, stored.Payload.RecipientBoxes, 1)

	resp, err := bob.manager.Receive(ctx, ReceiveRequest{TransactionHash: sent.TransactionHash})
	require.NoError(t, err)
	assert.Equal(t, "for bob and carol", string(resp.UnencryptedData))
}
