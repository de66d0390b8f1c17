package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/enc"
)

func affectedTx(name string, mode enc.PrivacyMode, recipients []enc.PublicKey, mandatory ...enc.PublicKey) enc.AffectedTransaction {
	return enc.AffectedTransaction{
		Hash: testTxHash(name),
		Payload: &enc.EncodedPayload{
			SenderKey:           keyA,
			CipherText:          []byte("ct:" + name),
			RecipientKeys:       recipients,
			PrivacyMode:         mode,
			MandatoryRecipients: mandatory,
		},
	}
}

func TestValidateSendRequest(t *testing.T) {
	parties := []enc.PublicKey{keyB, keyA}

	tests := []struct {
		name      string
		enabled   bool
		mode      enc.PrivacyMode
		mandatory []enc.PublicKey
		affected  []enc.AffectedTransaction
		missing   []enc.TxHash
		code      ErrorCode
	}{
		{name: "standard without enhancements", mode: enc.StandardPrivate},
		{name: "party protection without enhancements", mode: enc.PartyProtection, code: CodeEnhancedPrivacyNotSupported},
		{name: "missing dependency", enabled: true, mode: enc.PartyProtection,
			missing: []enc.TxHash{testTxHash("gone")}, code: CodePrivacyViolation},
		{name: "mode mismatch", enabled: true, mode: enc.PartyProtection,
			affected: []enc.AffectedTransaction{affectedTx("dep", enc.StandardPrivate, parties)}, code: CodePrivacyViolation},
		{name: "psv same party set", enabled: true, mode: enc.PrivateStateValidation,
			affected: []enc.AffectedTransaction{affectedTx("dep", enc.PrivateStateValidation, []enc.PublicKey{keyA, keyB})}},
		{name: "psv different party set", enabled: true, mode: enc.PrivateStateValidation,
			affected: []enc.AffectedTransaction{affectedTx("dep", enc.PrivateStateValidation, []enc.PublicKey{keyB})},
			code:     CodePrivacyViolation},
		{name: "mr superset of dependency", enabled: true, mode: enc.MandatoryRecipients,
			mandatory: []enc.PublicKey{keyA, keyB},
			affected:  []enc.AffectedTransaction{affectedTx("dep", enc.MandatoryRecipients, parties, keyB)}},
		{name: "mr dependency not covered", enabled: true, mode: enc.MandatoryRecipients,
			mandatory: []enc.PublicKey{keyA},
			affected:  []enc.AffectedTransaction{affectedTx("dep", enc.MandatoryRecipients, parties, keyB)},
			code:      CodePrivacyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPrivacyHelper(nil, newFakeEnclave(keyA), tt.enabled)
			err := h.ValidateSendRequest(tt.mode, parties, tt.mandatory, tt.affected, tt.missing)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, CodeOf(err), "err: %v", err)
		})
	}
}

func TestValidatePayload(t *testing.T) {
	parties := []enc.PublicKey{keyB, keyA}
	dep := affectedTx("dep", enc.PrivateStateValidation, parties)
	payload := func() *enc.EncodedPayload {
		return &enc.EncodedPayload{
			SenderKey:                    keyA,
			CipherText:                   []byte("ct:child"),
			RecipientKeys:                []enc.PublicKey{keyA, keyB},
			PrivacyMode:                  enc.PrivateStateValidation,
			AffectedContractTransactions: map[enc.TxHash]enc.SecurityHash{dep.Hash: []byte("sec")},
		}
	}

	t.Run("valid", func(t *testing.T) {
		h := NewPrivacyHelper(nil, newFakeEnclave(keyB), true)
		assert.NoError(t, h.ValidatePayload(payload(), []enc.AffectedTransaction{dep}, nil))
	})

	t.Run("invalid security hash", func(t *testing.T) {
		fake := newFakeEnclave(keyB)
		fake.invalid = []enc.TxHash{dep.Hash}
		h := NewPrivacyHelper(nil, fake, true)

		err := h.ValidatePayload(payload(), []enc.AffectedTransaction{dep}, nil)
		require.True(t, IsPrivacyViolation(err))
		assert.Contains(t, err.Error(), dep.Hash.String())
	})

	t.Run("dependency not psv", func(t *testing.T) {
		h := NewPrivacyHelper(nil, newFakeEnclave(keyB), true)
		other := affectedTx("dep", enc.PartyProtection, parties)
		assert.True(t, IsPrivacyViolation(h.ValidatePayload(payload(), []enc.AffectedTransaction{other}, nil)))
	})

	t.Run("party set mismatch", func(t *testing.T) {
		h := NewPrivacyHelper(nil, newFakeEnclave(keyB), true)
		p := payload()
		p.RecipientKeys = []enc.PublicKey{keyA, keyB, keyC}
		assert.True(t, IsPrivacyViolation(h.ValidatePayload(p, []enc.AffectedTransaction{dep}, nil)))
	})
}

func TestFindAffectedContractTransactions(t *testing.T) {
	f := newFixture(t, keyA)
	stored := f.seed(t, &enc.EncodedPayload{SenderKey: keyA, CipherText: []byte("ct:dep")})
	gone := testTxHash("gone")

	h := NewPrivacyHelper(f.store.Transactions(), f.enclave, true)
	affected, missing, err := h.FindAffectedContractTransactions(t.Context(),
		[]enc.TxHash{gone, enc.TxHash(stored), gone})
	require.NoError(t, err)
	require.Len(t, affected, 1)
	assert.Equal(t, enc.TxHash(stored), affected[0].Hash)
	assert.Equal(t, []enc.TxHash{gone}, missing)

	affected, missing, err = h.FindAffectedContractTransactions(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, affected)
	assert.Empty(t, missing)
}
