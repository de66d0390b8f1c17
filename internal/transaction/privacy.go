package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/privtx/internal/enc"
)

// SecurityHashChecker verifies declared security hashes.
type SecurityHashChecker interface {
	FindInvalidSecurityHashes(payload *enc.EncodedPayload, affected []enc.AffectedTransaction) []enc.TxHash
}

// PrivacyHelper holds the privacy-mode consistency rules between a
// transaction and the transactions it declares as affected.
//
// PSV checks are fail-closed: any unverifiable dependency rejects the
// transaction. Other modes are best-effort: failing dependencies are dropped.
type PrivacyHelper struct {
	finder  TransactionFinder
	checker SecurityHashChecker
	enabled bool
}

// NewPrivacyHelper creates a helper. enhancementsEnabled allows privacy
// modes other than STANDARD_PRIVATE on send.
func NewPrivacyHelper(finder TransactionFinder, checker SecurityHashChecker, enhancementsEnabled bool) *PrivacyHelper {
	return &PrivacyHelper{finder: finder, checker: checker, enabled: enhancementsEnabled}
}

// EnhancementsEnabled reports whether non-standard privacy modes are allowed.
func (h *PrivacyHelper) EnhancementsEnabled() bool {
	return h.enabled
}

// FindAffectedContractTransactions loads every stored transaction among
// hashes. Hashes with no stored transaction are returned as missing.
func (h *PrivacyHelper) FindAffectedContractTransactions(ctx context.Context, hashes []enc.TxHash) ([]enc.AffectedTransaction, []enc.TxHash, error) {
	if len(hashes) == 0 {
		return nil, nil, nil
	}

	lookup := make([]enc.MessageHash, len(hashes))
	for i, h := range hashes {
		lookup[i] = enc.MessageHash(h)
	}
	found, err := h.finder.FindByHashes(ctx, lookup)
	if err != nil {
		return nil, nil, fmt.Errorf("find affected transactions: %w", err)
	}

	byHash := make(map[enc.TxHash]*enc.EncodedPayload, len(found))
	for _, tx := range found {
		byHash[enc.TxHash(tx.Hash)] = tx.Payload
	}

	var affected []enc.AffectedTransaction
	var missing []enc.TxHash
	for _, hash := range enc.SortTxHashes(hashes) {
		if p, ok := byHash[hash]; ok {
			affected = append(affected, enc.AffectedTransaction{Hash: hash, Payload: p})
		} else if !slices.Contains(missing, hash) {
			missing = append(missing, hash)
		}
	}
	return affected, missing, nil
}

// ValidateSendRequest checks a new transaction against its affected
// transactions before it is encrypted. recipients is the full party list
// the payload will be encrypted for.
func (h *PrivacyHelper) ValidateSendRequest(mode enc.PrivacyMode, recipients, mandatory []enc.PublicKey, affected []enc.AffectedTransaction, missing []enc.TxHash) error {
	if !h.enabled && mode != enc.StandardPrivate {
		return &Error{
			Code:    CodeEnhancedPrivacyNotSupported,
			Message: fmt.Sprintf("privacy mode %s requires privacy enhancements to be enabled", mode),
		}
	}

	if len(missing) > 0 {
		return newPrivacyViolationError("Unable to find affectedContractTransaction %s", missing[0])
	}

	recipientSet := enc.NewKeySet(recipients...)
	mandatorySet := enc.NewKeySet(mandatory...)

	for _, a := range affected {
		if a.Payload.PrivacyMode != mode {
			return newPrivacyViolationError("Private state validation flag mismatched with Affected Txn %s", a.Hash)
		}
		switch mode {
		case enc.PrivateStateValidation:
			if !recipientSet.Equal(enc.NewKeySet(a.Payload.RecipientKeys...)) {
				return newPrivacyViolationError("Recipients mismatched for Affected Txn %s", a.Hash)
			}
		case enc.MandatoryRecipients:
			if !mandatorySet.ContainsAll(enc.NewKeySet(a.Payload.MandatoryRecipients...)) {
				return newPrivacyViolationError("Privacy metadata mismatched with Affected Txn %s", a.Hash)
			}
		}
	}
	return nil
}

// ValidatePayload checks an incoming PSV payload. Every declared dependency
// must be stored, be PSV itself, share the payload's party set and carry a
// matching security hash.
func (h *PrivacyHelper) ValidatePayload(payload *enc.EncodedPayload, affected []enc.AffectedTransaction, missing []enc.TxHash) error {
	if len(missing) > 0 {
		return newPrivacyViolationError("Unable to find affectedContractTransaction %s", missing[0])
	}

	parties := enc.NewKeySet(payload.RecipientKeys...)
	for _, a := range affected {
		if a.Payload.PrivacyMode != enc.PrivateStateValidation {
			return newPrivacyViolationError("Private state validation flag mismatched with Affected Txn %s", a.Hash)
		}
		if !parties.Equal(enc.NewKeySet(a.Payload.RecipientKeys...)) {
			return newPrivacyViolationError("Recipients mismatched for Affected Txn %s", a.Hash)
		}
	}

	if invalid := h.checker.FindInvalidSecurityHashes(payload, affected); len(invalid) > 0 {
		return newPrivacyViolationError("Invalid security hashes identified for PSC TX %s. Invalid ACOTHs: %s",
			payload.Hash(), joinTxHashes(invalid))
	}
	return nil
}

// Sanitize returns the affected transactions of a non-PSV payload that pass
// validation, together with the filtered declaration map. Entries that are
// not stored, have a different privacy mode, or carry an invalid security
// hash are dropped without failing.
func (h *PrivacyHelper) Sanitize(payload *enc.EncodedPayload, affected []enc.AffectedTransaction, missing []enc.TxHash) ([]enc.AffectedTransaction, map[enc.TxHash]enc.SecurityHash) {
	for _, m := range missing {
		slog.Debug("dropping unknown affected transaction", "hash", payload.Hash().String(), "affected", m.String())
	}

	var sameMode []enc.AffectedTransaction
	for _, a := range affected {
		if a.Payload.PrivacyMode != payload.PrivacyMode {
			slog.Debug("dropping affected transaction with mismatched privacy mode",
				"hash", payload.Hash().String(), "affected", a.Hash.String())
			continue
		}
		sameMode = append(sameMode, a)
	}

	invalid := h.checker.FindInvalidSecurityHashes(payload, sameMode)

	var kept []enc.AffectedTransaction
	declared := make(map[enc.TxHash]enc.SecurityHash, len(sameMode))
	for _, a := range sameMode {
		if slices.Contains(invalid, a.Hash) {
			slog.Debug("dropping affected transaction with invalid security hash",
				"hash", payload.Hash().String(), "affected", a.Hash.String())
			continue
		}
		kept = append(kept, a)
		declared[a.Hash] = payload.AffectedContractTransactions[a.Hash]
	}
	return kept, declared
}

func joinTxHashes(hashes []enc.TxHash) string {
	s := ""
	for i, h := range hashes {
		if i > 0 {
			s += ","
		}
		s += h.String()
	}
	return s
}
