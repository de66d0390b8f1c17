// Package migration imports transactions exported by other private
// transaction managers.
//
// Orion exports carry the recipient boxes and the privacy group addresses as
// two independent lists. RecipientBoxHelper pairs them back up. The pairing
// relies on Orion having sealed the boxes in canonical key order for the
// retained recipients; a count mismatch means that assumption does not hold
// and some boxes are lost.
package migration

import (
	"log/slog"
	"slices"

	"github.com/roach88/privtx/internal/enc"
)

// RecipientBoxHelper pairs recipient keys with their boxes for a node that
// owns the given local keys.
type RecipientBoxHelper struct {
	local enc.KeySet
}

// NewRecipientBoxHelper creates a helper for the node's local keys.
func NewRecipientBoxHelper(local []enc.PublicKey) *RecipientBoxHelper {
	return &RecipientBoxHelper{local: enc.NewKeySet(local...)}
}

// Pairing is the reconstructed key to box mapping. Keys is in canonical order
// and Boxes[i] belongs to Keys[i].
type Pairing struct {
	Keys  []enc.PublicKey
	Boxes []enc.RecipientBox
}

// BoxFor returns the box paired with key.
func (p Pairing) BoxFor(key enc.PublicKey) (enc.RecipientBox, bool) {
	i := slices.Index(p.Keys, key)
	if i < 0 {
		return nil, false
	}
	return p.Boxes[i], true
}

// Map returns the pairing as a map.
func (p Pairing) Map() map[enc.PublicKey]enc.RecipientBox {
	out := make(map[enc.PublicKey]enc.RecipientBox, len(p.Keys))
	for i, k := range p.Keys {
		out[k] = p.Boxes[i]
	}
	return out
}

// Pair keeps every address when the sender is local and only the local
// addresses otherwise, sorts the kept keys and zips them with boxes in the
// order the boxes were received. Repeated addresses count once. Surplus
// entries on either side are dropped with a warning.
func (h *RecipientBoxHelper) Pair(sender enc.PublicKey, addresses []enc.PublicKey, boxes []enc.RecipientBox) Pairing {
	isSender := h.local.Contains(sender)

	var kept []enc.PublicKey
	for _, a := range enc.DedupKeys(addresses) {
		if isSender || h.local.Contains(a) {
			kept = append(kept, a)
		}
	}
	kept = enc.SortKeys(kept)

	if len(kept) != len(boxes) {
		slog.Warn("recipient and box counts differ",
			"sender", sender.String(),
			"isSender", isSender,
			"recipients", len(kept),
			"boxes", len(boxes),
		)
	}

	n := min(len(kept), len(boxes))
	out := Pairing{
		Keys:  make([]enc.PublicKey, 0, n),
		Boxes: make([]enc.RecipientBox, 0, n),
	}
	for i := range n {
		out.Keys = append(out.Keys, kept[i])
		out.Boxes = append(out.Boxes, boxes[i])
	}
	return out
}
