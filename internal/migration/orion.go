package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/store"
)

// OrionRecord is one line of an Orion export. Byte fields are standard
// base64.
type OrionRecord struct {
	Sender         enc.PublicKey   `json:"sender"`
	CipherText     []byte          `json:"cipherText"`
	Nonce          []byte          `json:"nonce"`
	RecipientNonce []byte          `json:"recipientNonce,omitempty"`
	EncryptedKeys  [][]byte        `json:"encryptedKeys"`
	PrivacyGroupID []byte          `json:"privacyGroupId,omitempty"`
	Addresses      []enc.PublicKey `json:"addresses"`
}

// Store persists imported transactions.
type Store interface {
	Save(ctx context.Context, et *enc.EncryptedTransaction) error
}

// Summary reports the outcome of one import run.
type Summary struct {
	BatchID  string `json:"batchId"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Importer converts Orion records into encrypted transactions.
type Importer struct {
	helper *RecipientBoxHelper
	store  Store
}

// NewImporter creates an importer for a node owning the local keys.
func NewImporter(local []enc.PublicKey, s Store) *Importer {
	return &Importer{helper: NewRecipientBoxHelper(local), store: s}
}

// Import reads newline separated records from r. Malformed records are
// counted and skipped, as are records already in the store. A store failure
// stops the run.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Summary, error) {
	sum := Summary{BatchID: uuid.NewString()}
	log := slog.With("batch", sum.BatchID)
	log.Info("orion import started")

	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		var rec OrionRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// The decoder cannot resynchronise after a syntax error.
			return sum, fmt.Errorf("record %d: %w", line, err)
		}

		payload, err := im.Convert(rec)
		if err != nil {
			sum.Failed++
			log.Warn("skipping record", "record", line, "error", err)
			continue
		}

		et := &enc.EncryptedTransaction{Hash: payload.Hash(), Payload: payload}
		switch err := im.store.Save(ctx, et); {
		case errors.Is(err, store.ErrDuplicate):
			sum.Skipped++
			log.Debug("record already stored", "record", line, "hash", et.Hash.String())
		case err != nil:
			return sum, fmt.Errorf("record %d: save: %w", line, err)
		default:
			sum.Imported++
		}
	}

	log.Info("orion import finished", "imported", sum.Imported, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

// Convert builds the encoded payload for one record.
func (im *Importer) Convert(rec OrionRecord) (*enc.EncodedPayload, error) {
	if len(rec.CipherText) == 0 {
		return nil, errors.New("empty cipher text")
	}
	nonce, err := toNonce(rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	var recipientNonce enc.Nonce
	if len(rec.RecipientNonce) > 0 {
		if recipientNonce, err = toNonce(rec.RecipientNonce); err != nil {
			return nil, fmt.Errorf("recipient nonce: %w", err)
		}
	}

	boxes := make([]enc.RecipientBox, len(rec.EncryptedKeys))
	for i, k := range rec.EncryptedKeys {
		boxes[i] = enc.RecipientBox(k)
	}
	pairing := im.helper.Pair(rec.Sender, rec.Addresses, boxes)
	if len(pairing.Keys) == 0 {
		return nil, errors.New("no recipient box belongs to this node")
	}

	p := &enc.EncodedPayload{
		SenderKey:       rec.Sender,
		CipherText:      rec.CipherText,
		CipherTextNonce: nonce,
		RecipientBoxes:  pairing.Boxes,
		RecipientNonce:  recipientNonce,
		RecipientKeys:   pairing.Keys,
		PrivacyMode:     enc.StandardPrivate,
	}
	if len(rec.PrivacyGroupID) > 0 {
		p.PrivacyGroupID = enc.PrivacyGroupID(rec.PrivacyGroupID)
	}
	return p, nil
}

func toNonce(b []byte) (enc.Nonce, error) {
	var n enc.Nonce
	if len(b) != enc.NonceSize {
		return n, fmt.Errorf("want %d bytes, got %d", enc.NonceSize, len(b))
	}
	copy(n[:], b)
	return n, nil
}
