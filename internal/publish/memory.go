package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/transaction"
)

// Receiver accepts pushed payloads. transaction.Manager implements it.
type Receiver interface {
	StorePayload(ctx context.Context, payload *enc.EncodedPayload) (transaction.StoreResult, error)
}

// Network connects nodes running in one process. Payloads still pass
// through the wire encoding so a delivered payload is exactly what a
// REST peer would decode.
type Network struct {
	mu    sync.RWMutex
	nodes map[enc.PublicKey]Receiver
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[enc.PublicKey]Receiver)}
}

// Join attaches r as the owner of keys.
func (n *Network) Join(r Receiver, keys ...enc.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range keys {
		n.nodes[k] = r
	}
}

// Leave detaches keys; pushes to them fail until they join again.
func (n *Network) Leave(keys ...enc.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range keys {
		delete(n.nodes, k)
	}
}

// PublishPayload delivers each recipient's view to the node owning it.
func (n *Network) PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error {
	var errs []error
	for _, r := range recipients {
		if err := n.deliver(ctx, payload, r); err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", payload.Hash(), r, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Network) deliver(ctx context.Context, payload *enc.EncodedPayload, recipient enc.PublicKey) error {
	n.mu.RLock()
	node, ok := n.nodes[recipient]
	n.mu.RUnlock()
	if !ok {
		return ErrUnknownRecipient
	}

	wire, err := enc.EncodePayload(payload.ForRecipient(recipient))
	if err != nil {
		return err
	}
	decoded, err := enc.DecodePayload(wire)
	if err != nil {
		return err
	}
	_, err = node.StorePayload(ctx, decoded)
	return err
}
