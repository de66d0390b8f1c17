// Package publish delivers encoded payloads to the nodes that own their
// recipient keys. Each recipient receives only its own box.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/transaction"
)

// CommunicationType selects the transport used to reach peers.
type CommunicationType string

const (
	// REST pushes payloads over HTTP to each peer's /push endpoint.
	REST CommunicationType = "REST"

	// Memory delivers payloads to nodes in the same process.
	Memory CommunicationType = "MEMORY"
)

// ErrUnknownRecipient is returned when no peer is known for a recipient key.
var ErrUnknownRecipient = errors.New("no peer known for recipient")

// Publisher is a transaction.BatchPayloadPublisher.
type Publisher interface {
	PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error
}

var _ transaction.BatchPayloadPublisher = Publisher(nil)

// Directory maps recipient keys to peer base URLs.
type Directory struct {
	mu    sync.RWMutex
	peers map[enc.PublicKey]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[enc.PublicKey]string)}
}

// Add records that url serves keys.
func (d *Directory) Add(url string, keys ...enc.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url = strings.TrimSuffix(url, "/")
	for _, k := range keys {
		d.peers[k] = url
	}
}

// URLFor returns the peer URL for key.
func (d *Directory) URLFor(key enc.PublicKey) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	url, ok := d.peers[key]
	return url, ok
}

// Deps carries what a publisher factory may need.
type Deps struct {
	Directory *Directory
	Client    *http.Client
	Network   *Network
}

// Factory builds a publisher from its dependencies.
type Factory func(Deps) (Publisher, error)

// Registry resolves publishers by communication type.
type Registry struct {
	mu        sync.RWMutex
	factories map[CommunicationType]Factory
}

// NewRegistry returns a registry holding the built-in transports.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[CommunicationType]Factory)}
	r.Register(REST, func(d Deps) (Publisher, error) {
		if d.Directory == nil {
			return nil, errors.New("rest publisher requires a peer directory")
		}
		return NewRESTPublisher(d.Directory, d.Client), nil
	})
	r.Register(Memory, func(d Deps) (Publisher, error) {
		if d.Network == nil {
			return nil, errors.New("memory publisher requires a network")
		}
		return d.Network, nil
	})
	return r
}

// Register adds or replaces the factory for ct.
func (r *Registry) Register(ct CommunicationType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[ct] = f
}

// Create builds the publisher registered for ct.
func (r *Registry) Create(ct CommunicationType, deps Deps) (Publisher, error) {
	r.mu.RLock()
	f, ok := r.factories[ct]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported communication type %q", ct)
	}
	return f(deps)
}
