// Package node assembles a running node from its configuration. Every
// component receives its collaborators explicitly; nothing is looked up
// from global state.
package node

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/privtx/internal/config"
	"github.com/roach88/privtx/internal/enclave"
	"github.com/roach88/privtx/internal/metrics"
	"github.com/roach88/privtx/internal/publish"
	"github.com/roach88/privtx/internal/resend"
	"github.com/roach88/privtx/internal/store"
	"github.com/roach88/privtx/internal/transaction"
)

// Node is the context shared by the API, CLI and harness.
type Node struct {
	Config       *config.Config
	Store        *store.Store
	Enclave      *enclave.Enclave
	Directory    *publish.Directory
	Publisher    publish.Publisher
	Resend       *resend.Manager
	Privacy      *transaction.PrivacyHelper
	Transactions *transaction.Manager
}

// Option customises node assembly.
type Option func(*options)

type options struct {
	registry   *publish.Registry
	network    *publish.Network
	httpClient *http.Client
	recorder   transaction.Recorder
}

// WithNetwork supplies the in-process network used by the MEMORY
// communication type. The node joins it with its local keys.
func WithNetwork(n *publish.Network) Option {
	return func(o *options) { o.network = n }
}

// WithRegistry replaces the default publisher registry.
func WithRegistry(r *publish.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithHTTPClient sets the client used for REST pushes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRecorder replaces the Prometheus outcome recorder.
func WithRecorder(r transaction.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// New opens the store, builds the enclave from the configured keys and
// wires the transaction manager. The caller owns the node and must Close it.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	o := &options{recorder: metrics.Recorder{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = publish.NewRegistry()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Publish.Timeout}
	}

	pairs, err := cfg.KeyPairs()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	forwarding, err := cfg.ForwardingKeys()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	encl, err := enclave.New(pairs, forwarding)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	dir := publish.NewDirectory()
	for i, p := range cfg.Peers {
		keys, err := cfg.PeerKeys(i)
		if err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
		dir.Add(p.URL, keys...)
	}

	publisher, err := o.registry.Create(publish.CommunicationType(cfg.Server.CommunicationType), publish.Deps{
		Directory: dir,
		Client:    o.httpClient,
		Network:   o.network,
	})
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	n := &Node{
		Config:    cfg,
		Store:     s,
		Enclave:   encl,
		Directory: dir,
		Publisher: publisher,
	}
	n.Resend = resend.NewManager(encl, s.Transactions(), publisher, resend.DefaultPageSize)
	n.Privacy = transaction.NewPrivacyHelper(s.Transactions(), encl, cfg.Features.EnablePrivacyEnhancements)
	n.Transactions = transaction.NewManager(encl, s.Transactions(), s.RawTransactions(), n.Resend, publisher, n.Privacy,
		transaction.WithRecorder(o.recorder))

	if o.network != nil {
		o.network.Join(n.Transactions, encl.PublicKeys().Sorted()...)
	}

	slog.Info("node ready",
		"keys", len(pairs),
		"peers", len(cfg.Peers),
		"communicationType", cfg.Server.CommunicationType,
		"privacyEnhancements", cfg.Features.EnablePrivacyEnhancements)
	return n, nil
}

// Close releases the store.
func (n *Node) Close() error {
	return n.Store.Close()
}
