package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/privtx/internal/config"
	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/enclave"
	"github.com/roach88/privtx/internal/node"
	"github.com/roach88/privtx/internal/publish"
	"github.com/roach88/privtx/internal/testutil"
	"github.com/roach88/privtx/internal/transaction"
)

// runner holds the state of one scenario execution.
type runner struct {
	network *publish.Network
	nodes   map[string]*node.Node
	keys    map[string]enclave.KeyPair
	names   map[enc.PublicKey]string
	txs     map[string]enc.MessageHash
	seq     int64
	result  *Result
}

// Run starts the scenario's nodes, executes its flow and evaluates its
// assertions. Failed expectations are reported in the Result; the error
// return is reserved for scenarios that cannot be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	r := &runner{
		network: publish.NewNetwork(),
		nodes:   make(map[string]*node.Node),
		keys:    make(map[string]enclave.KeyPair),
		names:   make(map[enc.PublicKey]string),
		txs:     make(map[string]enc.MessageHash),
		result:  NewResult(),
	}
	defer r.close()

	for _, ns := range scenario.Nodes {
		if err := r.start(ns); err != nil {
			return nil, fmt.Errorf("start node %s: %w", ns.Name, err)
		}
	}

	for i, step := range scenario.Flow {
		if err := r.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range scenario.Assertions {
		if err := r.check(ctx, a); err != nil {
			r.result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}

	slog.Debug("scenario finished", "scenario", scenario.Name, "steps", len(r.result.Trace), "pass", r.result.Pass)
	return r.result, nil
}

func (r *runner) close() {
	for name, n := range r.nodes {
		if err := n.Close(); err != nil {
			slog.Warn("close node", "node", name, "error", err)
		}
	}
}

// key derives the pair for name once and remembers the reverse mapping so
// results can be reported by name.
func (r *runner) key(name string) (enclave.KeyPair, error) {
	if kp, ok := r.keys[name]; ok {
		return kp, nil
	}
	kp, err := testutil.DeriveKeyPair(name)
	if err != nil {
		return enclave.KeyPair{}, fmt.Errorf("derive key %q: %w", name, err)
	}
	r.keys[name] = kp
	r.names[kp.Public] = name
	return kp, nil
}

func (r *runner) publicKeys(names []string) ([]enc.PublicKey, error) {
	out := make([]enc.PublicKey, 0, len(names))
	for _, name := range names {
		kp, err := r.key(name)
		if err != nil {
			return nil, err
		}
		out = append(out, kp.Public)
	}
	return out, nil
}

// nameOf reports a key by name, or in base64 if no scenario key matches.
func (r *runner) nameOf(k enc.PublicKey) string {
	if name, ok := r.names[k]; ok {
		return name
	}
	return k.String()
}

// namesOf returns the names of keys in sorted order.
func (r *runner) namesOf(keys []enc.PublicKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.nameOf(k))
	}
	slices.Sort(out)
	return out
}

func (r *runner) start(ns NodeSpec) error {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: ":memory:"},
		Server:   config.ServerConfig{CommunicationType: string(publish.Memory)},
		Features: config.Features{EnablePrivacyEnhancements: ns.PrivacyEnhancements == nil || *ns.PrivacyEnhancements},
	}
	for _, name := range ns.Keys {
		kp, err := r.key(name)
		if err != nil {
			return err
		}
		cfg.Keys = append(cfg.Keys, testutil.KeyConfig(kp))
	}
	forwarding, err := r.publicKeys(ns.AlwaysSendTo)
	if err != nil {
		return err
	}
	for _, k := range forwarding {
		cfg.AlwaysSendTo = append(cfg.AlwaysSendTo, k.String())
	}

	n, err := node.New(cfg, node.WithNetwork(r.network))
	if err != nil {
		return err
	}
	r.nodes[ns.Name] = n
	return nil
}

// execute runs one step, records it in the trace and checks its expect
// clause.
func (r *runner) execute(ctx context.Context, index int, step FlowStep) error {
	n := r.nodes[step.Node]

	res, opErr, err := r.apply(ctx, n, step)
	if err != nil {
		return err
	}

	r.seq++
	outcome := outcomeOf(opErr)
	r.result.AddTrace(TraceEvent{
		Seq:     r.seq,
		Node:    step.Node,
		Op:      step.Op,
		Tx:      step.Tx,
		Outcome: outcome,
		Result:  res,
	})

	if step.Expect == nil {
		if opErr != nil {
			r.result.AddError(fmt.Sprintf("flow[%d]: %s on %s failed: %v", index, step.Op, step.Node, opErr))
		}
		return nil
	}
	for _, msg := range compareExpect(step.Expect, outcome, res) {
		r.result.AddError(fmt.Sprintf("flow[%d]: %s", index, msg))
	}
	return nil
}

// apply performs the operation. opErr is the node's answer and becomes the
// step outcome; err means the step itself could not be built.
func (r *runner) apply(ctx context.Context, n *node.Node, step FlowStep) (res map[string]any, opErr, err error) {
	switch step.Op {
	case OpSend:
		req, err := r.sendRequest(step)
		if err != nil {
			return nil, nil, err
		}
		resp, opErr := n.Transactions.Send(ctx, req)
		if opErr != nil {
			return nil, opErr, nil
		}
		r.txs[step.Tx] = resp.TransactionHash
		return r.sendResult(resp), nil, nil

	case OpStoreRaw:
		var sender enc.PublicKey
		if step.From != "" {
			kp, err := r.key(step.From)
			if err != nil {
				return nil, nil, err
			}
			sender = kp.Public
		}
		resp, opErr := n.Transactions.StoreRaw(ctx, transaction.StoreRawRequest{Payload: []byte(step.Payload), Sender: sender})
		if opErr != nil {
			return nil, opErr, nil
		}
		r.txs[step.Tx] = resp.Hash
		return nil, nil, nil

	case OpSendSigned:
		send, err := r.sendRequest(step)
		if err != nil {
			return nil, nil, err
		}
		resp, opErr := n.Transactions.SendSignedTransaction(ctx, transaction.SendSignedRequest{
			SignedData:                   r.txs[step.Tx],
			Recipients:                   send.Recipients,
			PrivacyMode:                  send.PrivacyMode,
			MandatoryRecipients:          send.MandatoryRecipients,
			AffectedContractTransactions: send.AffectedContractTransactions,
			ExecHash:                     send.ExecHash,
		})
		if opErr != nil {
			return nil, opErr, nil
		}
		return r.sendResult(resp), nil, nil

	case OpReceive:
		req := transaction.ReceiveRequest{TransactionHash: r.txs[step.Tx], Raw: step.Raw}
		if step.Recipient != "" {
			kp, err := r.key(step.Recipient)
			if err != nil {
				return nil, nil, err
			}
			req.Recipient = &kp.Public
		}
		resp, opErr := n.Transactions.Receive(ctx, req)
		if opErr != nil {
			return nil, opErr, nil
		}
		return map[string]any{
			"payload":         string(resp.UnencryptedData),
			"sender":          r.nameOf(resp.Sender),
			"privacy_mode":    resp.PrivacyMode.String(),
			"managed_parties": r.namesOf(resp.ManagedParties),
		}, nil, nil

	case OpDelete:
		return nil, n.Transactions.Delete(ctx, r.txs[step.Tx]), nil

	case OpResend:
		kp, err := r.key(step.Recipient)
		if err != nil {
			return nil, nil, err
		}
		if step.Tx != "" {
			if opErr := n.Resend.ResendIndividual(ctx, r.txs[step.Tx], kp.Public); opErr != nil {
				return nil, opErr, nil
			}
			return map[string]any{"pushed": 1}, nil, nil
		}
		pushed, opErr := n.Resend.ResendAll(ctx, kp.Public)
		if opErr != nil {
			return nil, opErr, nil
		}
		return map[string]any{"pushed": pushed}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown op %q", step.Op)
}

func (r *runner) sendRequest(step FlowStep) (transaction.SendRequest, error) {
	req := transaction.SendRequest{Payload: []byte(step.Payload)}
	if step.ExecHash != "" {
		req.ExecHash = []byte(step.ExecHash)
	}
	if step.From != "" {
		kp, err := r.key(step.From)
		if err != nil {
			return req, err
		}
		req.Sender = kp.Public
	}
	var err error
	if req.Recipients, err = r.publicKeys(step.To); err != nil {
		return req, err
	}
	if req.MandatoryRecipients, err = r.publicKeys(step.Mandatory); err != nil {
		return req, err
	}
	if step.PrivacyMode != "" {
		if req.PrivacyMode, err = enc.ParsePrivacyMode(step.PrivacyMode); err != nil {
			return req, err
		}
	}
	for _, label := range step.Affected {
		hash, ok := r.txs[label]
		if !ok {
			return req, fmt.Errorf("affected transaction %q was never stored", label)
		}
		req.AffectedContractTransactions = append(req.AffectedContractTransactions, enc.TxHash(hash))
	}
	return req, nil
}

func (r *runner) sendResult(resp transaction.SendResponse) map[string]any {
	return map[string]any{
		"sender":          r.nameOf(resp.Sender),
		"managed_parties": r.namesOf(resp.ManagedParties),
	}
}

// outcomeOf maps an operation error to its step outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := transaction.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// compareExpect returns one message per mismatch.
func compareExpect(want *ExpectClause, outcome string, res map[string]any) []string {
	if want.Outcome != outcome {
		return []string{fmt.Sprintf("expected outcome %q, got %q", want.Outcome, outcome)}
	}

	var msgs []string
	if want.Payload != nil && res["payload"] != *want.Payload {
		msgs = append(msgs, fmt.Sprintf("expected payload %q, got %v", *want.Payload, res["payload"]))
	}
	if want.Sender != "" && res["sender"] != want.Sender {
		msgs = append(msgs, fmt.Sprintf("expected sender %q, got %v", want.Sender, res["sender"]))
	}
	if want.ManagedParties != nil {
		got, _ := res["managed_parties"].([]string)
		expected := slices.Sorted(slices.Values(want.ManagedParties))
		if !slices.Equal(expected, got) {
			msgs = append(msgs, fmt.Sprintf("expected managed parties %v, got %v", expected, got))
		}
	}
	if want.Pushed != nil && res["pushed"] != *want.Pushed {
		msgs = append(msgs, fmt.Sprintf("expected %d pushed, got %v", *want.Pushed, res["pushed"]))
	}
	return msgs
}
