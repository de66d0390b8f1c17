package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/privtx/internal/enc"
)

// Scenario describes a set of nodes, the operations run against them and
// what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Nodes are started in order before the flow runs.
	Nodes []NodeSpec `yaml:"nodes"`

	// Flow contains the operations, each optionally with an expected result.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and node state.
	Assertions []Assertion `yaml:"assertions"`
}

// NodeSpec describes one node.
type NodeSpec struct {
	Name string `yaml:"name"`

	// Keys are key names; each expands to a deterministic key pair.
	Keys []string `yaml:"keys"`

	// AlwaysSendTo lists key names every send from this node also goes to.
	AlwaysSendTo []string `yaml:"always_send_to,omitempty"`

	// PrivacyEnhancements defaults to true.
	PrivacyEnhancements *bool `yaml:"privacy_enhancements,omitempty"`
}

// FlowStep is one operation against one node.
type FlowStep struct {
	Op   string `yaml:"op"`
	Node string `yaml:"node"`

	// Tx labels the transaction. send and store_raw bind it; every other
	// operation looks it up.
	Tx string `yaml:"tx,omitempty"`

	Payload     string   `yaml:"payload,omitempty"`
	From        string   `yaml:"from,omitempty"`
	To          []string `yaml:"to,omitempty"`
	PrivacyMode string   `yaml:"privacy_mode,omitempty"`
	Mandatory   []string `yaml:"mandatory,omitempty"`
	Affected    []string `yaml:"affected,omitempty"`
	ExecHash    string   `yaml:"exec_hash,omitempty"`

	// Recipient is the key a receive decrypts for, or the key a resend
	// pushes to.
	Recipient string `yaml:"recipient,omitempty"`

	// Raw reads from the raw store on receive.
	Raw bool `yaml:"raw,omitempty"`

	// Expect validates the step. A step without one must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause is the expected result of a step.
type ExpectClause struct {
	// Outcome is "ok" or the error code the step fails with.
	Outcome string `yaml:"outcome"`

	Payload        *string  `yaml:"payload,omitempty"`
	Sender         string   `yaml:"sender,omitempty"`
	ManagedParties []string `yaml:"managed_parties,omitempty"`
	Pushed         *int     `yaml:"pushed,omitempty"`
}

// Assertion validates the trace or a node's final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stored": the transaction is on Node, or not if Absent
	// - "tx_count": Node holds exactly Count transactions
	// - "participants": Node stores Parties as the recipients of Tx
	// - "trace_count": Op appears exactly Count times
	// - "trace_order": Ops appear in this order
	Type string `yaml:"type"`

	Node    string   `yaml:"node,omitempty"`
	Tx      string   `yaml:"tx,omitempty"`
	Absent  bool     `yaml:"absent,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Parties []string `yaml:"parties,omitempty"`
	Op      string   `yaml:"op,omitempty"`
	Ops     []string `yaml:"ops,omitempty"`
}

// Operations.
const (
	OpSend       = "send"
	OpStoreRaw   = "store_raw"
	OpSendSigned = "send_signed"
	OpReceive    = "receive"
	OpDelete     = "delete"
	OpResend     = "resend"
)

// Assertion type constants.
const (
	AssertStored       = "stored"
	AssertTxCount      = "tx_count"
	AssertParticipants = "participants"
	AssertTraceCount   = "trace_count"
	AssertTraceOrder   = "trace_order"
)

// OutcomeOK is the outcome of a successful step.
const OutcomeOK = "ok"

var knownOps = []string{OpSend, OpStoreRaw, OpSendSigned, OpReceive, OpDelete, OpResend}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks structure and cross references. Labels must be
// bound by an earlier step before they are used.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	nodes := make(map[string]bool)
	owners := make(map[string]string)
	for i, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("nodes[%d]: name is required", i)
		}
		if nodes[n.Name] {
			return fmt.Errorf("nodes[%d]: duplicate node %q", i, n.Name)
		}
		nodes[n.Name] = true
		if len(n.Keys) == 0 {
			return fmt.Errorf("nodes[%d]: at least one key is required", i)
		}
		for _, k := range n.Keys {
			if owner, ok := owners[k]; ok {
				return fmt.Errorf("nodes[%d]: key %q already belongs to node %q", i, k, owner)
			}
			owners[k] = n.Name
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Flow {
		if !slices.Contains(knownOps, step.Op) {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if !nodes[step.Node] {
			return fmt.Errorf("flow[%d]: unknown node %q", i, step.Node)
		}
		if step.PrivacyMode != "" {
			if _, err := enc.ParsePrivacyMode(step.PrivacyMode); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
		for _, label := range step.Affected {
			if !labels[label] {
				return fmt.Errorf("flow[%d]: affected transaction %q is not bound by an earlier step", i, label)
			}
		}

		switch step.Op {
		case OpSend, OpStoreRaw:
			if step.Tx == "" {
				return fmt.Errorf("flow[%d]: %s requires tx", i, step.Op)
			}
			labels[step.Tx] = true
		case OpResend:
			if step.Recipient == "" {
				return fmt.Errorf("flow[%d]: resend requires recipient", i)
			}
			if step.Tx != "" && !labels[step.Tx] {
				return fmt.Errorf("flow[%d]: tx %q is not bound by an earlier step", i, step.Tx)
			}
		default:
			if !labels[step.Tx] {
				return fmt.Errorf("flow[%d]: tx %q is not bound by an earlier step", i, step.Tx)
			}
		}

		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("flow[%d].expect: outcome is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, nodes, labels); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, nodes, labels map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStored, AssertParticipants:
		if !nodes[a.Node] {
			return fmt.Errorf("assertions[%d]: unknown node %q", index, a.Node)
		}
		if !labels[a.Tx] {
			return fmt.Errorf("assertions[%d]: unknown tx %q", index, a.Tx)
		}
		if a.Type == AssertParticipants && len(a.Parties) == 0 {
			return fmt.Errorf("assertions[%d]: participants requires parties", index)
		}
	case AssertTxCount:
		if !nodes[a.Node] {
			return fmt.Errorf("assertions[%d]: unknown node %q", index, a.Node)
		}
	case AssertTraceCount:
		if !slices.Contains(knownOps, a.Op) {
			return fmt.Errorf("assertions[%d]: trace_count requires a known op, got %q", index, a.Op)
		}
	case AssertTraceOrder:
		if len(a.Ops) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least two ops", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
