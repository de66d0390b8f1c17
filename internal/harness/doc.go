// Package harness runs multi-node scenarios against real nodes.
//
// Every node in a scenario gets its own in-memory SQLite database and joins
// a shared in-process network, so a send on one node is pushed to the
// others exactly as a REST peer would receive it.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	nodes:
//	  - name: node1
//	    keys: [alice]
//	  - name: node2
//	    keys: [bob]
//	    privacy_enhancements: false
//	flow:
//	  - op: send
//	    node: node1
//	    tx: tx1
//	    payload: "hello"
//	    to: [bob]
//	    expect:
//	      outcome: ok
//	  - op: receive
//	    node: node2
//	    tx: tx1
//	    expect:
//	      outcome: ok
//	      payload: "hello"
//	assertions:
//	  - type: stored
//	    node: node2
//	    tx: tx1
//	  - type: tx_count
//	    node: node2
//	    count: 1
//
// Key names are expanded to deterministic key pairs, so the same scenario
// always runs with the same identities. Transactions are referred to by
// the label the creating step binds with tx.
//
// # Operations
//
//   - send: encrypt, store and push a payload
//   - store_raw: store a payload without distributing it
//   - send_signed: distribute a raw transaction bound earlier with store_raw
//   - receive: decrypt a stored transaction
//   - delete: remove a transaction from one node
//   - resend: push a node's transactions to one key again
//
// # Assertion Types
//
//   - stored: a transaction is (or with absent: true, is not) on a node
//   - tx_count: a node holds exactly count transactions
//   - participants: the recipient keys a node stores for a transaction
//   - trace_count: an operation appears exactly count times in the trace
//   - trace_order: operations appear in the given order
//
// # Deterministic Testing
//
// Trace events carry key names and transaction labels instead of hashes,
// so traces are stable across runs and suitable for golden comparison.
package harness
