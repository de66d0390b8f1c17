package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/privtx/internal/store"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type    string
	Message string
}

func (e *AssertionError) Error() string {
	return e.Message
}

func failed(typ, format string, args ...any) error {
	return &AssertionError{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// check evaluates one assertion against the trace and the nodes.
func (r *runner) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertStored:
		return r.assertStored(ctx, a)
	case AssertTxCount:
		return r.assertTxCount(ctx, a)
	case AssertParticipants:
		return r.assertParticipants(ctx, a)
	case AssertTraceCount:
		return assertTraceCount(r.result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(r.result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (r *runner) assertStored(ctx context.Context, a Assertion) error {
	_, err := r.nodes[a.Node].Store.Transactions().RetrieveByHash(ctx, r.txs[a.Tx])
	stored := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	switch {
	case a.Absent && stored:
		return failed(a.Type, "%s is still stored on %s", a.Tx, a.Node)
	case !a.Absent && !stored:
		return failed(a.Type, "%s is not stored on %s", a.Tx, a.Node)
	}
	return nil
}

func (r *runner) assertTxCount(ctx context.Context, a Assertion) error {
	count, err := r.nodes[a.Node].Store.Transactions().Count(ctx)
	if err != nil {
		return err
	}
	if count != int64(a.Count) {
		return failed(a.Type, "expected %d transactions on %s, found %d", a.Count, a.Node, count)
	}
	return nil
}

func (r *runner) assertParticipants(ctx context.Context, a Assertion) error {
	keys, err := r.nodes[a.Node].Transactions.GetParticipants(ctx, r.txs[a.Tx])
	if err != nil {
		return err
	}
	got := r.namesOf(keys)
	want := slices.Sorted(slices.Values(a.Parties))
	if !slices.Equal(want, got) {
		return failed(a.Type, "expected %s participants [%s] on %s, got [%s]",
			a.Tx, strings.Join(want, ","), a.Node, strings.Join(got, ","))
	}
	return nil
}

// assertTraceCount counts executed steps of one op, whatever their outcome.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return failed(a.Type, "expected %s to appear %d times, found %d", a.Op, a.Count, count)
	}
	return nil
}

// assertTraceOrder checks that the ops appear in order. Other steps may
// appear between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, e := range trace {
		if next < len(a.Ops) && e.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return failed(a.Type, "expected order %s, %s not found after step %d",
			strings.Join(a.Ops, " -> "), a.Ops[next], next)
	}
	return nil
}
