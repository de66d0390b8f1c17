package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/api"
	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/node"
	"github.com/roach88/privtx/internal/publish"
	"github.com/roach88/privtx/internal/testutil"
)

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}

// testNode is a node served over httptest.
type testNode struct {
	key  enc.PublicKey
	node *node.Node
	url  string
}

func startNode(t *testing.T, network *publish.Network, name string) *testNode {
	t.Helper()
	kp := testutil.KeyPair(t, name)
	n, err := node.New(testutil.NodeConfig(t, kp), node.WithNetwork(network), node.WithRecorder(nopRecorder{}))
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	srv := httptest.NewServer(api.NewServer(n.Transactions, n.Resend, api.Options{}))
	t.Cleanup(srv.Close)
	return &testNode{key: kp.Public, node: n, url: srv.URL}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// syncBuffer is a bytes.Buffer safe for a writer and a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
