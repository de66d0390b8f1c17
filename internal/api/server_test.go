package api

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/enclave"
	"github.com/roach88/privtx/internal/node"
	"github.com/roach88/privtx/internal/publish"
	"github.com/roach88/privtx/internal/testutil"
	"github.com/roach88/privtx/internal/transaction"
)

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}

type testNode struct {
	key    enc.PublicKey
	node   *node.Node
	server *Server
}

func newTestNode(t *testing.T, network *publish.Network, opts Options) *testNode {
	t.Helper()
	kp, err := enclave.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	cfg := testutil.NodeConfig(t, kp)
	n, err := node.New(cfg, node.WithNetwork(network), node.WithRecorder(nopRecorder{}))
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	return &testNode{key: kp.Public, node: n, server: NewServer(n.Transactions, n.Resend, opts)}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestSendReceiveOverHTTP(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	bob := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "POST", "/send", SendRequest{
		Payload: []byte("hello"),
		To:      []enc.PublicKey{bob.key},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[SendResponse](t, rec)
	assert.Equal(t, alice.key, sent.SenderKey)
	assert.Empty(t, sent.ManagedParties)
	assert.Equal(t, "/transaction/"+sent.Key.URLString(), rec.Header().Get("Location"))

	rec = do(t, bob.server, "GET", "/transaction/"+sent.Key.URLString(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[ReceiveResponse](t, rec)
	assert.Equal(t, "hello", string(got.Payload))
	assert.Equal(t, alice.key, got.SenderKey)
	assert.Equal(t, []enc.PublicKey{bob.key}, got.ManagedParties)
	assert.Equal(t, 0, got.PrivacyFlag)

	rec = do(t, alice.server, "GET", "/transaction/"+sent.Key.URLString()+"/isSender", nil)
	assert.Equal(t, "true", rec.Body.String())
	rec = do(t, bob.server, "GET", "/transaction/"+sent.Key.URLString()+"/isSender", nil)
	assert.Equal(t, "false", rec.Body.String())

	rec = do(t, alice.server, "GET", "/transaction/"+sent.Key.URLString()+"/participants", nil)
	assert.Equal(t, bob.key.String()+","+alice.key.String(), rec.Body.String())
}

func TestStandardBase64HashInPath(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "POST", "/storeraw", StoreRawRequest{Payload: []byte("raw")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := decode[StoreRawResponse](t, rec)

	escaped := strings.NewReplacer("/", "%2F", "+", "%2B", "=", "%3D").Replace(stored.Key.String())
	rec = do(t, alice.server, "GET", "/transaction/"+escaped+"?isRaw=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "raw", string(decode[ReceiveResponse](t, rec).Payload))
}

func TestErrorMapping(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	missing := enc.Digest([]byte("missing")).URLString()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "unknown transaction", method: "GET", path: "/transaction/" + missing,
			status: http.StatusNotFound, code: "TRANSACTION_NOT_FOUND"},
		{name: "delete unknown", method: "DELETE", path: "/transaction/" + missing,
			status: http.StatusNotFound, code: "TRANSACTION_NOT_FOUND"},
		{name: "malformed hash", method: "GET", path: "/transaction/not-a-hash",
			status: http.StatusBadRequest, code: "Bad Request"},
		{name: "malformed body", method: "POST", path: "/send", body: []byte("{"),
			status: http.StatusBadRequest, code: "Bad Request"},
		{name: "bad privacy flag", method: "POST", path: "/send",
			body:   SendRequest{Payload: []byte("x"), PrivacyFlag: 9},
			status: http.StatusBadRequest, code: "Bad Request"},
		{name: "unknown dependency", method: "POST", path: "/send",
			body: SendRequest{Payload: []byte("x"), PrivacyFlag: 1,
				AffectedContractTransactions: []enc.TxHash{enc.TxHash(enc.Digest([]byte("gone")))}},
			status: http.StatusForbidden, code: "PRIVACY_VIOLATION"},
		{name: "psv without exec hash", method: "POST", path: "/send",
			body:   SendRequest{Payload: []byte("x"), PrivacyFlag: 3},
			status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{name: "bad push", method: "POST", path: "/push", body: []byte("garbage"),
			status: http.StatusBadRequest, code: "Bad Request"},
		{name: "unknown resend type", method: "POST", path: "/resend",
			body:   ResendRequest{Type: "SOME"},
			status: http.StatusBadRequest, code: "Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, alice.server, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestDeleteThenReceive(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "POST", "/send", SendRequest{Payload: []byte("bye")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := decode[SendResponse](t, rec).Key.URLString()

	rec = do(t, alice.server, "DELETE", "/transaction/"+key, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, alice.server, "GET", "/transaction/"+key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMandatoryRecipientsEndpoint(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	bob := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "POST", "/send", SendRequest{
		Payload:             []byte("mr"),
		To:                  []enc.PublicKey{bob.key},
		PrivacyFlag:         int(enc.MandatoryRecipients),
		MandatoryRecipients: []enc.PublicKey{bob.key},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := decode[SendResponse](t, rec).Key.URLString()

	rec = do(t, bob.server, "GET", "/transaction/"+key+"/mandatory", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, bob.key.String(), rec.Body.String())

	rec = do(t, alice.server, "POST", "/send", SendRequest{Payload: []byte("std"), To: []enc.PublicKey{bob.key}})
	require.Equal(t, http.StatusCreated, rec.Code)
	key = decode[SendResponse](t, rec).Key.URLString()
	rec = do(t, bob.server, "GET", "/transaction/"+key+"/mandatory", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MANDATORY_RECIPIENTS_NOT_AVAILABLE", decode[ErrorResponse](t, rec).Code)
}

func TestEncodedPayloadCreateAndDecrypt(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	bob := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "POST", "/encodedpayload/create", SendRequest{
		Payload: []byte("detached"),
		To:      []enc.PublicKey{bob.key},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	encoded := rec.Body.Bytes()

	// nothing was stored or pushed
	payload, err := enc.DecodePayload(encoded)
	require.NoError(t, err)
	rec = do(t, bob.server, "GET", "/transaction/"+payload.Hash().URLString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, bob.server, "POST", "/encodedpayload/decrypt", DecryptRequest{EncodedPayload: encoded})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "detached", string(decode[ReceiveResponse](t, rec).Payload))
}

func TestPushEndpoint(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	bob := newTestNode(t, network, Options{})

	payload, err := alice.node.Transactions.Payloads().Create(t.Context(), sendTo(bob.key, "pushed by hand"))
	require.NoError(t, err)
	wire, err := enc.EncodePayload(payload.ForRecipient(bob.key))
	require.NoError(t, err)

	rec := do(t, bob.server, "POST", "/push", wire)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, payload.Hash().String(), rec.Body.String())

	rec = do(t, bob.server, "GET", "/transaction/"+payload.Hash().URLString(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pushed by hand", string(decode[ReceiveResponse](t, rec).Payload))
}

func TestResendEndpoint(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})
	bob := newTestNode(t, network, Options{})

	for _, msg := range []string{"one", "two"} {
		rec := do(t, alice.server, "POST", "/send", SendRequest{Payload: []byte(msg), To: []enc.PublicKey{bob.key}})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, alice.server, "POST", "/resend", ResendRequest{Type: ResendAll, PublicKey: bob.key})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[ResendResponse](t, rec).Pushed)

	rec = do(t, alice.server, "POST", "/resend", ResendRequest{Type: ResendIndividual, PublicKey: bob.key})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})

	rec := do(t, alice.server, "GET", "/upcheck", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "I'm up!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, alice.server, "GET", "/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []enc.PublicKey{alice.key}, decode[KeysResponse](t, rec).Keys)

	rec = do(t, alice.server, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "privtx_http_requests_total")

	require.NoError(t, alice.node.Close())
	rec = do(t, alice.server, "GET", "/upcheck", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{})

	req := httptest.NewRequest("GET", "/upcheck", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	alice.server.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestBodySizeLimit(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{MaxBodyBytes: 64})

	rec := do(t, alice.server, "POST", "/send", SendRequest{Payload: bytes.Repeat([]byte("x"), 256)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	network := publish.NewNetwork()
	alice := newTestNode(t, network, Options{RateLimitPerMinute: 2})

	assert.Equal(t, http.StatusOK, do(t, alice.server, "GET", "/upcheck", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, alice.server, "GET", "/upcheck", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, alice.server, "GET", "/upcheck", nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
	assert.Equal(t, http.StatusBadRequest, StatusFor(badRequest("x", nil)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(badRequest("x", &http.MaxBytesError{Limit: 1})))
}

func sendTo(key enc.PublicKey, msg string) transaction.SendRequest {
	return transaction.SendRequest{Payload: []byte(msg), Recipients: []enc.PublicKey{key}}
}
