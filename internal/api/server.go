// Package api serves a node over HTTP: the client-facing transaction
// endpoints, the peer endpoints used for pushes and resends, and the
// operational endpoints (/upcheck, /metrics).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/metrics"
	"github.com/roach88/privtx/internal/transaction"
)

// Transactions is the transaction manager as seen by the API.
type Transactions interface {
	Send(ctx context.Context, req transaction.SendRequest) (transaction.SendResponse, error)
	SendSignedTransaction(ctx context.Context, req transaction.SendSignedRequest) (transaction.SendResponse, error)
	StoreRaw(ctx context.Context, req transaction.StoreRawRequest) (transaction.StoreRawResponse, error)
	StorePayload(ctx context.Context, payload *enc.EncodedPayload) (transaction.StoreResult, error)
	Receive(ctx context.Context, req transaction.ReceiveRequest) (transaction.ReceiveResponse, error)
	Delete(ctx context.Context, hash enc.MessageHash) error
	IsSender(ctx context.Context, hash enc.MessageHash) (bool, error)
	GetParticipants(ctx context.Context, hash enc.MessageHash) ([]enc.PublicKey, error)
	GetMandatoryRecipients(ctx context.Context, hash enc.MessageHash) ([]enc.PublicKey, error)
	Upcheck(ctx context.Context) bool
	LocalKeys() []enc.PublicKey
	Payloads() *transaction.EncodedPayloadManager
}

// Resender serves resend requests from peers.
type Resender interface {
	ResendIndividual(ctx context.Context, hash enc.MessageHash, recipient enc.PublicKey) error
	ResendAll(ctx context.Context, recipient enc.PublicKey) (int, error)
}

// Options tunes the middleware chain.
type Options struct {
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// Server routes HTTP requests to a node.
type Server struct {
	txs    Transactions
	resend Resender
	router *mux.Router
}

// NewServer builds the router and its middleware chain.
func NewServer(txs Transactions, resend Resender, opts Options) *Server {
	s := &Server{txs: txs, resend: resend, router: mux.NewRouter()}
	r := s.router
	r.UseEncodedPath()

	// Client endpoints
	r.HandleFunc("/send", s.handleSend).Methods("POST")
	r.HandleFunc("/sendsignedtx", s.handleSendSigned).Methods("POST")
	r.HandleFunc("/storeraw", s.handleStoreRaw).Methods("POST")
	r.HandleFunc("/transaction/{hash}", s.handleReceive).Methods("GET")
	r.HandleFunc("/transaction/{hash}", s.handleDelete).Methods("DELETE")
	r.HandleFunc("/transaction/{hash}/isSender", s.handleIsSender).Methods("GET")
	r.HandleFunc("/transaction/{hash}/participants", s.handleParticipants).Methods("GET")
	r.HandleFunc("/transaction/{hash}/mandatory", s.handleMandatory).Methods("GET")
	r.HandleFunc("/encodedpayload/create", s.handleCreatePayload).Methods("POST")
	r.HandleFunc("/encodedpayload/decrypt", s.handleDecryptPayload).Methods("POST")
	r.HandleFunc("/keys", s.handleKeys).Methods("GET")

	// Peer endpoints
	r.HandleFunc("/push", s.handlePush).Methods("POST")
	r.HandleFunc("/resend", s.handleResend).Methods("POST")

	// Operational endpoints
	r.HandleFunc("/upcheck", s.handleUpcheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.Use(RequestIDMiddleware, MetricsMiddleware)
	if opts.RateLimitPerMinute > 0 {
		r.Use(RateLimitMiddleware(NewIPRateLimiter(opts.RateLimitPerMinute)))
	}
	if opts.MaxBodyBytes > 0 {
		r.Use(BodySizeLimitMiddleware(opts.MaxBodyBytes))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// decodeJSON reports oversized bodies as 413 through StatusFor, which
// looks through the bad-request wrapper.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid request body", err)
	}
	return nil
}

func hashVar(r *http.Request) (enc.MessageHash, error) {
	raw, err := url.PathUnescape(mux.Vars(r)["hash"])
	if err != nil {
		return enc.MessageHash{}, badRequest("invalid hash", err)
	}
	h, err := enc.ParseMessageHash(raw)
	if err != nil {
		return enc.MessageHash{}, badRequest("invalid hash", err)
	}
	return h, nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body SendRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.toTransaction()
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.txs.Send(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/transaction/"+resp.TransactionHash.URLString())
	writeJSON(w, http.StatusCreated, SendResponse{
		Key:            resp.TransactionHash,
		ManagedParties: nonNil(resp.ManagedParties),
		SenderKey:      resp.Sender,
	})
}

func (s *Server) handleSendSigned(w http.ResponseWriter, r *http.Request) {
	var body SendSignedRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := enc.PrivacyModeFromFlag(body.PrivacyFlag)
	if err != nil {
		writeError(w, r, badRequest("invalid privacyFlag", err))
		return
	}

	resp, err := s.txs.SendSignedTransaction(r.Context(), transaction.SendSignedRequest{
		SignedData:                   body.Hash,
		Recipients:                   body.To,
		PrivacyMode:                  mode,
		MandatoryRecipients:          body.MandatoryRecipients,
		AffectedContractTransactions: body.AffectedContractTransactions,
		ExecHash:                     body.ExecHash,
		PrivacyGroupID:               groupID(body.PrivacyGroupID),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SendResponse{
		Key:            resp.TransactionHash,
		ManagedParties: nonNil(resp.ManagedParties),
		SenderKey:      resp.Sender,
	})
}

func (s *Server) handleStoreRaw(w http.ResponseWriter, r *http.Request) {
	var body StoreRawRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := transaction.StoreRawRequest{Payload: body.Payload}
	if body.From != nil {
		req.Sender = *body.From
	}

	resp, err := s.txs.StoreRaw(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StoreRawResponse{Key: resp.Hash})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	hash, err := hashVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := transaction.ReceiveRequest{TransactionHash: hash}

	q := r.URL.Query()
	if to := q.Get("to"); to != "" {
		key, err := enc.ParsePublicKey(to)
		if err != nil {
			writeError(w, r, badRequest("invalid to", err))
			return
		}
		req.Recipient = &key
	}
	if raw := q.Get("isRaw"); raw != "" {
		if req.Raw, err = strconv.ParseBool(raw); err != nil {
			writeError(w, r, badRequest("invalid isRaw", err))
			return
		}
	}

	resp, err := s.txs.Receive(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiveResponse(resp))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	hash, err := hashVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.txs.Delete(r.Context(), hash); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsSender(w http.ResponseWriter, r *http.Request) {
	hash, err := hashVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	isSender, err := s.txs.IsSender(r.Context(), hash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, strconv.FormatBool(isSender))
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	s.writeKeyList(w, r, s.txs.GetParticipants)
}

func (s *Server) handleMandatory(w http.ResponseWriter, r *http.Request) {
	s.writeKeyList(w, r, s.txs.GetMandatoryRecipients)
}

func (s *Server) writeKeyList(w http.ResponseWriter, r *http.Request, get func(context.Context, enc.MessageHash) ([]enc.PublicKey, error)) {
	hash, err := hashVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	keys, err := get(r.Context(), hash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	writeText(w, http.StatusOK, strings.Join(parts, ","))
}

func (s *Server) handleCreatePayload(w http.ResponseWriter, r *http.Request) {
	var body SendRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.toTransaction()
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := s.txs.Payloads().Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := enc.EncodePayload(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDecryptPayload(w http.ResponseWriter, r *http.Request) {
	var body DecryptRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := enc.DecodePayload(body.EncodedPayload)
	if err != nil {
		writeError(w, r, badRequest("invalid encoded payload", err))
		return
	}

	resp, err := s.txs.Payloads().Decrypt(payload, body.Recipient)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiveResponse(resp))
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, KeysResponse{Keys: s.txs.LocalKeys()})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := enc.DecodePayload(data)
	if err != nil {
		writeError(w, r, badRequest("invalid encoded payload", err))
		return
	}

	result, err := s.txs.StorePayload(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !result.Stored() {
		slog.Info("push dropped", "hash", result.Hash.String(), "reason", result.Reason)
		writeText(w, http.StatusAccepted, result.Reason)
		return
	}
	writeText(w, http.StatusCreated, result.Hash.String())
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var body ResendRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	switch body.Type {
	case ResendIndividual:
		if body.Key == nil {
			writeError(w, r, badRequest("key is required for INDIVIDUAL resend", nil))
			return
		}
		err := s.resend.ResendIndividual(r.Context(), *body.Key, body.PublicKey)
		metrics.RecordResend("individual", boolToInt(err == nil), err != nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ResendResponse{Pushed: 1})
	case ResendAll:
		pushed, err := s.resend.ResendAll(r.Context(), body.PublicKey)
		metrics.RecordResend("all", pushed, err != nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ResendResponse{Pushed: pushed})
	default:
		writeError(w, r, badRequest(fmt.Sprintf("unknown resend type %q", body.Type), nil))
	}
}

func (s *Server) handleUpcheck(w http.ResponseWriter, r *http.Request) {
	if !s.txs.Upcheck(r.Context()) {
		writeText(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeText(w, http.StatusOK, "I'm up!")
}

func (b SendRequest) toTransaction() (transaction.SendRequest, error) {
	mode, err := enc.PrivacyModeFromFlag(b.PrivacyFlag)
	if err != nil {
		return transaction.SendRequest{}, badRequest("invalid privacyFlag", err)
	}
	req := transaction.SendRequest{
		Payload:                      b.Payload,
		Recipients:                   b.To,
		PrivacyMode:                  mode,
		MandatoryRecipients:          b.MandatoryRecipients,
		AffectedContractTransactions: b.AffectedContractTransactions,
		ExecHash:                     b.ExecHash,
		PrivacyGroupID:               groupID(b.PrivacyGroupID),
	}
	if b.From != nil {
		req.Sender = *b.From
	}
	return req, nil
}

func toReceiveResponse(resp transaction.ReceiveResponse) ReceiveResponse {
	affected := resp.AffectedTransactions
	if affected == nil {
		affected = []enc.TxHash{}
	}
	return ReceiveResponse{
		Payload:                      resp.UnencryptedData,
		PrivacyFlag:                  int(resp.PrivacyMode),
		AffectedContractTransactions: affected,
		ExecHash:                     resp.ExecHash,
		ManagedParties:               nonNil(resp.ManagedParties),
		SenderKey:                    resp.Sender,
		PrivacyGroupID:               resp.PrivacyGroupID,
	}
}

func groupID(b []byte) enc.PrivacyGroupID {
	if len(b) == 0 {
		return nil
	}
	return enc.PrivacyGroupID(b)
}

func nonNil(keys []enc.PublicKey) []enc.PublicKey {
	if keys == nil {
		return []enc.PublicKey{}
	}
	return keys
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
