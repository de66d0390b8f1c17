package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/privtx/internal/store"
	"github.com/roach88/privtx/internal/transaction"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch transaction.CodeOf(err) {
	case transaction.CodeTransactionNotFound, transaction.CodeRecipientKeyNotFound:
		return http.StatusNotFound
	case transaction.CodePrivacyViolation, transaction.CodeEnhancedPrivacyNotSupported:
		return http.StatusForbidden
	case transaction.CodeMandatoryRecipientsNotAvailable, transaction.CodeInvalidRequest:
		return http.StatusBadRequest
	case transaction.CodeInvalidState:
		return http.StatusConflict
	}
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicate) {
		return http.StatusConflict
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	var bad *badRequestError
	if errors.As(err, &bad) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &badRequestError{msg: msg, err: err}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	code := string(transaction.CodeOf(err))
	if code == "" {
		code = http.StatusText(status)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "requestId", RequestID(r.Context()), "error", err)
		msg = "internal error"
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, ErrorResponse{Code: code, Message: msg, RequestID: RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
