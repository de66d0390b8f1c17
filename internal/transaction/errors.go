package transaction

import (
	"errors"
	"fmt"

	"github.com/roach88/privtx/internal/enc"
)

// Error is a typed failure surfaced to callers of the manager.
// Errors propagate unmodified; nothing here is retried internally.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes manager errors.
type ErrorCode string

const (
	// CodeTransactionNotFound indicates the hash is absent from the relevant store.
	CodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"

	// CodeRecipientKeyNotFound indicates no candidate key could open a payload.
	CodeRecipientKeyNotFound ErrorCode = "RECIPIENT_KEY_NOT_FOUND"

	// CodePrivacyViolation indicates a dependency failed privacy validation.
	CodePrivacyViolation ErrorCode = "PRIVACY_VIOLATION"

	// CodeMandatoryRecipientsNotAvailable indicates a mandatory-recipient
	// query against a transaction of another privacy mode.
	CodeMandatoryRecipientsNotAvailable ErrorCode = "MANDATORY_RECIPIENTS_NOT_AVAILABLE"

	// CodeInvalidState indicates stored data conflicts with an incoming payload.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeEnhancedPrivacyNotSupported indicates a non-standard privacy mode
	// while privacy enhancements are disabled.
	CodeEnhancedPrivacyNotSupported ErrorCode = "ENHANCED_PRIVACY_NOT_SUPPORTED"

	// CodeInvalidRequest indicates a malformed request.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a typed error, or "" for any other error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsNotFound returns true if err is a TransactionNotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeTransactionNotFound
}

// IsRecipientKeyNotFound returns true if err is a RecipientKeyNotFound error.
func IsRecipientKeyNotFound(err error) bool {
	return CodeOf(err) == CodeRecipientKeyNotFound
}

// IsPrivacyViolation returns true if err is a PrivacyViolation error.
func IsPrivacyViolation(err error) bool {
	return CodeOf(err) == CodePrivacyViolation
}

// IsInvalidState returns true if err is an invalid-state error.
func IsInvalidState(err error) bool {
	return CodeOf(err) == CodeInvalidState
}

func newNotFoundError(hash enc.MessageHash, cause error) *Error {
	return &Error{
		Code:    CodeTransactionNotFound,
		Message: fmt.Sprintf("Message with hash %s was not found", hash),
		Err:     cause,
	}
}

func newRecipientKeyNotFoundError(hash enc.MessageHash) *Error {
	return &Error{
		Code:    CodeRecipientKeyNotFound,
		Message: fmt.Sprintf("No key found as recipient of message %s", hash),
	}
}

func newPrivacyViolationError(format string, args ...any) *Error {
	return &Error{
		Code:    CodePrivacyViolation,
		Message: fmt.Sprintf(format, args...),
	}
}

func newInvalidStateError(message string) *Error {
	return &Error{Code: CodeInvalidState, Message: message}
}

func newInvalidRequestError(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}
