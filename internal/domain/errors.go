package domain

import (
	"errors"
	"fmt"
)

// Machine-readable error codes carried by *Error.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeStaleOrder        = "STALE_ORDER"
	CodeRetryLimit        = "RETRY_LIMIT"
	CodePermanentContent  = "PERMANENT_CONTENT"
	CodeInvalidInput      = "INVALID_INPUT"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("audit order not found")
	ErrStaleOrder        = errors.New("audit order was modified concurrently")
	ErrRetryLimitReached = errors.New("retry limit reached")
	ErrPermanentContent  = errors.New("permanent content error")
	ErrInvalidInput      = errors.New("invalid input")
)

// Error is a domain error with a stable code and a message safe to show to a
// customer. Err keeps the underlying cause for logs.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error wrapping cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// PermanentError marks content problems that will not go away on retry
// (malformed observations, missing upstream artifacts).
func PermanentError(message string, cause error) error {
	if cause == nil {
		cause = ErrPermanentContent
	} else {
		cause = fmt.Errorf("%w: %w", ErrPermanentContent, cause)
	}
	return NewError(CodePermanentContent, message, cause)
}

// InvalidTransitionError is returned by every guarded transition. Callers in
// the orchestration layer treat it as an idempotent no-op signal.
type InvalidTransitionError struct {
	Op   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s: %s -> %s", e.Op, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidTransition(op string, from, to Status) error {
	return &InvalidTransitionError{Op: op, From: from, To: to}
}

// Code extracts the machine-readable code of err, or "INTERNAL".
func Code(err error) string {
	var de *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return de.Code
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStaleOrder):
		return CodeStaleOrder
	case errors.Is(err, ErrRetryLimitReached):
		return CodeRetryLimit
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return "INTERNAL"
	}
}

// PublicMessage maps err to a product-facing message without leaking internals.
func PublicMessage(err error) string {
	switch Code(err) {
	case "":
		return ""
	case CodeInvalidTransition:
		return "This audit is not in a state that allows this action."
	case CodeNotFound:
		return "Audit not found."
	case CodeStaleOrder:
		return "This audit was updated by another process, please retry."
	case CodeRetryLimit:
		return "This audit has reached its retry limit."
	case CodePermanentContent:
		return "We could not analyse the collected data for this audit."
	case CodeInvalidInput:
		var de *Error
		if errors.As(err, &de) && de.Message != "" {
			return de.Message
		}
		return "Invalid request."
	default:
		return "An unexpected error occurred."
	}
}
