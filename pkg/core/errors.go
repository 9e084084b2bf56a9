// Package core defines the canonical error taxonomy shared by the SDK,
// the backend client, and the voice pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is the canonical failure record surfaced to users. Every failure
// that reaches the ledger is one of these.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Type, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrTransport      ErrorType = "transport_error"
	ErrJobFailed      ErrorType = "job_failed_error"
	ErrMalformed      ErrorType = "malformed_response_error"
)

// User-facing copy for failures the classifier cannot say anything more
// specific about.
const (
	genericMessage   = "Something went wrong while processing your request. Please try again."
	rateLimitMessage = "You're sending messages too quickly. Please wait a moment and try again."
	serverMessage    = "The service is having trouble right now. Please try again shortly."
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    rateLimitMessage,
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error with server-supplied copy.
func NewAPIError(message string, status int) *Error {
	if message == "" {
		message = serverMessage
	}
	return &Error{Type: ErrAPI, Message: message, HTTPStatus: status}
}

// NewJobFailedError creates a terminal job failure carrying the
// server-supplied reason, or generic copy if the server sent none.
func NewJobFailedError(reason string) *Error {
	if reason == "" {
		reason = genericMessage
	}
	return &Error{Type: ErrJobFailed, Message: reason}
}

// NewMalformedResponseError creates an error for a payload the client
// could not interpret. Retry policy treats it like a transient failure.
func NewMalformedResponseError(detail string) *Error {
	return &Error{Type: ErrMalformed, Message: genericMessage, Detail: detail}
}

// NewTransportError wraps a network-level failure (DNS, reset, timeout).
func NewTransportError(op string, cause error) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: "Could not reach the assistant service. Check your connection and try again.",
		Detail:  fmt.Sprintf("%s: %v", op, cause),
		cause:   cause,
	}
}

// IsRetryable reports whether resubmitting the same input can succeed.
// Job failures are terminal for that job but a fresh submission starts a
// new job, so they count as retryable; only invalid requests do not.
func (e *Error) IsRetryable() bool {
	return e.Type != ErrInvalidRequest
}

// IsCanceled reports whether err is a cancellation signal. Cancellations
// are user aborts, not failures; callers must filter them out before
// classification.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Classify maps any failure value to a canonical *Error. It never panics
// and never returns nil for non-nil input. Rules, in order: an existing
// *Error passes through; a StatusError keeps its HTTP status, with 429
// mapped to distinct rate-limit copy; anything else keeps its message as
// detail under generic copy.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		if ce.HTTPStatus == http.StatusTooManyRequests && ce.Type != ErrRateLimit {
			rl := NewRateLimitError(0)
			rl.Detail = ce.Message
			rl.cause = ce
			return rl
		}
		return ce
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.Status == http.StatusTooManyRequests {
			return NewRateLimitError(0)
		}
		return NewAPIError(se.Message, se.Status)
	}

	return &Error{
		Type:    ErrAPI,
		Message: genericMessage,
		Detail:  err.Error(),
		cause:   err,
	}
}

// StatusError is a minimal failure shape carrying an HTTP status for
// callers that do not build a full *Error at the boundary.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}
