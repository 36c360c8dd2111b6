package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API error for status mapping and client reporting.
type Kind int

const (
	// KindInternal covers bugs and unexpected conditions (disk full, ...).
	KindInternal Kind = iota
	// KindUnauthorized means no or invalid credential.
	KindUnauthorized
	// KindForbidden means authenticated but insufficient capability.
	KindForbidden
	// KindNotFound means the target entity does not exist.
	KindNotFound
	// KindInvalidRequest covers validation failures and malformed payloads.
	KindInvalidRequest
	// KindConflict covers duplicate versions, duplicate token names, and
	// removing the last owner.
	KindConflict
	// KindUpstreamFailure covers blob store, OAuth and git failures.
	KindUpstreamFailure
)

// Error is an API error with a client-facing detail message.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors of the same kind, so callers can test with errors.Is
// against the sentinel constructors below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates an error of the given kind with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause. The cause is kept
// for logs; only Detail reaches the client.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// Unauthorized creates an unauthorized error with the standard detail.
func Unauthorized() *Error {
	return New(KindUnauthorized, "unauthorized")
}

// Forbidden creates a forbidden error with the standard detail.
func Forbidden() *Error {
	return New(KindForbidden, "forbidden")
}

// NotFound creates a not-found error.
func NotFound(detail string) *Error {
	return New(KindNotFound, detail)
}

// InvalidRequest creates a validation error.
func InvalidRequest(detail string) *Error {
	return New(KindInvalidRequest, detail)
}

// Conflict creates a conflict error.
func Conflict(detail string) *Error {
	return New(KindConflict, detail)
}

// Upstream wraps a failure of an external collaborator.
func Upstream(detail string, cause error) *Error {
	return Wrap(KindUpstreamFailure, detail, cause)
}

// KindOf extracts the kind of an error, defaulting to internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the client-facing message for an error. Internal errors are
// masked so that causes never leak to clients.
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return "internal error"
}

// ResponseErrors is the upstream-compatible error envelope.
type ResponseErrors struct {
	Errors []ResponseError `json:"errors"`
}

// ResponseError is a single error in the envelope.
type ResponseError struct {
	Detail string `json:"detail"`
}

// Envelope builds the error envelope for an error.
func Envelope(err error) ResponseErrors {
	return ResponseErrors{Errors: []ResponseError{{Detail: Detail(err)}}}
}
