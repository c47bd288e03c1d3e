// Package apperr defines the error taxonomy shared by all costbridge modules.
//
// Every failure raised inside job or online business logic is converted into
// one of four kinds before it reaches a caller: validation problems, missing
// entities, expired sessions, and everything downstream (store, HTTP, token
// exchange) wrapped as unexpected.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	// KindValidation marks malformed or missing required input.
	KindValidation Kind = "validation_error"
	// KindEntityNotFound marks a referenced job, schedule, or setting that is absent.
	KindEntityNotFound Kind = "entity_not_found"
	// KindUnexpected wraps any downstream failure: store, HTTP, token exchange.
	KindUnexpected Kind = "unexpected_exception"
	// KindSessionExpired signals the caller must re-authenticate.
	KindSessionExpired Kind = "session_expired"
)

// Error is a classified application error carrying a developer-facing message
// and optionally wrapping the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a developer-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err returns nil so call sites can
// wrap unconditionally.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err. Unclassified errors map to KindUnexpected
// so nothing escapes the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// MessageOf extracts the developer-facing message from err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindEntityNotFound:
		return http.StatusNotFound
	case KindSessionExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
