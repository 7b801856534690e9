// Package apperr defines the error taxonomy shared by services and the HTTP
// layer.  Services return *Error values; the request boundary renders them
// into the response envelope with the matching status code.  Anything that
// is not an *Error is treated as an unexpected internal failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status-code mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidOperation:
		return "invalid_operation"
	}
	return "internal"
}

// Authentication failure codes.  Clients use them to tell an expired
// session (refresh and retry) from a bad one (log in again).
const (
	CodeTokenMissing       = "token_missing"
	CodeTokenExpired       = "token_expired"
	CodeTokenInvalid       = "token_invalid"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
	CodeRefreshInvalid     = "refresh_invalid"
)

// FieldError is one per-field validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed application error.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a validation error listing every offending field.
func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Field is shorthand for a single-field validation error.
func Field(field, message string) *Error {
	return Validation(FieldError{Field: field, Message: message})
}

func Unauthenticated(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func InvalidOperation(message string) *Error {
	return &Error{Kind: KindInvalidOperation, Message: message}
}

// Internal wraps an unexpected failure.  The message is safe to show; err
// is only logged or exposed in development.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for untyped errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindInvalidOperation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
