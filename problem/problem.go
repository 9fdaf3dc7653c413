// Package problem defines the typed error taxonomy surfaced by the core and
// its mapping to RFC 9457 Problem Details documents.
//
// Core operations return *Error values; the HTTP boundary converts them with
// From. The core itself never formats HTTP responses.
package problem

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const typeBase = "https://codeccloud.ch/problems/"

// FieldError describes a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a typed business error carrying everything needed to render an
// RFC 9457 problem document at the boundary.
type Error struct {
	Status     int
	Type       string
	Title      string
	Detail     string
	RetryAfter int
	Errors     []FieldError
	cause      error
}

// Error returns the problem title, with detail when present.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Detail == "" {
		return e.Title
	}

	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// WithCause attaches an underlying error without changing the rendered document.
func (e *Error) WithCause(cause error) *Error {
	if e == nil {
		return nil
	}

	clone := *e
	clone.cause = cause

	return &clone
}

// BadRequest signals malformed or missing input.
func BadRequest(detail string) *Error {
	return &Error{
		Status: 400,
		Type:   typeBase + "bad-request",
		Title:  "Bad request",
		Detail: detail,
	}
}

// Unauthorized signals a missing or invalid credential.
func Unauthorized(detail string) *Error {
	if detail == "" {
		detail = "Authentication required."
	}

	return &Error{
		Status: 401,
		Type:   typeBase + "unauthorized",
		Title:  "Unauthorized",
		Detail: detail,
	}
}

// Forbidden signals an authenticated identity lacking permission.
func Forbidden(detail string) *Error {
	if detail == "" {
		detail = "You do not have permission to perform this action."
	}

	return &Error{
		Status: 403,
		Type:   typeBase + "forbidden",
		Title:  "Forbidden",
		Detail: detail,
	}
}

// Conflict signals an operation conflicting with current state.
func Conflict(detail string) *Error {
	if detail == "" {
		detail = "The requested operation conflicts with the current state."
	}

	return &Error{
		Status: 409,
		Type:   typeBase + "conflict",
		Title:  "Conflict",
		Detail: detail,
	}
}

// IdempotencyKeyConflict signals an idempotency key reused with a different payload.
func IdempotencyKeyConflict() *Error {
	return &Error{
		Status: 409,
		Type:   typeBase + "idempotency-conflict",
		Title:  "Idempotency key conflict",
		Detail: "The Idempotency-Key was reused with a different request payload.",
	}
}

// RateLimited signals that a caller exceeded its window budget. retryAfter is
// the number of seconds until the window resets.
func RateLimited(detail string, retryAfter int) *Error {
	if detail == "" {
		detail = "Too many requests. Slow down before retrying."
	}

	return &Error{
		Status:     429,
		Type:       typeBase + "rate-limited",
		Title:      "Rate limit exceeded",
		Detail:     detail,
		RetryAfter: retryAfter,
	}
}

// Validation signals a schema violation with field-level detail.
func Validation(fieldErrors ...FieldError) *Error {
	return &Error{
		Status: 422,
		Type:   typeBase + "validation-error",
		Title:  "Validation failed",
		Detail: "The request payload did not satisfy the schema.",
		Errors: fieldErrors,
	}
}

// Internal signals an unexpected failure. The detail is kept generic so the
// boundary never leaks internals.
func Internal(cause error) *Error {
	return &Error{
		Status: 500,
		Type:   typeBase + "internal-error",
		Title:  "Internal Server Error",
		Detail: "Unexpected error.",
		cause:  cause,
	}
}

// Detail is the wire document defined by RFC 9457, extended with a request
// correlation id and optional field errors.
type Detail struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	RequestID string       `json:"requestId"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// From converts any error into a problem document. Unknown errors map to a
// 500 internal problem without exposing their message.
func From(err error, requestID string) Detail {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var typed *Error
	if errors.As(err, &typed) {
		return Detail{
			Type:      typed.Type,
			Title:     typed.Title,
			Status:    typed.Status,
			Detail:    typed.Detail,
			RequestID: requestID,
			Errors:    typed.Errors,
		}
	}

	return Detail{
		Type:      typeBase + "internal-error",
		Title:     "Internal Server Error",
		Status:    500,
		Detail:    "Unexpected error.",
		RequestID: requestID,
	}
}

// StatusOf returns the HTTP status an error maps to.
func StatusOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Status
	}

	return 500
}
