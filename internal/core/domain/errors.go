package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent the stable error kinds every layer speaks.
// Adapters wrap raw backend errors onto one of these at the lowest layer;
// business logic and the tool surface branch on Kind, never on backend
// error types.
var (
	// ErrInvalidInput indicates input failed schema or whitelist validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an ambiguous or contradictory request,
	// e.g. an external key matching more than one test.
	ErrConflict = errors.New("conflict")

	// ErrTransient indicates a retryable provider or store failure.
	ErrTransient = errors.New("transient failure")

	// ErrRateLimited indicates a tool-level QPS cap was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrPartialResult indicates one search branch failed; results from
	// the surviving branch are still returned with a soft warning.
	ErrPartialResult = errors.New("partial result")

	// ErrFatalConfig indicates a misconfiguration (dimension mismatch,
	// bad credentials) that retrying cannot fix. Never caught mid-stack.
	ErrFatalConfig = errors.New("fatal configuration error")

	// ErrInternal indicates an unexpected failure.
	ErrInternal = errors.New("internal error")
)

// ErrorKind is the wire-stable discriminator for an error.
type ErrorKind string

// Error kinds, as surfaced through the tool surface.
const (
	KindInvalidInput  ErrorKind = "invalid_input"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindTransient     ErrorKind = "transient"
	KindRateLimited   ErrorKind = "rate_limited"
	KindPartialResult ErrorKind = "partial_result"
	KindFatalConfig   ErrorKind = "fatal_config"
	KindInternal      ErrorKind = "internal"
)

// Kind classifies an error into its stable kind. Unrecognised errors
// classify as internal.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrPartialResult):
		return KindPartialResult
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrFatalConfig):
		return KindFatalConfig
	default:
		return KindInternal
	}
}

// RateLimitError carries the retry-after hint for a rejected call.
type RateLimitError struct {
	// Tool is the name of the rejected tool.
	Tool string

	// RetryAfter is how long the caller should wait before retrying.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Tool, e.RetryAfter)
}

// Unwrap makes the error classify as ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// InputError tags an invalid-input failure with the index of the
// offending text in a batch, so callers can skip just that record.
type InputError struct {
	// Index of the offending input within the submitted batch.
	Index int

	// Reason describes the rejection.
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input at index %d: %s", e.Index, e.Reason)
}

// Unwrap makes the error classify as ErrInvalidInput.
func (e *InputError) Unwrap() error { return ErrInvalidInput }
