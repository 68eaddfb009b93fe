// Package errors defines the structured error taxonomy for the retrieval
// core: provider failures, dimension mismatches, and corpus scope violations
// carry stable codes so callers can branch on them with errors.Is.
package errors

import (
	"fmt"
)

// Error is the structured error type for the retrieval core.
type Error struct {
	// Code is the unique error code (e.g. "ERR_301_PROVIDER_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the subsystem the error originated in.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details holds additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed if repeated.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is against sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given code and message.
// Category, severity, and retryability are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error, preserving it as the cause.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel values for errors.Is checks. These carry only a code; real
// instances created via New/Wrap match them by code.
var (
	// ErrProviderUnavailable indicates an embedding or cross-encoder backend
	// exhausted its retries. Callers must surface this without returning
	// partial results.
	ErrProviderUnavailable = &Error{Code: ErrCodeProviderUnavailable, Message: "provider unavailable"}

	// ErrDimensionMismatch indicates a stored vector dimension differs from
	// the configured model dimension. Fatal for the corpus until re-index.
	ErrDimensionMismatch = &Error{Code: ErrCodeDimensionMismatch, Message: "embedding dimension mismatch"}

	// ErrCorpusScope indicates an operation would touch entries outside its
	// declared corpus. This is a programming-contract violation.
	ErrCorpusScope = &Error{Code: ErrCodeCorpusScope, Message: "corpus scope violation"}

	// ErrIndexLocked indicates another index run holds the corpus lock.
	ErrIndexLocked = &Error{Code: ErrCodeIndexLocked, Message: "corpus index lock held by another run"}

	// ErrIndexAborted indicates an index run stopped before converging.
	// Committed files stay committed; a retry is cheap because unchanged
	// files are skipped by hash.
	ErrIndexAborted = &Error{Code: ErrCodeIndexAborted, Message: "index run aborted"}
)

// ProviderUnavailable wraps a provider failure after retry exhaustion.
func ProviderUnavailable(message string, cause error) *Error {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// DimensionMismatch builds a dimension mismatch error with both dimensions
// recorded as details.
func DimensionMismatch(expected, got int) *Error {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("expected %d dimensions, got %d (full re-index required)", expected, got), nil).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got))
}

// CorpusScope builds a scope violation error naming the offending corpus.
func CorpusScope(declared, actual string) *Error {
	return New(ErrCodeCorpusScope,
		fmt.Sprintf("operation scoped to corpus %q would touch corpus %q", declared, actual), nil)
}

// IsRetryable reports whether an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or empty string for foreign errors.
func GetCode(err error) string {
	if ae, ok := err.(*Error); ok {
		return ae.Code
	}
	return ""
}
