package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrStatusConflict indicates a document is no longer in the status a
	// transition starts from
	ErrStatusConflict = errors.New("status conflict")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrUnsupportedFormat indicates the declared file type cannot be extracted
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyContent indicates extraction produced no text
	ErrEmptyContent = errors.New("empty content")

	// ErrEmptyInput indicates a blank string was given to the embedder
	ErrEmptyInput = errors.New("empty input")

	// ErrChunkingFailed indicates the chunker produced zero chunks
	ErrChunkingFailed = errors.New("chunking produced no chunks")

	// ErrProvider indicates the embedding provider call failed
	ErrProvider = errors.New("embedding provider error")

	// ErrRateLimited indicates the provider throttled the request
	ErrRateLimited = errors.New("rate limited")

	// ErrInputTooLarge indicates the provider rejected an oversized input
	ErrInputTooLarge = errors.New("input too large")

	// ErrContentPolicy indicates the provider refused the content
	ErrContentPolicy = errors.New("content policy violation")

	// ErrDimensionMismatch indicates a vector does not match the configured dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrServiceUnavailable indicates the AI service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// UnsupportedFormatError names the format that could not be extracted
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %q", e.Format)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// NotFoundError identifies a missing resource. Owner mismatches are reported
// the same way so callers cannot probe for other owners' documents.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError describes malformed options or input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderErrorKind distinguishes provider failures that are signalled distinctly
type ProviderErrorKind string

const (
	ProviderErrorGeneric         ProviderErrorKind = "provider_error"
	ProviderErrorRateLimited     ProviderErrorKind = "rate_limited"
	ProviderErrorInputTooLarge   ProviderErrorKind = "input_too_large"
	ProviderErrorContentPolicy   ProviderErrorKind = "content_policy_violation"
	ProviderErrorUnauthenticated ProviderErrorKind = "unauthenticated"
	ProviderErrorUnavailable     ProviderErrorKind = "unavailable"
)

// ProviderError is returned by embedding providers and by the embedder once
// retries are exhausted.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProvider:
		return true
	case ErrRateLimited:
		return e.Kind == ProviderErrorRateLimited
	case ErrInputTooLarge:
		return e.Kind == ProviderErrorInputTooLarge
	case ErrContentPolicy:
		return e.Kind == ProviderErrorContentPolicy
	case ErrServiceUnavailable:
		return e.Kind == ProviderErrorUnavailable
	}
	return false
}

// NewProviderError classifies a provider failure. Input size, content policy
// and credential failures are not worth retrying.
func NewProviderError(kind ProviderErrorKind, statusCode int, err error) *ProviderError {
	retryable := true
	switch kind {
	case ProviderErrorInputTooLarge, ProviderErrorContentPolicy, ProviderErrorUnauthenticated:
		retryable = false
	}
	return &ProviderError{
		Kind:       kind,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}

// IsRetryable reports whether err may succeed on another attempt
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrDimensionMismatch)
}
