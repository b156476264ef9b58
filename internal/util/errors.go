// Package util provides the error taxonomy, response envelope and small
// helpers shared by the admission pipeline and the API modules.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., APIError, ConfigError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// Every error that reaches the HTTP boundary is classified into a Kind
// with KindOf and rendered by Failure. Only the Kind and the
// client-safe Details are ever serialized.
package util

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind is the stable, client-visible classification of a failure.
type Kind string

// Error kinds surfaced in the response envelope.
const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindNotFound        Kind = "ENTITY_NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindValidation      Kind = "VALIDATION"
	KindInternal        Kind = "INTERNAL"
)

// Common sentinel errors.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrConfigInvalid   = errors.New("invalid configuration")
)

var kindSentinels = map[Kind]error{
	KindUnauthenticated: ErrUnauthenticated,
	KindRateLimited:     ErrRateLimited,
	KindNotFound:        ErrNotFound,
	KindConflict:        ErrConflict,
	KindValidation:      ErrInvalidInput,
	KindInternal:        ErrInternal,
}

// StatusCode returns the HTTP status for a kind.
func StatusCode(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// APIError is a classified failure carrying client-safe details and an
// optional internal cause. The cause is logged, never serialized.
type APIError struct {
	Kind    Kind
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *APIError) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && target == sentinel {
		return true
	}
	t, ok := target.(*APIError)
	return ok && t.Kind == e.Kind
}

// NewAPIError creates a new APIError.
func NewAPIError(kind Kind, details map[string]any, cause error) *APIError {
	return &APIError{Kind: kind, Details: details, Cause: cause}
}

// NewUnauthenticatedError creates an UNAUTHENTICATED error. The cause is kept
// for logging only; every authentication failure renders identically.
func NewUnauthenticatedError(cause error) *APIError {
	return &APIError{Kind: KindUnauthenticated, Cause: cause}
}

// NewRateLimitError creates a RATE_LIMITED error.
func NewRateLimitError(limit int, retryAfter time.Duration) *APIError {
	return &APIError{
		Kind: KindRateLimited,
		Details: map[string]any{
			"limit":      limit,
			"retryAfter": int(math.Ceil(retryAfter.Seconds())),
		},
	}
}

// NewNotFoundError creates an ENTITY_NOT_FOUND error.
func NewNotFoundError(cause error) *APIError {
	return &APIError{Kind: KindNotFound, Cause: cause}
}

// NewConflictError creates a CONFLICT error with a client-facing message.
func NewConflictError(message string, cause error) *APIError {
	var details map[string]any
	if message != "" {
		details = map[string]any{"message": message}
	}
	return &APIError{Kind: KindConflict, Details: details, Cause: cause}
}

// NewInternalError creates an INTERNAL error.
func NewInternalError(cause error) *APIError {
	return &APIError{Kind: KindInternal, Cause: cause}
}

// KindOf classifies any error. Unclassified errors, including context
// cancellation and deadline expiry, are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}
