package jwt

import (
	"errors"
	"fmt"
)

// Supported HMAC signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
)

// Sentinel errors for JWT operations.
var (
	// ErrEmptyToken indicates that the token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrEmptySecret indicates that no signing secret is configured.
	ErrEmptySecret = errors.New("signing secret is empty")

	// ErrTokenMalformed indicates that the token is malformed.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenInvalidSignature indicates that the token signature is invalid.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenInvalidIssuer indicates that the token issuer is invalid.
	ErrTokenInvalidIssuer = errors.New("token issuer is invalid")

	// ErrUnsupportedAlgorithm indicates that the signing algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")
)

// VerificationError is returned for every failed verification. Callers at
// the HTTP boundary treat all of them the same way; Reason is only used for
// logs and metrics.
type VerificationError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jwt verification error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("jwt verification error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *VerificationError) Is(target error) bool {
	_, ok := target.(*VerificationError)
	return ok || errors.Is(e.Cause, target)
}

// Failure reasons reported by VerificationError.Reason.
const (
	ReasonEmpty                = "empty"
	ReasonMalformed            = "malformed"
	ReasonExpired              = "expired"
	ReasonNotYetValid          = "not_yet_valid"
	ReasonInvalidSignature     = "invalid_signature"
	ReasonInvalidIssuer        = "invalid_issuer"
	ReasonUnsupportedAlgorithm = "unsupported_algorithm"
	ReasonInvalid              = "invalid"
)

func newVerificationError(reason string, cause error) *VerificationError {
	return &VerificationError{Reason: reason, Cause: cause}
}

// ReasonOf returns the failure reason of err, or ReasonInvalid when err is
// not a *VerificationError.
func ReasonOf(err error) string {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ReasonInvalid
}
