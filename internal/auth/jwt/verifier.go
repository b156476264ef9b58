package jwt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Verifier checks HMAC-signed tokens against one shared secret.
type Verifier struct {
	secret     []byte
	algorithms []string
	issuer     string
	leeway     time.Duration
	now        func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithAlgorithms restricts the accepted "alg" header values.
// Defaults to HS256, HS384 and HS512.
func WithAlgorithms(algs ...string) VerifierOption {
	return func(v *Verifier) {
		if len(algs) > 0 {
			v.algorithms = slices.Clone(algs)
		}
	}
}

// WithIssuer requires the "iss" claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) {
		v.issuer = issuer
	}
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = leeway
	}
}

// WithTimeFunc overrides the clock used for exp and nbf checks.
func WithTimeFunc(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	v := &Verifier{
		secret:     []byte(secret),
		algorithms: []string{AlgHS256, AlgHS384, AlgHS512},
	}
	for _, opt := range opts {
		opt(v)
	}

	for _, alg := range v.algorithms {
		if !isHMAC(alg) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
	}

	return v, nil
}

// Verify checks token with the default options. It is the stateless form
// of Verifier.Verify.
func Verify(token, secret string) (*Claims, error) {
	v, err := NewVerifier(secret)
	if err != nil {
		return nil, newVerificationError(ReasonInvalid, err)
	}
	return v.Verify(token)
}

// Verify validates the signature, algorithm and time-based claims of token
// and returns its claim set unchanged.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, newVerificationError(ReasonEmpty, ErrEmptyToken)
	}

	parsed, err := gojwt.Parse(token, v.keyFunc, v.parserOptions()...)
	if err != nil {
		return nil, classify(err)
	}

	mc, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, newVerificationError(ReasonMalformed, ErrTokenMalformed)
	}

	return NewClaims(mc), nil
}

func (v *Verifier) keyFunc(t *gojwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, t.Header["alg"])
	}
	return v.secret, nil
}

func (v *Verifier) parserOptions() []gojwt.ParserOption {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods(v.algorithms),
		gojwt.WithJSONNumber(),
	}
	if v.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		opts = append(opts, gojwt.WithLeeway(v.leeway))
	}
	if v.now != nil {
		opts = append(opts, gojwt.WithTimeFunc(v.now))
	}
	return opts
}

// classify maps golang-jwt errors onto this package's sentinels.
func classify(err error) *VerificationError {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return newVerificationError(ReasonUnsupportedAlgorithm, ErrUnsupportedAlgorithm)
	case errors.Is(err, gojwt.ErrTokenMalformed):
		return newVerificationError(ReasonMalformed, ErrTokenMalformed)
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid):
		return newVerificationError(ReasonInvalidSignature, ErrTokenInvalidSignature)
	case errors.Is(err, gojwt.ErrTokenExpired):
		return newVerificationError(ReasonExpired, ErrTokenExpired)
	case errors.Is(err, gojwt.ErrTokenNotValidYet):
		return newVerificationError(ReasonNotYetValid, ErrTokenNotYetValid)
	case errors.Is(err, gojwt.ErrTokenInvalidIssuer):
		return newVerificationError(ReasonInvalidIssuer, ErrTokenInvalidIssuer)
	default:
		return newVerificationError(ReasonInvalid, err)
	}
}

func isHMAC(alg string) bool {
	switch strings.ToUpper(alg) {
	case AlgHS256, AlgHS384, AlgHS512:
		return true
	default:
		return false
	}
}
