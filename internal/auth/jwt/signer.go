package jwt

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues HMAC-signed tokens.
type Signer struct {
	secret []byte
	method gojwt.SigningMethod
	issuer string
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerIssuer sets the "iss" claim of tokens issued by SignSubject.
func WithSignerIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		s.issuer = issuer
	}
}

// NewSigner creates a Signer for secret using algorithm (HS256 when empty).
func NewSigner(secret, algorithm string, opts ...SignerOption) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if algorithm == "" {
		algorithm = AlgHS256
	}
	if !isHMAC(algorithm) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	method := gojwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	s := &Signer{secret: []byte(secret), method: method, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign encodes claims as given.
func (s *Signer) Sign(claims map[string]any) (string, error) {
	token, err := gojwt.NewWithClaims(s.method, gojwt.MapClaims(claims)).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// SignSubject issues a token for subject that expires after ttl.
// A non-positive ttl issues a token without "exp".
func (s *Signer) SignSubject(subject string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := map[string]any{
		"sub": subject,
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	return s.Sign(claims)
}
