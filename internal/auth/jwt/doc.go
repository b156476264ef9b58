// Package jwt verifies and issues the HMAC-signed JSON Web Tokens carried
// in the "authentication" request header.
//
// Verification is a pure function of the token and the shared secret: no
// key sets are fetched and nothing is cached between calls.
//
// # Verification
//
//	verifier, err := jwt.NewVerifier(secret, jwt.WithAlgorithms("HS256"))
//	if err != nil {
//	    return err
//	}
//
//	claims, err := verifier.Verify(token)
//	if err != nil {
//	    // every failure is a *VerificationError
//	}
//
// # Signing
//
// The Signer issues tokens for development and tests:
//
//	signer, err := jwt.NewSigner(secret, jwt.AlgHS256)
//	token, err := signer.SignSubject("alice", time.Hour)
package jwt
