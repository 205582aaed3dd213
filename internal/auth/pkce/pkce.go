// Package pkce implements the Proof Key for Code Exchange (RFC 7636)
// primitives used by the backend-mediated OAuth flow. It generates
// verifier/challenge pairs and provides keyed ephemeral storage for
// verifiers while an authorization attempt is in flight.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod is the only challenge method supported by the backend.
const ChallengeMethod = "S256"

// verifierLength is the number of characters in a generated code verifier.
// RFC 7636 permits 43-128; we always use the maximum.
const verifierLength = 128

// unreservedChars is the RFC 7636 unreserved alphabet the verifier is drawn from.
const unreservedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// Codes holds a PKCE code verifier and its derived challenge.
type Codes struct {
	// CodeVerifier is the high-entropy secret kept client-side until token exchange.
	CodeVerifier string `json:"code_verifier"`

	// CodeChallenge is the base64url-encoded SHA-256 digest of the verifier,
	// sent with the authorization request.
	CodeChallenge string `json:"code_challenge"`
}

// Generate produces a new PKCE verifier and challenge pair.
// The verifier is 128 characters drawn uniformly from the RFC 7636
// unreserved alphabet using a cryptographically secure source.
//
// Returns:
//   - *Codes: The verifier and challenge pair
//   - error: An error if the random source fails, nil otherwise
func Generate() (*Codes, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("pkce: failed to generate code verifier: %w", err)
	}

	return &Codes{
		CodeVerifier:  verifier,
		CodeChallenge: ChallengeFor(verifier),
	}, nil
}

// ChallengeFor computes the S256 code challenge for a verifier:
// base64url encoding of the SHA-256 digest, without padding.
func ChallengeFor(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// generateCodeVerifier draws verifierLength characters uniformly from the
// unreserved alphabet. Rejection sampling keeps the distribution uniform;
// the alphabet has 66 entries so 256 % 66 leaves a small rejected band.
func generateCodeVerifier() (string, error) {
	// Largest multiple of len(unreservedChars) below 256.
	limit := byte(256 - 256%len(unreservedChars))

	out := make([]byte, 0, verifierLength)
	buf := make([]byte, verifierLength)
	for len(out) < verifierLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, unreservedChars[int(b)%len(unreservedChars)])
			if len(out) == verifierLength {
				break
			}
		}
	}
	return string(out), nil
}
