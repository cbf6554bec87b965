package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// verifierBytes is the entropy of the PKCE code verifier. 64 bytes
	// encodes to 86 base64url characters, inside the RFC 7636 bounds.
	verifierBytes = 64

	// stateBytes is the entropy of the OAuth state parameter.
	stateBytes = 32
)

// GeneratePKCE produces a fresh code verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, verifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// GenerateState produces a random state parameter linking a callback to its
// originating authorization request.
func GenerateState() (string, error) {
	raw := make([]byte, stateBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
