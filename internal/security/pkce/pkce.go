// Package pkce genera pares verifier/challenge para OAuth2 PKCE (RFC 7636).
// TikTok espera el challenge como hex(SHA256(verifier)), no base64url.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Method es el único code_challenge_method soportado.
const Method = "S256"

const verifierBytes = 64

// Pair contiene un code_verifier y su code_challenge derivado.
type Pair struct {
	Verifier  string
	Challenge string
}

// New genera un verifier aleatorio (64 bytes, base64url sin padding) y su
// challenge hex(SHA256(verifier)). El único modo de fallo es el RNG del sistema.
func New() (Pair, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return Pair{}, fmt.Errorf("pkce: random source: %w", err)
	}
	v := base64.RawURLEncoding.EncodeToString(b)
	return Pair{Verifier: v, Challenge: Challenge(v)}, nil
}

// Challenge deriva el challenge S256 de un verifier dado.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(sum[:])
}
