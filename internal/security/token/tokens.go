package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
// Se usa para el nonce del state y para identificadores efímeros.
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// RandomDigits devuelve n dígitos decimales aleatorios (con ceros a la izquierda).
func RandomDigits(n int) string {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		// rand.Int solo falla si el RNG del sistema está agotado; mismo
		// tratamiento fatal que en pkce.
		panic(fmt.Sprintf("tokens: random source: %v", err))
	}
	return fmt.Sprintf("%0*d", n, v)
}

// RandomHex devuelve n caracteres hexadecimales aleatorios.
func RandomHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("tokens: random source: %v", err))
	}
	return hex.EncodeToString(b)[:n]
}
