// Package statebox cifra el payload efímero que viaja en el parámetro `state`
// de OAuth: AES-256-GCM con clave derivada del secreto del servidor.
//
// El token es opaco para el navegador y para TikTok; cualquier alteración de
// un byte invalida la autenticación GCM y Decode falla cerrado: nunca se
// devuelve un payload parcial.
package statebox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	nonceSizeGCM = 12 // 96 bits, tamaño recomendado para AES-GCM

	// versionTag viaja como associated data: un token de una versión futura
	// del protocolo no autentica contra esta.
	versionTag = "framedrop-signin-state-v1"
)

// ErrInvalidToken es el único error que Decode expone hacia afuera.
// El detalle (base64 roto, buffer corto, tag inválido, JSON malformado,
// campo faltante) se pierde a propósito: fail-closed.
var ErrInvalidToken = errors.New("statebox: invalid state token")

// Payload es el estado efímero de una vuelta de autorización.
// Nunca se persiste del lado servidor.
type Payload struct {
	CodeVerifier string    `json:"cv"`
	CreatedAt    time.Time `json:"iat"`
	Nonce        string    `json:"n"`
}

// Expired reporta si el payload superó maxAge en el instante now.
func (p Payload) Expired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(p.CreatedAt) > maxAge
}

// Box cifra y descifra payloads con una clave fija derivada del secreto.
type Box struct {
	key [32]byte
}

// New deriva la clave AES-256 como SHA256(serverSecret).
func New(serverSecret string) *Box {
	return &Box{key: sha256.Sum256([]byte(serverSecret))}
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encode serializa el payload y devuelve base64url(nonce || ciphertext+tag).
func (b *Box) Encode(p Payload) (string, error) {
	aead, err := b.aead()
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("statebox: marshal payload: %w", err)
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("statebox: nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, plain, []byte(versionTag))
	return base64.RawURLEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Decode revierte Encode. Ante cualquier fallo devuelve ErrInvalidToken.
func (b *Box) Decode(token string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	aead, err := b.aead()
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	if len(raw) < nonceSizeGCM+aead.Overhead() {
		return Payload{}, ErrInvalidToken
	}
	nonce, ct := raw[:nonceSizeGCM], raw[nonceSizeGCM:]
	plain, err := aead.Open(nil, nonce, ct, []byte(versionTag))
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Payload{}, ErrInvalidToken
	}
	if p.CodeVerifier == "" || p.Nonce == "" || p.CreatedAt.IsZero() {
		return Payload{}, ErrInvalidToken
	}
	return p, nil
}
