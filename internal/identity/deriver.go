// Package identity deriva credenciales determinísticas a partir del open_id
// estable de TikTok. Loguearse dos veces con la misma identidad produce el
// mismo par (email, secret) y por lo tanto la misma cuenta, sin tabla de
// sesiones del lado servidor.
package identity

import (
	tokens "github.com/framedrop/authbridge/internal/security/token"
)

// emailDomain es un dominio interno no enrutable: garantiza que las
// direcciones sintéticas nunca colisionen con emails reales de usuarios.
// El subdominio lleva el namespace del proveedor; la parte local es el
// digest completo (64 hex, justo en el límite RFC de 64 octetos), así dos
// open_id distintos jamás derivan el mismo email.
const emailDomain = "tiktok.signin.framedrop.internal"

const secretPrefix = "fd-"

// Credentials es el par determinístico con el que la cuenta se autentica
// contra el servicio de identidad.
type Credentials struct {
	Email  string
	Secret string
}

// Deriver computa credenciales a partir de una identidad de proveedor.
// Es una función pura: sin estado, sin red.
type Deriver interface {
	Derive(openID string) Credentials
}

// TikTokDeriver implementa Deriver para identidades de TikTok.
type TikTokDeriver struct {
	serverSecret string
}

func NewTikTokDeriver(serverSecret string) *TikTokDeriver {
	return &TikTokDeriver{serverSecret: serverSecret}
}

// Derive produce el email sintético y el secreto derivado.
//
//	email  = hex(sha256(openID))@tiktok.signin.framedrop.internal
//	secret = "fd-" + hex(sha256(openID || serverSecret))
func (d *TikTokDeriver) Derive(openID string) Credentials {
	return Credentials{
		Email:  tokens.SHA256Hex(openID) + "@" + emailDomain,
		Secret: secretPrefix + tokens.SHA256Hex(openID+d.serverSecret),
	}
}
