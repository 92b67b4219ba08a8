package core

import "time"

// Account es el registro canónico de identidad en el servicio de identidad
// de la plataforma. email y el secreto derivado son funciones puras del
// open_id del proveedor más el secreto del servidor.
type Account struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// Session es el resultado de un sign-in contra el servicio de identidad.
type Session struct {
	AccountID    string
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
}

// Profile es la fila de perfil de la plataforma, 1:1 con la cuenta.
type Profile struct {
	AccountID   string
	Username    *string
	AvatarURL   *string
	DateOfBirth *time.Time
	Age         *int
}

// Complete reporta si el perfil tiene lo mínimo para entrar a la app:
// username asignado y fecha de nacimiento o edad.
func (p *Profile) Complete() bool {
	if p == nil || p.Username == nil || *p.Username == "" {
		return false
	}
	return p.DateOfBirth != nil || p.Age != nil
}
