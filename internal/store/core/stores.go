package core

import "context"

// AccountStore abstrae el servicio de identidad de la plataforma.
// La implementación HTTP vive en internal/store/identityapi.
type AccountStore interface {
	// Create da de alta la cuenta. Si el email ya existe devuelve ErrConflict
	// (el provisioner lo trata como éxito idempotente).
	Create(ctx context.Context, email, secret string, metadata map[string]any) (string, error)

	// SignIn autentica con la credencial derivada y devuelve una sesión.
	SignIn(ctx context.Context, email, secret string) (*Session, error)

	// UpdateMetadata actualiza display name / avatar almacenados. Los call
	// sites lo tratan como best-effort.
	UpdateMetadata(ctx context.Context, accountID string, metadata map[string]any) error
}

// ProfileStore abstrae la tabla de perfiles (Postgres en producción).
type ProfileStore interface {
	// Get devuelve ErrNotFound si la cuenta aún no tiene perfil.
	Get(ctx context.Context, accountID string) (*Profile, error)

	// Insert crea la fila; ErrConflict si el username ya está tomado
	// (constraint UNIQUE de la tabla).
	Insert(ctx context.Context, p *Profile) error

	// Update modifica username/avatar de una fila existente.
	Update(ctx context.Context, p *Profile) error

	ExistsByUsername(ctx context.Context, name string) (bool, error)
}
