// Package username normaliza display names de TikTok a handles válidos y
// resuelve colisiones contra la tabla de perfiles.
package username

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	tokens "github.com/framedrop/authbridge/internal/security/token"
)

const (
	maxLen = 50

	// intentos con sufijo aleatorio antes de caer al nombre user_XXXXXXXX
	maxProbes = 10

	suffixDigits = 4
	fallbackHex  = 8
)

// Checker es la única operación del store de perfiles que el allocator
// necesita: sondear disponibilidad de un handle.
type Checker interface {
	ExistsByUsername(ctx context.Context, name string) (bool, error)
}

// Normalize convierte un candidato crudo en un handle [a-z0-9_]{1,50}.
// Devuelve "" si no sobrevive ningún carácter útil.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	// descomponer y descartar marcas diacríticas (é → e)
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			// cualquier run de caracteres no permitidos colapsa a un solo _
			b.WriteRune('_')
		}
	}
	s = b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "_")
	}
	return s
}

// FromOpenID deriva un candidato estable cuando no hay display name utilizable.
func FromOpenID(openID string) string {
	return "tiktok_" + tokens.SHA256Hex(openID)[:10]
}

// Allocator asigna handles únicos sondeando el store de perfiles.
//
// El sondeo check-then-insert no es atómico: la unicidad real la garantiza el
// constraint UNIQUE de la tabla profile; esto solo reduce la ventana.
type Allocator struct {
	profiles Checker
}

func NewAllocator(profiles Checker) *Allocator {
	return &Allocator{profiles: profiles}
}

// Allocate devuelve un handle candidato para la identidad dada. Siempre
// produce un candidato; un error solo puede venir del store.
func (a *Allocator) Allocate(ctx context.Context, displayName, openID string) (string, error) {
	base := Normalize(displayName)
	if base == "" {
		base = FromOpenID(openID)
	}

	taken, err := a.profiles.ExistsByUsername(ctx, base)
	if err != nil {
		return "", fmt.Errorf("username: probe %q: %w", base, err)
	}
	if !taken {
		return base, nil
	}

	// base truncada para que base + "_" + NNNN no exceda el máximo
	trunc := base
	if len(trunc) > maxLen-1-suffixDigits {
		trunc = strings.Trim(trunc[:maxLen-1-suffixDigits], "_")
	}
	for i := 0; i < maxProbes; i++ {
		cand := trunc + "_" + tokens.RandomDigits(suffixDigits)
		taken, err := a.profiles.ExistsByUsername(ctx, cand)
		if err != nil {
			return "", fmt.Errorf("username: probe %q: %w", cand, err)
		}
		if !taken {
			return cand, nil
		}
	}

	// con 8 hex aleatorios la probabilidad de colisión es despreciable;
	// no se vuelve a sondear.
	return "user_" + tokens.RandomHex(fallbackHex), nil
}
