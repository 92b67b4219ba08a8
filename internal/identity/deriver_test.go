package identity

import (
	"strings"
	"testing"

	tokens "github.com/framedrop/authbridge/internal/security/token"
)

func TestDerive_Deterministic(t *testing.T) {
	t.Parallel()
	d := NewTikTokDeriver("server-secret")

	a := d.Derive("open-id-1")
	b := d.Derive("open-id-1")
	if a != b {
		t.Fatalf("same open_id produced different credentials: %+v vs %+v", a, b)
	}
}

func TestDerive_DistinctIdentitiesDistinctCredentials(t *testing.T) {
	t.Parallel()
	d := NewTikTokDeriver("server-secret")

	a := d.Derive("open-id-1")
	b := d.Derive("open-id-2")
	if a.Email == b.Email || a.Secret == b.Secret {
		t.Fatalf("distinct open_ids collided: %+v vs %+v", a, b)
	}
}

func TestDerive_SecretDependsOnServerSecret(t *testing.T) {
	t.Parallel()
	a := NewTikTokDeriver("s1").Derive("open-id")
	b := NewTikTokDeriver("s2").Derive("open-id")
	if a.Secret == b.Secret {
		t.Fatalf("secret must depend on the server secret")
	}
	// el email no depende del secreto del servidor
	if a.Email != b.Email {
		t.Fatalf("email must be a function of open_id only")
	}
}

func TestDerive_EmailShape(t *testing.T) {
	t.Parallel()
	c := NewTikTokDeriver("s").Derive("open-id")
	if !strings.HasSuffix(c.Email, "@tiktok.signin.framedrop.internal") {
		t.Fatalf("unexpected synthetic email shape: %q", c.Email)
	}
	if !strings.HasPrefix(c.Secret, "fd-") || len(c.Secret) != len("fd-")+64 {
		t.Fatalf("unexpected secret shape: %q", c.Secret)
	}
}

// La parte local del email debe ser el digest completo del open_id: un
// digest truncado deja que dos identidades distintas compartan email con
// secretos distintos, y la segunda queda bloqueada del lado del sign-in.
func TestDerive_EmailUsesFullDigest(t *testing.T) {
	t.Parallel()
	c := NewTikTokDeriver("s").Derive("open-id-5678249")

	local := c.Email[:strings.IndexByte(c.Email, '@')]
	if len(local) != 64 {
		t.Fatalf("local part has %d chars, want the full 64-hex digest: %q", len(local), c.Email)
	}
	if local != tokens.SHA256Hex("open-id-5678249") {
		t.Fatalf("local part is not sha256(open_id): %q", c.Email)
	}
}
