package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/framedrop/authbridge/internal/identity"
	"github.com/framedrop/authbridge/internal/store/core"
)

func str(s string) *string { return &s }

// ---- fakes ----

type fakeAccounts struct {
	mu       sync.Mutex
	byEmail  map[string]string // email -> id
	nextID   int
	metadata map[string]map[string]any

	failCreate  error
	failSignIn  error
	failMeta    error
	createCalls int
	metaCalls   int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byEmail: map[string]string{}, metadata: map[string]map[string]any{}}
}

func (f *fakeAccounts) Create(_ context.Context, email, secret string, md map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		return "", f.failCreate
	}
	if _, ok := f.byEmail[email]; ok {
		return "", core.ErrConflict
	}
	f.nextID++
	id := fmt.Sprintf("acc-%d", f.nextID)
	f.byEmail[email] = id
	f.metadata[id] = md
	return id, nil
}

func (f *fakeAccounts) SignIn(_ context.Context, email, secret string) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSignIn != nil {
		return nil, f.failSignIn
	}
	id, ok := f.byEmail[email]
	if !ok {
		return nil, errors.New("invalid credentials")
	}
	return &core.Session{AccountID: id, AccessToken: "at-" + id, TokenType: "bearer"}, nil
}

func (f *fakeAccounts) UpdateMetadata(_ context.Context, id string, md map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls++
	if f.failMeta != nil {
		return f.failMeta
	}
	f.metadata[id] = md
	return nil
}

type fakeProfiles struct {
	mu   sync.Mutex
	rows map[string]*core.Profile // accountID -> row

	failGet error
}

func newFakeProfiles() *fakeProfiles { return &fakeProfiles{rows: map[string]*core.Profile{}} }

func (f *fakeProfiles) usernameTakenLocked(name string, exceptAccount string) bool {
	for id, r := range f.rows {
		if id != exceptAccount && r.Username != nil && *r.Username == name {
			return true
		}
	}
	return false
}

func (f *fakeProfiles) Get(_ context.Context, accountID string) (*core.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	r, ok := f.rows[accountID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeProfiles) Insert(_ context.Context, p *core.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.AccountID]; ok {
		return core.ErrConflict
	}
	if p.Username != nil && f.usernameTakenLocked(*p.Username, p.AccountID) {
		return core.ErrConflict
	}
	cp := *p
	f.rows[p.AccountID] = &cp
	return nil
}

func (f *fakeProfiles) Update(_ context.Context, p *core.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.AccountID]; !ok {
		return core.ErrNotFound
	}
	if p.Username != nil && f.usernameTakenLocked(*p.Username, p.AccountID) {
		return core.ErrConflict
	}
	cp := *p
	f.rows[p.AccountID] = &cp
	return nil
}

func (f *fakeProfiles) ExistsByUsername(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usernameTakenLocked(name, ""), nil
}

func req() Request {
	return Request{
		Credentials:       identity.Credentials{Email: "tiktok_abc@signin.framedrop.internal", Secret: "fd-xyz"},
		PreferredUsername: "jane_doe",
		DisplayName:       str("Jane Doe"),
		AvatarURL:         str("https://cdn.example/a.jpg"),
	}
}

// ---- tests ----

func TestProvision_FirstLoginCreatesEverything(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	res, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatalf("Provision err: %v", err)
	}
	if res.Session == nil || res.Session.AccessToken == "" {
		t.Fatalf("no session: %+v", res)
	}
	prof := profiles.rows[res.AccountID]
	if prof == nil || prof.Username == nil || *prof.Username != "jane_doe" {
		t.Fatalf("profile not created as expected: %+v", prof)
	}
	// username sin fecha de nacimiento → incompleto → onboarding
	if res.ProfileComplete {
		t.Fatalf("profile should be incomplete without birth date/age")
	}
}

func TestProvision_SecondLoginSameAccount(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	r1, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	r2, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r1.AccountID != r2.AccountID {
		t.Fatalf("same identity produced two accounts: %s vs %s", r1.AccountID, r2.AccountID)
	}
	if len(profiles.rows) != 1 {
		t.Fatalf("expected a single profile row, got %d", len(profiles.rows))
	}
}

func TestProvision_ConcurrentDoubleSubmitConverges(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Provision(context.Background(), req())
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
	}
	if results[0].AccountID != results[1].AccountID {
		t.Fatalf("double submit produced two accounts")
	}
}

func TestProvision_CreateConflictSwallowed(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	// cuenta preexistente
	if _, err := accounts.Create(context.Background(), req().Credentials.Email, "s", nil); err != nil {
		t.Fatal(err)
	}
	p := New(accounts, profiles, nil)
	if _, err := p.Provision(context.Background(), req()); err != nil {
		t.Fatalf("conflict should be swallowed: %v", err)
	}
}

func TestProvision_CreateHardFailureIsProvisioningError(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	accounts.failCreate = errors.New("boom")
	p := New(accounts, profiles, nil)

	_, err := p.Provision(context.Background(), req())
	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ProvisioningError, got %T: %v", err, err)
	}
}

func TestProvision_SignInFailureIsSignInError(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	accounts.failSignIn = errors.New("denied")
	p := New(accounts, profiles, nil)

	_, err := p.Provision(context.Background(), req())
	var se *SignInError
	if !errors.As(err, &se) {
		t.Fatalf("want *SignInError, got %T: %v", err, err)
	}
}

func TestProvision_MetadataFailureNotFatal(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	accounts.failMeta = errors.New("metadata service down")
	p := New(accounts, profiles, nil)

	if _, err := p.Provision(context.Background(), req()); err != nil {
		t.Fatalf("metadata failure must not abort the flow: %v", err)
	}
}

func TestProvision_ExistingUsernameNeverOverwritten(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	r1, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	// el usuario renombró su handle a mano
	chosen := "janes_channel"
	profiles.rows[r1.AccountID].Username = &chosen

	r2 := req()
	r2.AvatarURL = str("https://cdn.example/new.jpg")
	if _, err := p.Provision(context.Background(), r2); err != nil {
		t.Fatal(err)
	}
	prof := profiles.rows[r1.AccountID]
	if *prof.Username != "janes_channel" {
		t.Fatalf("user-chosen username was overwritten: %q", *prof.Username)
	}
	if prof.AvatarURL == nil || *prof.AvatarURL != "https://cdn.example/new.jpg" {
		t.Fatalf("avatar should refresh when provider supplies one: %+v", prof.AvatarURL)
	}
}

func TestProvision_FillsMissingUsername(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	r1, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	profiles.rows[r1.AccountID].Username = nil

	if _, err := p.Provision(context.Background(), req()); err != nil {
		t.Fatal(err)
	}
	prof := profiles.rows[r1.AccountID]
	if prof.Username == nil || *prof.Username != "jane_doe" {
		t.Fatalf("missing username not filled: %+v", prof)
	}
}

func TestProvision_UsernameRaceFallsBackToRandomHandle(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	// otra cuenta ya tomó jane_doe entre el probe del allocator y el insert
	taken := "jane_doe"
	profiles.rows["acc-other"] = &core.Profile{AccountID: "acc-other", Username: &taken}

	p := New(accounts, profiles, nil)
	res, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatalf("Provision err: %v", err)
	}
	prof := profiles.rows[res.AccountID]
	if prof.Username == nil || *prof.Username == "jane_doe" || len(*prof.Username) != len("user_")+8 {
		t.Fatalf("expected user_XXXXXXXX fallback, got %+v", prof.Username)
	}
}

func TestProvision_CompletenessWithBirthDate(t *testing.T) {
	t.Parallel()
	accounts, profiles := newFakeAccounts(), newFakeProfiles()
	p := New(accounts, profiles, nil)

	r1, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	dob := time.Date(1999, 1, 2, 0, 0, 0, 0, time.UTC)
	profiles.rows[r1.AccountID].DateOfBirth = &dob

	r2, err := p.Provision(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if !r2.ProfileComplete {
		t.Fatalf("profile with username + birth date must be complete")
	}
}
