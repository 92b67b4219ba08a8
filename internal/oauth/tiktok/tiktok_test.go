package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestBuildAuthorizeURL(t *testing.T) {
	t.Parallel()
	c := New("ck-123", "cs", "https://app.example/cb", []string{"user.info.basic"})
	raw := c.BuildAuthorizeURL("state-tok", "challenge-hex")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"client_key":            "ck-123",
		"response_type":         "code",
		"scope":                 "user.info.basic",
		"redirect_uri":          "https://app.example/cb",
		"state":                 "state-tok",
		"code_challenge":        "challenge-hex",
		"code_challenge_method": "S256",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestExchangeCode_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for k, want := range map[string]string{
			"client_key":    "ck",
			"client_secret": "cs",
			"code":          "auth-code",
			"grant_type":    "authorization_code",
			"code_verifier": "ver",
		} {
			if got := r.PostFormValue(k); got != want {
				t.Errorf("form %s = %q, want %q", k, got, want)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "open_id": "oid-1", "expires_in": 86400,
		})
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", srv.URL, "")
	tok, err := c.ExchangeCode(context.Background(), "auth-code", "ver")
	if err != nil {
		t.Fatalf("ExchangeCode err: %v", err)
	}
	if tok.AccessToken != "at" || tok.OpenID != "oid-1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestExchangeCode_ProviderRejection(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "invalid_grant", "error_description": "code expired", "log_id": "log-42",
		})
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", srv.URL, "")
	_, err := c.ExchangeCode(context.Background(), "bad", "ver")

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ProviderError, got %T: %v", err, err)
	}
	if pe.Status != http.StatusBadRequest || pe.Code != "invalid_grant" || pe.LogID != "log-42" {
		t.Fatalf("unexpected diagnostics: %+v", pe)
	}
}

// Un fallo de transporte debe conservar la causa (DNS vs timeout vs TLS)
// para los logs, manteniendo el ProviderError sanitizado hacia el redirect.
func TestExchangeCode_TransportFailureKeepsCause(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", dead, "")
	_, err := c.ExchangeCode(context.Background(), "code", "ver")

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != "transport_error" {
		t.Fatalf("want transport_error, got %v", err)
	}
	if errors.Unwrap(pe) == nil {
		t.Fatalf("transport cause lost: %v", pe)
	}
	if pe.Error() == (&ProviderError{Code: "transport_error"}).Error() {
		t.Fatalf("Error() does not include the underlying cause: %q", pe.Error())
	}
}

func TestExchangeCode_MissingOpenIDIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at"})
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", srv.URL, "")
	_, err := c.ExchangeCode(context.Background(), "code", "ver")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != "incomplete_token" {
		t.Fatalf("want incomplete_token, got %v", err)
	}
}

func TestFetchUserInfo(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("fields"); got != "open_id,display_name,avatar_url" {
			t.Errorf("fields = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"user": map[string]any{
				"open_id": "oid-1", "display_name": "Jane Doe", "avatar_url": "https://cdn.example/a.jpg",
			}},
			"error": map[string]any{"code": "ok"},
		})
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", "", srv.URL)
	ui, err := c.FetchUserInfo(context.Background(), "at")
	if err != nil {
		t.Fatalf("FetchUserInfo err: %v", err)
	}
	if ui.DisplayName != "Jane Doe" || ui.AvatarURL != "https://cdn.example/a.jpg" {
		t.Fatalf("unexpected userinfo: %+v", ui)
	}
}

func TestFetchUserInfo_ErrorEnvelope(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]any{},
			"error": map[string]any{"code": "access_token_invalid", "log_id": "log-9"},
		})
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", nil).WithEndpoints("", "", srv.URL)
	if _, err := c.FetchUserInfo(context.Background(), "at"); err == nil {
		t.Fatalf("expected error from error envelope")
	}
}
