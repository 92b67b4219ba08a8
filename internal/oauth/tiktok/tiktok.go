// Package tiktok implements OAuth 2.0 Authorization Code with PKCE against
// TikTok's Login Kit. TikTok's v2 API uses `client_key` instead of
// `client_id` and returns the stable `open_id` directly from the token
// endpoint; userinfo is a separate call and is optional for sign-in.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthEndpoint     = "https://www.tiktok.com/v2/auth/authorize/"
	defaultTokenEndpoint    = "https://open.tiktokapis.com/v2/oauth/token/"
	defaultUserInfoEndpoint = "https://open.tiktokapis.com/v2/user/info/"

	userInfoFields = "open_id,display_name,avatar_url"
)

// ProviderError es el único error que sale del intercambio: transporta solo
// campos diagnósticos no sensibles. El body crudo del proveedor nunca se
// propaga al cliente.
type ProviderError struct {
	Status int    // HTTP status del proveedor (0 si falló el transporte)
	Code   string // error code del proveedor, si lo hubo
	LogID  string // log_id de TikTok para correlacionar soporte

	// causa subyacente (DNS, timeout, TLS, JSON); va a logs, nunca al redirect
	cause error
}

func (e *ProviderError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("tiktok: exchange rejected (status=%d code=%q log_id=%q): %v", e.Status, e.Code, e.LogID, e.cause)
	}
	return fmt.Sprintf("tiktok: exchange rejected (status=%d code=%q log_id=%q)", e.Status, e.Code, e.LogID)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// Token es la respuesta del token endpoint. open_id es el identificador
// estable del usuario; sin él no hay cuenta que resolver.
type Token struct {
	AccessToken  string `json:"access_token"`
	OpenID       string `json:"open_id"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`

	ErrorCode string `json:"error,omitempty"`
	ErrorDesc string `json:"error_description,omitempty"`
	LogID     string `json:"log_id,omitempty"`
}

// UserInfo es lo que el bridge usa del perfil público del usuario.
// Ambos campos pueden venir vacíos; el flujo continúa igual.
type UserInfo struct {
	OpenID      string
	DisplayName string
	AvatarURL   string
}

// Client son las tres llamadas del protocolo, sin reintentos. La
// implementación HTTP se reemplaza con un fake en tests.
type Client interface {
	BuildAuthorizeURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error)
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// OAuth es el cliente HTTP real de Login Kit.
type OAuth struct {
	ClientKey    string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	authEndpoint     string
	tokenEndpoint    string
	userInfoEndpoint string

	http *http.Client
}

// New crea el cliente con los endpoints productivos de TikTok.
func New(clientKey, clientSecret, redirectURL string, scopes []string) *OAuth {
	if len(scopes) == 0 {
		scopes = []string{"user.info.basic"}
	}
	return &OAuth{
		ClientKey:        clientKey,
		ClientSecret:     clientSecret,
		RedirectURL:      redirectURL,
		Scopes:           scopes,
		authEndpoint:     defaultAuthEndpoint,
		tokenEndpoint:    defaultTokenEndpoint,
		userInfoEndpoint: defaultUserInfoEndpoint,
		http:             &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoints overrides the provider endpoints. Tests point this at an
// httptest server.
func (t *OAuth) WithEndpoints(auth, token, userinfo string) *OAuth {
	if auth != "" {
		t.authEndpoint = auth
	}
	if token != "" {
		t.tokenEndpoint = token
	}
	if userinfo != "" {
		t.userInfoEndpoint = userinfo
	}
	return t
}

// BuildAuthorizeURL arma la URL de consentimiento. Función pura.
func (t *OAuth) BuildAuthorizeURL(state, codeChallenge string) string {
	u, _ := url.Parse(t.authEndpoint)
	q := u.Query()
	q.Set("client_key", t.ClientKey)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(t.Scopes, ","))
	q.Set("redirect_uri", t.RedirectURL)
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeCode canjea el authorization code por un access token + open_id.
// Éxito = 2xx con access_token y open_id presentes; todo lo demás es
// *ProviderError.
func (t *OAuth) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	form := url.Values{}
	form.Set("client_key", t.ClientKey)
	form.Set("client_secret", t.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", t.RedirectURL)
	form.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Code: "transport_error", cause: err}
	}
	defer resp.Body.Close()

	var tr Token
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Code: "malformed_response", cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || tr.ErrorCode != "" {
		return nil, &ProviderError{Status: resp.StatusCode, Code: tr.ErrorCode, LogID: tr.LogID}
	}
	if tr.AccessToken == "" || tr.OpenID == "" {
		return nil, &ProviderError{Status: resp.StatusCode, Code: "incomplete_token"}
	}
	return &tr, nil
}

// userInfoResponse refleja el envelope data/user del endpoint v2.
type userInfoResponse struct {
	Data struct {
		User struct {
			OpenID      string `json:"open_id"`
			DisplayName string `json:"display_name"`
			AvatarURL   string `json:"avatar_url"`
		} `json:"user"`
	} `json:"data"`
	Error struct {
		Code  string `json:"code"`
		LogID string `json:"log_id"`
	} `json:"error"`
}

// FetchUserInfo trae display name y avatar. El caller trata cualquier error
// como no fatal: el sign-in continúa con campos nulos.
func (t *OAuth) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	u, _ := url.Parse(t.userInfoEndpoint)
	q := u.Query()
	q.Set("fields", userInfoFields)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok: userinfo status %d", resp.StatusCode)
	}
	var ur userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("tiktok: decode userinfo: %w", err)
	}
	if ur.Error.Code != "" && ur.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok: userinfo error %s (log_id=%s)", ur.Error.Code, ur.Error.LogID)
	}
	return &UserInfo{
		OpenID:      ur.Data.User.OpenID,
		DisplayName: ur.Data.User.DisplayName,
		AvatarURL:   ur.Data.User.AvatarURL,
	}, nil
}
