// Package identityapi es el cliente HTTP del servicio de identidad de la
// plataforma (API estilo GoTrue). El bridge lo consume con una service key
// de privilegio elevado; las operaciones admin fallan con 401/403 si la key
// no tiene rol de servicio.
package identityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framedrop/authbridge/internal/store/core"
)

// Client implementa core.AccountStore sobre la API del servicio de identidad.
type Client struct {
	BaseURL    string
	ServiceKey string

	http *http.Client
}

func New(baseURL, serviceKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("apikey", c.ServiceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, b, nil
}

type apiError struct {
	Msg       string `json:"msg"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (e apiError) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

// isConflict clasifica la respuesta de alta como "ya registrado".
func isConflict(status int, e apiError) bool {
	if status == http.StatusConflict {
		return true
	}
	if e.ErrorCode == "email_exists" || e.ErrorCode == "user_already_exists" {
		return true
	}
	return status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(e.text()), "already") // "already been registered"
}

// Create da de alta la cuenta vía el endpoint admin. El email sintético se
// marca confirmado: nadie va a abrir un mail en un dominio interno.
func (c *Client) Create(ctx context.Context, email, secret string, metadata map[string]any) (string, error) {
	payload := map[string]any{
		"email":         email,
		"password":      secret,
		"email_confirm": true,
		"user_metadata": metadata,
	}
	status, body, err := c.do(ctx, http.MethodPost, "/admin/users", payload)
	if err != nil {
		return "", fmt.Errorf("identityapi: create: %w", err)
	}
	if status/100 != 2 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		if isConflict(status, ae) {
			return "", core.ErrConflict
		}
		return "", fmt.Errorf("identityapi: create failed: status=%d code=%s", status, ae.ErrorCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("identityapi: create: malformed response")
	}
	if _, err := uuid.Parse(out.ID); err != nil {
		return "", fmt.Errorf("identityapi: create: bad account id %q", out.ID)
	}
	return out.ID, nil
}

// SignIn hace el password grant con la credencial derivada.
func (c *Client) SignIn(ctx context.Context, email, secret string) (*core.Session, error) {
	payload := map[string]any{"email": email, "password": secret}
	status, body, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", payload)
	if err != nil {
		return nil, fmt.Errorf("identityapi: sign-in: %w", err)
	}
	if status/100 != 2 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		return nil, fmt.Errorf("identityapi: sign-in failed: status=%d code=%s", status, ae.ErrorCode)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		User         struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return nil, fmt.Errorf("identityapi: sign-in: malformed response")
	}
	return &core.Session{
		AccountID:    out.User.ID,
		AccessToken:  out.AccessToken,
		TokenType:    out.TokenType,
		ExpiresIn:    out.ExpiresIn,
		RefreshToken: out.RefreshToken,
	}, nil
}

// UpdateMetadata actualiza user_metadata vía admin. Best-effort en los call
// sites: acá solo se reporta el error.
func (c *Client) UpdateMetadata(ctx context.Context, accountID string, metadata map[string]any) error {
	status, body, err := c.do(ctx, http.MethodPut, "/admin/users/"+accountID, map[string]any{"user_metadata": metadata})
	if err != nil {
		return fmt.Errorf("identityapi: update metadata: %w", err)
	}
	if status/100 != 2 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		return fmt.Errorf("identityapi: update metadata failed: status=%d code=%s", status, ae.ErrorCode)
	}
	return nil
}
