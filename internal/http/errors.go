package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// WriteError responde JSON de error (para endpoints no-browser como /readyz).
func WriteError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: code, ErrorDescription: desc, RequestID: rid})
}

// WriteJSON: respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RedirectWithParams arma base+path con query params y responde 302. Es la
// única forma en que el bridge le habla al navegador: nunca un body con
// detalle de error.
func RedirectWithParams(w http.ResponseWriter, r *http.Request, baseURL, path string, params map[string]string) {
	target := strings.TrimRight(baseURL, "/") + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			if v != "" {
				q.Set(k, v)
			}
		}
		if enc := q.Encode(); enc != "" {
			target += "?" + enc
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}
