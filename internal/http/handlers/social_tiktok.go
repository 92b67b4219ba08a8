package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/framedrop/authbridge/internal/config"
	httpx "github.com/framedrop/authbridge/internal/http"
	"github.com/framedrop/authbridge/internal/identity"
	"github.com/framedrop/authbridge/internal/oauth/tiktok"
	"github.com/framedrop/authbridge/internal/observability/logger"
	"github.com/framedrop/authbridge/internal/provision"
	"github.com/framedrop/authbridge/internal/rate"
	"github.com/framedrop/authbridge/internal/security/pkce"
	"github.com/framedrop/authbridge/internal/security/statebox"
	tokens "github.com/framedrop/authbridge/internal/security/token"
	"github.com/framedrop/authbridge/internal/username"
	"github.com/framedrop/authbridge/internal/util"
)

// Códigos coarse que viajan en el query param `error` del redirect a /login.
// Nunca se adjunta el detalle: el navegador no es un canal de diagnóstico.
const (
	errConfigMissing  = "config_missing"
	errMissingState   = "missing_state"
	errInvalidState   = "invalid_state"
	errExpiredState   = "expired_state"
	errProvider       = "provider_error"
	errProvisioning   = "provisioning_failed"
	errSignIn         = "signin_failed"
	outcomeOnboarding = "onboarding"
	outcomeHome       = "home"
)

// TikTokHandler orquesta el sign-in con TikTok: fase A (sin `code`) redirige
// al consentimiento del proveedor; fase B (con `code`) completa el login.
// Es stateless: todo el estado efímero viaja cifrado en `state`.
type TikTokHandler struct {
	cfg         *config.Config
	box         *statebox.Box
	provider    tiktok.Client
	deriver     identity.Deriver
	allocator   *username.Allocator
	provisioner *provision.Provisioner
	limiter     rate.Limiter
	log         *zap.Logger

	// inyectable en tests para fijar el reloj
	now func() time.Time
}

// New arma el handler con dependencias explícitas (los tests inyectan fakes).
func New(
	cfg *config.Config,
	box *statebox.Box,
	provider tiktok.Client,
	deriver identity.Deriver,
	allocator *username.Allocator,
	provisioner *provision.Provisioner,
	limiter rate.Limiter,
) *TikTokHandler {
	return &TikTokHandler{
		cfg:         cfg,
		box:         box,
		provider:    provider,
		deriver:     deriver,
		allocator:   allocator,
		provisioner: provisioner,
		limiter:     limiter,
		log:         logger.Named("tiktok"),
		now:         time.Now,
	}
}

func (h *TikTokHandler) loginRedirect(w http.ResponseWriter, r *http.Request, params map[string]string) {
	httpx.ObserveSignin(params["error"])
	httpx.RedirectWithParams(w, r, h.cfg.App.BaseURL, h.cfg.App.LoginPath, params)
}

func (h *TikTokHandler) enforceRate(w http.ResponseWriter, r *http.Request, keyPrefix string, limit int, window time.Duration) bool {
	if h.limiter == nil || !h.cfg.Rate.Enabled || limit <= 0 || window <= 0 {
		return true
	}
	res, err := h.limiter.AllowWithLimits(r.Context(), keyPrefix+httpx.ClientIP(r), limit, window)
	if err != nil {
		// backend de rate caído: dejar pasar, el flujo es más importante
		return true
	}
	if res.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	return false
}

func parseWindow(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// ServeHTTP implementa la máquina de estados del flujo.
// GET /v1/auth/social/tiktok[?code=...&state=...]
func (h *TikTokHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	// config incompleta corta antes de cualquier llamada de red
	if err := h.cfg.ValidateBridge(); err != nil {
		var ce *config.ConfigurationError
		reason := ""
		if errors.As(err, &ce) && len(ce.Missing) > 0 {
			reason = ce.Missing[0]
		}
		h.log.Error("bridge misconfigured", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errConfigMissing, "reason": reason})
		return
	}

	q := r.URL.Query()
	code := q.Get("code")

	if code == "" {
		if !h.enforceRate(w, r, "social:start:", h.cfg.Rate.Start.Limit, parseWindow(h.cfg.Rate.Start.Window)) {
			return
		}
		h.start(w, r)
		return
	}
	if !h.enforceRate(w, r, "social:cb:", h.cfg.Rate.Callback.Limit, parseWindow(h.cfg.Rate.Callback.Window)) {
		return
	}
	h.callback(w, r, code, q.Get("state"))
}

// ─────────────── Fase A ───────────────

func (h *TikTokHandler) start(w http.ResponseWriter, r *http.Request) {
	pair, err := pkce.New()
	if err != nil {
		// RNG agotado: irrecuperable para este proceso
		h.log.Error("pkce generation failed", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errProvider, "reason": "internal"})
		return
	}
	nonce, err := tokens.GenerateOpaqueToken(16)
	if err != nil {
		h.log.Error("nonce generation failed", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errProvider, "reason": "internal"})
		return
	}

	state, err := h.box.Encode(statebox.Payload{
		CodeVerifier: pair.Verifier,
		CreatedAt:    h.now().UTC(),
		Nonce:        nonce,
	})
	if err != nil {
		h.log.Error("state encode failed", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errProvider, "reason": "internal"})
		return
	}

	http.Redirect(w, r, h.provider.BuildAuthorizeURL(state, pair.Challenge), http.StatusFound)
}

// ─────────────── Fase B ───────────────

func (h *TikTokHandler) callback(w http.ResponseWriter, r *http.Request, code, state string) {
	if state == "" {
		h.loginRedirect(w, r, map[string]string{"error": errMissingState})
		return
	}
	payload, err := h.box.Decode(state)
	if err != nil {
		h.loginRedirect(w, r, map[string]string{"error": errInvalidState})
		return
	}
	if payload.Expired(h.cfg.Provider.StateMaxAge, h.now().UTC()) {
		h.loginRedirect(w, r, map[string]string{"error": errExpiredState})
		return
	}

	ctx := r.Context()

	tok, err := h.provider.ExchangeCode(ctx, code, payload.CodeVerifier)
	if err != nil {
		params := map[string]string{"error": errProvider}
		var pe *tiktok.ProviderError
		if errors.As(err, &pe) {
			if pe.Status != 0 {
				params["status"] = strconv.Itoa(pe.Status)
			}
			params["code"] = pe.Code
			params["log_id"] = pe.LogID
		}
		h.log.Warn("token exchange failed", zap.Error(err))
		h.loginRedirect(w, r, params)
		return
	}

	// userinfo es opcional: sin display name el handle sale del open_id
	var displayName, avatarURL *string
	if ui, err := h.provider.FetchUserInfo(ctx, tok.AccessToken); err != nil {
		h.log.Warn("userinfo fetch failed, continuing without profile data", zap.Error(err))
	} else {
		if ui.DisplayName != "" {
			displayName = &ui.DisplayName
		}
		if ui.AvatarURL != "" {
			avatarURL = &ui.AvatarURL
		}
	}

	creds := h.deriver.Derive(tok.OpenID)

	raw := ""
	if displayName != nil {
		raw = *displayName
	}
	preferred, err := h.allocator.Allocate(ctx, raw, tok.OpenID)
	if err != nil {
		h.log.Error("username allocation failed", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errProvisioning})
		return
	}

	res, err := h.provisioner.Provision(ctx, provision.Request{
		Credentials:       creds,
		PreferredUsername: preferred,
		DisplayName:       displayName,
		AvatarURL:         avatarURL,
	})
	if err != nil {
		var se *provision.SignInError
		if errors.As(err, &se) {
			h.log.Error("derived-credential sign-in failed", zap.Error(err))
			h.loginRedirect(w, r, map[string]string{"error": errSignIn})
			return
		}
		h.log.Error("provisioning failed", zap.Error(err))
		h.loginRedirect(w, r, map[string]string{"error": errProvisioning})
		return
	}

	h.setSessionCookies(w, res)

	h.log.Info("sign-in complete",
		zap.String("account_id", res.AccountID),
		zap.String("email", util.MaskEmail(creds.Email)),
		zap.String("nonce", payload.Nonce), // correlación ante sospecha de replay
		zap.Bool("profile_complete", res.ProfileComplete),
	)

	if res.ProfileComplete {
		httpx.ObserveSignin(outcomeHome)
		httpx.RedirectWithParams(w, r, h.cfg.App.BaseURL, h.cfg.App.HomePath, nil)
		return
	}
	httpx.ObserveSignin(outcomeOnboarding)
	httpx.RedirectWithParams(w, r, h.cfg.App.BaseURL, h.cfg.App.OnboardingPath, nil)
}

// setSessionCookies deja la sesión en cookies HttpOnly. El manejo fino de
// sesión (refresh, logout) vive en la app, no acá.
func (h *TikTokHandler) setSessionCookies(w http.ResponseWriter, res *provision.Result) {
	if res.Session == nil {
		return
	}
	maxAge := int(res.Session.ExpiresIn)
	if maxAge <= 0 {
		maxAge = 3600
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "fd_access",
		Value:    res.Session.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	if res.Session.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     "fd_refresh",
			Value:    res.Session.RefreshToken,
			Path:     "/",
			MaxAge:   30 * 24 * 3600,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Readiness es el handler de /readyz: verifica dependencias con ping.
func Readiness(pingers map[string]func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, ping := range pingers {
			if ping == nil {
				continue
			}
			if err := ping(ctx); err != nil {
				httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", name)
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
