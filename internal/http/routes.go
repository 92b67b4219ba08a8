package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter arma el router del bridge. Los handlers llegan ya construidos:
// este paquete solo decide rutas y middleware, no dependencias.
func NewRouter(
	bridge stdhttp.Handler, // GET /v1/auth/social/tiktok (fase A y B)
	readyz stdhttp.Handler,
	metrics stdhttp.Handler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(WithRequestID)
	r.Use(chimw.Recoverer)
	r.Use(WithSecurityHeaders)
	r.Use(WithMetrics)
	r.Use(WithAccessLog)

	r.Get("/healthz", func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(stdhttp.MethodGet, "/readyz", readyz)
	r.Method(stdhttp.MethodGet, "/metrics", metrics)

	// único endpoint del flujo: sin code redirige al proveedor, con code
	// completa el sign-in
	r.Method(stdhttp.MethodGet, "/v1/auth/social/tiktok", bridge)

	return r
}
