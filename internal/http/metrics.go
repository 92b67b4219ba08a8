package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	signinTotal         *prometheus.CounterVec
)

// RegisterMetrics inicializa las métricas y devuelve el handler de /metrics.
func RegisterMetrics(registry prometheus.Registerer) http.Handler {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		signinTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_signin_total",
			Help: "Resultados del flujo de sign-in (por outcome)",
		}, []string{"outcome"})

		registry.MustRegister(httpRequestsTotal, httpRequestDuration, signinTotal)
	})
	return promhttp.Handler()
}

// ObserveSignin registra el outcome terminal de un request del bridge
// (redirected, provisioned, onboarding, más los códigos de error coarse).
func ObserveSignin(outcome string) {
	if signinTotal != nil {
		signinTotal.WithLabelValues(outcome).Inc()
	}
}

// WithMetrics instrumenta requests por método/path/status.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
