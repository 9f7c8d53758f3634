package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/handlers"
	"github.com/stripe-experiments/sync-data-stripe-app/internal/infrastructure/http/middleware"
)

type RouterConfig struct {
	OAuthHandler     *handlers.OAuthHandler
	ProvisionHandler *handlers.ProvisionHandler
	HealthHandler    *handlers.HealthHandler
	// RequireSignature authenticates dashboard calls (Stripe-Signature).
	RequireSignature func(http.Handler) http.Handler
	Log              zerolog.Logger
	Secure           func(http.Handler) http.Handler
	IPRateLimit      func(http.Handler) http.Handler
	Metrics          bool // expose /metrics
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(chimid.RealIP)
	r.Use(loggerMiddleware(cfg.Log))
	r.Use(chimid.Recoverer)
	if cfg.Metrics {
		r.Use(middleware.PrometheusMiddleware)
	}
	if cfg.Secure != nil {
		r.Use(cfg.Secure)
	}

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.ServeHTTP)
	} else {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	}
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Public OAuth endpoints: no signature, IP rate limited.
	r.Route("/oauth", func(r chi.Router) {
		if cfg.IPRateLimit != nil {
			r.Use(cfg.IPRateLimit)
		}
		r.Get("/install", cfg.OAuthHandler.Install)
		r.Get("/callback", cfg.OAuthHandler.Callback)
	})

	// Dashboard endpoints: every call carries a request signature binding it
	// to a user and tenant.
	r.Group(func(r chi.Router) {
		r.Use(cfg.RequireSignature)
		r.Get("/status", cfg.ProvisionHandler.Status)
		r.Post("/provision", cfg.ProvisionHandler.Provision)
		r.Delete("/provision", cfg.ProvisionHandler.Deprovision)
		r.Delete("/connection", cfg.OAuthHandler.Disconnect)
	})

	return r
}

func loggerMiddleware(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := chimid.GetReqID(r.Context())
			log.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
