package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/internal/handlers"
	"simmgate-aigateway/internal/metrics"
	"simmgate-aigateway/internal/middleware"
)

type Options struct {
	Verifier       *auth.Verifier
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	// ForceRefreshHeader is allowed through CORS preflight.
	ForceRefreshHeader string
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h *handlers.PluginHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 150 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 << 20
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.RequestLogger(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.CORS(opts.CORSOrigins, opts.ForceRefreshHeader))

	// unauthenticated probes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(opts.Verifier))
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

		r.Get("/plugins", h.ListPlugins)
		r.Get("/chatterbox/languages", h.Languages)
		r.Get("/chatterbox/emotions", h.Emotions)

		r.Delete("/cache/{plugin}", h.ClearPluginCache)
		r.Delete("/cache/{plugin}/user/{user_id}", h.ClearUserCache)

		r.Post("/{plugin}", h.Invoke)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}
