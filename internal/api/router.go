// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	AdminToken  string
	RateLimit   int // requests per minute per IP, 0 disables
	CORSOrigins []string
	Timeout     time.Duration // for search and count; syncs are not cut short
	Metrics     http.Handler  // served at /metrics when set
	AccessLog   bool
}

// NewRouter wires handlers and middleware into an http.Handler
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(MaxBodySize)

	// Rate limiting (if enabled)
	if opts.RateLimit > 0 {
		limiter := NewRateLimiter(opts.RateLimit, time.Minute)
		r.Use(limiter.Middleware)
	}

	// CORS (if enabled)
	if len(opts.CORSOrigins) > 0 {
		r.Use(CORSMiddleware(opts.CORSOrigins))
	}

	// Routes
	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.Timeout))
			r.Post("/search", h.Search)
			r.Get("/{kind}/{id}/embeddings", h.Count)
		})

		r.Post("/messages/{id}/index", h.IndexMessage)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(opts.AdminToken))
			r.Post("/admin/sync", h.BulkSync)
			r.Post("/posts/{id}/sync", h.SyncPost)
		})
	})

	return otelhttp.NewHandler(r, "embedsync-api")
}
