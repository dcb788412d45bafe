/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Structured request log (zerolog)
  4. Metrics:    Request counts and latency (Prometheus), when enabled
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/contracts/*   Contracts, sales data, statements, ledger
  /api/statements/*  Statement lookup by id
  /api/batch         Batch runs
  /api/scenarios/*   Demo scenarios
  /metrics           Prometheus exposition
  /health            Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - obs/: Logger and metrics middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/royalty-engine/obs"
)

// RouterOptions carries the ambient pieces of the router.
type RouterOptions struct {
	Logger         zerolog.Logger
	Metrics        *obs.Metrics // nil disables /metrics
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RequestLogger{Logger: opts.Logger}.Middleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Post("/{id}/sales", h.AddSales)
			r.Post("/{id}/returns", h.AddReturns)
			r.Get("/{id}/statements", h.ListStatements)
			r.Post("/{id}/statements", h.GenerateStatements)
			r.Post("/{id}/statements/preview", h.PreviewStatements)
			r.Post("/{id}/statements/finalize", h.FinalizeStatements)
		})

		// Statement routes
		r.Get("/statements/{id}", h.GetStatement)

		// Batch routes
		r.Post("/batch", h.RunBatch)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
