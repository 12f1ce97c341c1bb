/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logging:    Structured zap request log
  4. Metrics:    Prometheus request counters (when a recorder is set)
  5. CORS:       Cross-origin requests for the dashboard
  6. OrgResolver on /api: org context resolved once per request

ROUTE GROUPS:
  /health               Liveness + database ping
  /metrics              Prometheus exposition
  /api/policies/*       Policies and customers
  /api/grids/*          Payout grids
  /api/tiers, /api/sources, /api/tier-defaults
  /api/commissions/*    Calculate, sync, report, split
  /api/allocations/*    Rules, earnings, preview/apply, action dispatch
  /api/sync-runs        Sync audit trail
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The org headers are trusted as set by
  whatever fronts the service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/commission-engine/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(h.Logger))
	if h.Recorder != nil {
		r.Use(h.Recorder.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderOrgID, HeaderTenantID, HeaderActorID},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if h.Recorder != nil {
		r.Method("GET", "/metrics", h.Recorder.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(OrgResolver)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
		})
		r.Post("/customers", h.CreateCustomer)

		r.Route("/grids", func(r chi.Router) {
			r.Get("/", h.ListGrids)
			r.Post("/", h.CreateGrid)
			r.Get("/resolve", h.ResolveGrid)
		})

		r.Get("/tiers", h.ListTiers)
		r.Post("/tiers", h.CreateTier)
		r.Get("/sources", h.ListSources)
		r.Post("/sources", h.CreateSource)
		r.Get("/tier-defaults", h.GetTierDefaults)
		r.Post("/tier-defaults", h.CreateTierDefaults)

		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Post("/calculate", h.CalculateCommissions)
			r.Post("/sync", h.SyncCommissions)
			r.Get("/report", h.CommissionReport)
			r.Post("/split", h.SplitCommission)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Get("/earnings", h.ListEarnings)
			r.Post("/earnings", h.CreateEarning)
			r.Post("/earnings/{id}/preview", h.PreviewAllocation)
			r.Post("/earnings/{id}/apply", h.ApplyAllocation)
			r.Get("/earnings/{id}/entries", h.ListEntries)
			r.Post("/actions", h.DispatchAllocation)
		})

		r.Get("/sync-runs", h.ListSyncRuns)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
