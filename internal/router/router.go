package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"tillpoint-offline-sync/internal/handler"
	"tillpoint-offline-sync/internal/middleware"
)

// Config holds the handlers and settings for the local HTTP surface.
type Config struct {
	Health         *handler.HealthHandler
	Pos            *handler.PosHandler
	Sync           *handler.SyncHandler
	AllowedOrigins []string
}

// New builds the terminal daemon's router. The surface binds to loopback and
// serves the POS UI running on the same machine, so there is no auth layer
// here; backend credentials stay inside the API client.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", cfg.Pos.ListOrders)
			r.Post("/", cfg.Pos.CreateOrder)
			r.Patch("/{id}/status", cfg.Pos.UpdateOrderStatus)
			r.Delete("/{id}", cfg.Pos.DeleteOrder)
		})

		r.Get("/menu", cfg.Pos.ListMenuItems)
		r.Get("/tables", cfg.Pos.ListTables)
		r.Get("/staff", cfg.Pos.ListStaff)
		r.Get("/dashboard/{section}", cfg.Pos.Dashboard)

		r.Post("/receipts", cfg.Pos.CreateReceipt)
		r.Post("/bill-requests", cfg.Pos.CreateBillRequest)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", cfg.Sync.Status)
			r.Post("/trigger", cfg.Sync.Trigger)
			r.Get("/jobs", cfg.Sync.ListJobs)
			r.Post("/jobs/{id}/retry", cfg.Sync.RetryJob)
		})

		r.Post("/offline/reset", cfg.Sync.Reset)
	})

	return r
}
