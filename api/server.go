/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the front-end

ROUTE GROUPS:
  /api/tenants/{tenant}/*   Tenant operations (see handlers.go)
  /healthz                  Liveness, registry reachability, active tenants

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api/tenants/{tenant}", func(r chi.Router) {
		r.Post("/registration", h.Register)
		r.Delete("/registration", h.Unregister)

		r.Post("/supplies", h.Supply)
		r.Post("/sales", h.Sell)
		r.Get("/stock", h.Stock)

		r.Post("/sessions", h.LogSession)
		r.Post("/clients/edits", h.EditClient)
		r.Get("/clients/{name}", h.GetClient)
		r.Get("/reminders", h.Reminders)
		r.Post("/reminders/clear", h.ClearReminder)

		r.Post("/bookings", h.Book)
		r.Post("/bookings/cancel", h.CancelBooking)
		r.Get("/schedule", h.Schedule)

		r.Route("/undo", func(r chi.Router) {
			r.Post("/sale", h.UndoSale)
			r.Post("/supply", h.UndoSupply)
			r.Post("/client-edit", h.UndoClientEdit)
		})
	})

	return r
}
