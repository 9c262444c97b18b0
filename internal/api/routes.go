package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.HandleGetCurrentUser)

		// Modems
		r.Route("/modems", func(r chi.Router) {
			r.Get("/", s.HandleListModems)
			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", s.HandleGetModem)
				r.Post("/{action}", s.HandleModemAction)

				// Data management
				r.Get("/metrics", s.HandleGetModemMetrics)
				r.Get("/statistics", s.HandleGetModemStatistics)
				r.Get("/export", s.HandleExportModemData)
			})
		})

		// Events
		r.Get("/events", s.HandleListEvents)
	})
}
