package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/session", s.HandleGetSession)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Get("/state", s.HandleGetDeviceState)
				r.Get("/actions", s.HandleListDeviceActions)
				r.Post("/commands", s.HandleDispatchCommand)
				r.Post("/batch-name", s.HandleSetBatchName)
			})
		})
	})
}
