package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facelookup/internal/web/handlers"
	"github.com/kozaktomas/facelookup/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.service, s.logger)
	statsHandler := handlers.NewStatsHandler(s.service, s.logger)
	studentsHandler := handlers.NewStudentsHandler(s.service, statsHandler, s.logger)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.config.Web.APIToken))

			// Faces
			r.Post("/faces/encode", facesHandler.Encode)
			r.Post("/faces/search", facesHandler.Search)

			// Students
			r.Post("/students", studentsHandler.Create)
			r.Put("/students/{id}/photo", studentsHandler.UpdatePhoto)
			r.Delete("/students/{id}/face", studentsHandler.ClearFace)

			// Stats
			r.Get("/stats", statsHandler.Get)
		})
	})
}
