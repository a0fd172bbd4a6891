package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/web/handlers"
	"github.com/kozaktomas/face-registry/internal/web/middleware"
)

func (s *Server) setupRoutes(svc handlers.IdentityService, metrics http.Handler) {
	identitiesHandler := handlers.NewIdentitiesHandler(svc, s.log)
	photosHandler := handlers.NewPhotosHandler(svc, s.log)

	// Health check and metrics (no auth required)
	s.router.Get("/health", handlers.HealthCheck)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	if metrics != nil {
		s.router.Handle("/metrics", metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.APIToken))

		r.Post("/match", identitiesHandler.Match)

		// Identities
		r.Post("/identities", identitiesHandler.Create)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Post("/identities/{id}/photos", identitiesHandler.Attach)

		// Photos, addressed by locator
		r.Get("/photos", photosHandler.Get)
		r.Delete("/photos", photosHandler.Delete)
	})
}
