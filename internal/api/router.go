package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminPrefix is the path under which the admin API is mounted.
const AdminPrefix = "/_admin"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	if s.metrics != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics)
	}

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/health", s.handleHealth)

		// Registry catalog
		r.Route("/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Post("/", s.handleAddService)
			r.Get("/{id}", s.handleGetService)
			r.Put("/{id}", s.handleUpdateService)
			r.Delete("/{id}", s.handleDeleteService)
		})
		r.Route("/environments", func(r chi.Router) {
			r.Get("/", s.handleListEnvironments)
			r.Post("/", s.handleAddEnvironment)
			r.Get("/{id}", s.handleGetEnvironment)
			r.Put("/{id}", s.handleUpdateEnvironment)
			r.Delete("/{id}", s.handleDeleteEnvironment)
		})
		r.Route("/maintainers", func(r chi.Router) {
			r.Get("/", s.handleListMaintainers)
			r.Post("/", s.handleAddMaintainer)
			r.Delete("/{name}", s.handleDeleteMaintainer)
		})
		r.Route("/apis", func(r chi.Router) {
			r.Get("/", s.handleListAPIs)
			r.Post("/", s.handleAddAPI)
			r.Get("/{id}", s.handleGetAPI)
			r.Put("/{id}", s.handleUpdateAPI)
			r.Delete("/{id}", s.handleDeleteAPI)
		})
		r.Get("/deployments", s.handleListDeployments)
		r.Get("/routes", s.handleListRoutes)

		// Registration lifecycle
		r.Route("/registrations", func(r chi.Router) {
			r.Post("/", s.handleRegister)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRegistration)
				r.Delete("/", s.handleRemove)
				r.Post("/enable", s.handleEnable)
				r.Post("/disable", s.handleDisable)
				r.Get("/processing", s.handleListProcessing)
				r.Post("/processing", s.handleAddProcessing)
			})
		})
	})

	// Everything else is API traffic
	if s.traffic != nil {
		r.Handle("/*", s.traffic)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
