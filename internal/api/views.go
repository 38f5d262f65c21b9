package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/handler/rest"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.registry.ListServices(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if services == nil {
		services = []registry.Service{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services, "count": len(services)})
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.registry.ListEnvironments(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if envs == nil {
		envs = []registry.Environment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs, "count": len(envs)})
}

func (s *Server) handleListMaintainers(w http.ResponseWriter, r *http.Request) {
	maintainers, err := s.registry.ListMaintainers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if maintainers == nil {
		maintainers = []registry.Maintainer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"maintainers": maintainers, "count": len(maintainers)})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	var (
		deps []registry.Deployment
		err  error
	)
	if svc := r.URL.Query().Get("service"); svc != "" {
		deps, err = s.registry.ListDeployments(r.Context(), svc)
	} else {
		deps, err = s.registry.ListAllDeployments(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if deps == nil {
		deps = []registry.Deployment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deps, "count": len(deps)})
}

func (s *Server) handleListAPIs(w http.ResponseWriter, r *http.Request) {
	apis, err := s.registry.ListAPIs(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if apis == nil {
		apis = []catalog.API{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"apis": apis, "count": len(apis)})
}

func (s *Server) handleGetAPI(w http.ResponseWriter, r *http.Request) {
	api, err := s.registry.GetAPI(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := []rest.Route{}
	if s.traffic != nil {
		routes = append(routes, s.traffic.Routes()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes, "count": len(routes)})
}
