package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// decodeBody decodes the JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAddService(w http.ResponseWriter, r *http.Request) {
	var svc registry.Service
	if !decodeBody(w, r, &svc) {
		return
	}
	if err := s.registry.AddService(r.Context(), &svc); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.registry.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var svc registry.Service
	if !decodeBody(w, r, &svc) {
		return
	}
	svc.ID = chi.URLParam(r, "id")
	if err := s.registry.UpdateService(r.Context(), &svc); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteService(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddEnvironment(w http.ResponseWriter, r *http.Request) {
	var env registry.Environment
	if !decodeBody(w, r, &env) {
		return
	}
	if err := s.registry.AddEnvironment(r.Context(), &env); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.registry.GetEnvironment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	var env registry.Environment
	if !decodeBody(w, r, &env) {
		return
	}
	env.ID = chi.URLParam(r, "id")
	if err := s.registry.UpdateEnvironment(r.Context(), &env); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteEnvironment(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMaintainer(w http.ResponseWriter, r *http.Request) {
	var m registry.Maintainer
	if !decodeBody(w, r, &m) {
		return
	}
	if err := s.registry.AddMaintainer(r.Context(), &m); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleDeleteMaintainer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteMaintainer(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddAPI stores an API with its resources. Resource and API IDs are
// assigned by the registry; any supplied ones are ignored.
func (s *Server) handleAddAPI(w http.ResponseWriter, r *http.Request) {
	var api catalog.API
	if !decodeBody(w, r, &api) {
		return
	}
	if err := s.registry.AddAPI(r.Context(), &api); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api)
}

// handleUpdateAPI replaces an API aggregate. Resources keep their IDs when
// the body carries them.
func (s *Server) handleUpdateAPI(w http.ResponseWriter, r *http.Request) {
	var api catalog.API
	if !decodeBody(w, r, &api) {
		return
	}
	api.ID = chi.URLParam(r, "id")
	if err := s.registry.UpdateAPI(r.Context(), &api); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api)
}

func (s *Server) handleDeleteAPI(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteAPI(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
