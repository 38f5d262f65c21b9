package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vineyard-core/internal/gateway"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// registerRequest is the body of POST /registrations.
type registerRequest struct {
	APIID         string `json:"api_id"`
	ServiceID     string `json:"service_id"`
	EnvironmentID string `json:"environment_id"`
	Version       string `json:"version,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	Gateway       string `json:"gateway,omitempty"`
}

// registrationResponse describes one registration.
type registrationResponse struct {
	ID      string                   `json:"id"`
	State   registry.DeploymentState `json:"state"`
	Metrics map[string]string        `json:"metrics,omitempty"`
}

// removeResponse reports a removal and any teardown warnings.
type removeResponse struct {
	ID       string                   `json:"id"`
	State    registry.DeploymentState `json:"state"`
	Warnings []teardownWarning        `json:"warnings,omitempty"`
}

type teardownWarning struct {
	ResourceID string `json:"resource_id,omitempty"`
	Type       string `json:"type,omitempty"`
	Error      string `json:"error"`
}

type processingRequest struct {
	Definition string `json:"definition"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	id, err := s.lifecycle.Register(r.Context(), gateway.RegisterRequest{
		APIID:         req.APIID,
		ServiceID:     req.ServiceID,
		EnvironmentID: req.EnvironmentID,
		Version:       req.Version,
		Endpoint:      req.Endpoint,
		Gateway:       req.Gateway,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registrationResponse{ID: id, State: registry.StateRegistered})
}

func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.lifecycle.Status(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics, err := s.lifecycle.Metrics(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponse{ID: id, State: state, Metrics: metrics})
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.lifecycle.Enable)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.lifecycle.Disable)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := move(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	state, err := s.lifecycle.Status(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponse{ID: id, State: state})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	result, err := s.lifecycle.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := removeResponse{ID: result.ID, State: result.State}
	for _, f := range result.Failures() {
		resp.Warnings = append(resp.Warnings, teardownWarning{
			ResourceID: f.ResourceID,
			Type:       f.Type,
			Error:      f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProcessing(w http.ResponseWriter, r *http.Request) {
	chain, err := s.lifecycle.Processing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processing": chain})
}

func (s *Server) handleAddProcessing(w http.ResponseWriter, r *http.Request) {
	var req processingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Definition == "" {
		writeBadRequest(w, "definition is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.lifecycle.AddProcessing(r.Context(), id, req.Definition); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	chain, err := s.lifecycle.Processing(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"processing": chain})
}
