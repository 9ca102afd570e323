package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"salonbook/internal/booking"
	"salonbook/internal/models"
)

// Directory stores the services and clients that appointments refer to.
type Directory interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)

	ListServices(ctx context.Context, workspaceID string) ([]models.Service, error)
	CreateService(ctx context.Context, s *models.Service) error
	UpdateService(ctx context.Context, s *models.Service) error
	DeleteService(ctx context.Context, workspaceID, id string) error

	ListClients(ctx context.Context, workspaceID, query string) ([]models.Client, error)
	GetClient(ctx context.Context, workspaceID, id string) (*models.Client, error)
	CreateClient(ctx context.Context, c *models.Client) error
	DeleteClient(ctx context.Context, workspaceID, id string) error
	ClientAppointments(ctx context.Context, workspaceID, clientID string) ([]models.Appointment, error)
}

// PUT /api/v1/workspaces/{ws}
func (s *Server) handleUpsertWorkspace(w http.ResponseWriter, r *http.Request) {
	var ws models.Workspace
	if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ws.ID = r.PathValue("ws")
	if err := s.svc.SaveWorkspace(r.Context(), &ws); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// requireWorkspace writes a 404 and reports false when the path workspace
// does not exist.
func (s *Server) requireWorkspace(w http.ResponseWriter, r *http.Request) bool {
	if _, err := s.dir.GetWorkspace(r.Context(), r.PathValue("ws")); err != nil {
		s.writeServiceError(w, r, err)
		return false
	}
	return true
}

// GET /api/v1/workspaces/{ws}/services
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkspace(w, r) {
		return
	}
	services, err := s.dir.ListServices(r.Context(), r.PathValue("ws"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func decodeService(w http.ResponseWriter, r *http.Request) (models.Service, bool) {
	var svc models.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return svc, false
	}
	svc.WorkspaceID = r.PathValue("ws")
	svc.Category = strings.TrimSpace(svc.Category)
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Category == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "category is required", Field: "category"})
		return svc, false
	}
	if svc.DefaultPrice != nil && *svc.DefaultPrice < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "price cannot be negative", Field: "default_price"})
		return svc, false
	}
	return svc, true
}

// POST /api/v1/workspaces/{ws}/services
func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	svc, ok := decodeService(w, r)
	if !ok || !s.requireWorkspace(w, r) {
		return
	}
	svc.ID = ""
	if err := s.dir.CreateService(r.Context(), &svc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// PUT /api/v1/workspaces/{ws}/services/{id}
func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	svc, ok := decodeService(w, r)
	if !ok {
		return
	}
	svc.ID = r.PathValue("id")
	if err := s.dir.UpdateService(r.Context(), &svc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// DELETE /api/v1/workspaces/{ws}/services/{id}
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.DeleteService(r.Context(), r.PathValue("ws"), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/workspaces/{ws}/clients?q=
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkspace(w, r) {
		return
	}
	clients, err := s.dir.ListClients(r.Context(), r.PathValue("ws"), r.URL.Query().Get("q"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

// POST /api/v1/workspaces/{ws}/clients
func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c.ID = ""
	c.WorkspaceID = r.PathValue("ws")
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required", Field: "name"})
		return
	}
	if c.Gender == "" {
		c.Gender = "female"
	}
	if !s.requireWorkspace(w, r) {
		return
	}
	if err := s.dir.CreateClient(r.Context(), &c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// DELETE /api/v1/workspaces/{ws}/clients/{id}
func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.DeleteClient(r.Context(), r.PathValue("ws"), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/workspaces/{ws}/clients/{id}/appointments
func (s *Server) handleClientAppointments(w http.ResponseWriter, r *http.Request) {
	ws, id := r.PathValue("ws"), r.PathValue("id")
	if _, err := s.dir.GetClient(r.Context(), ws, id); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	appts, err := s.dir.ClientAppointments(r.Context(), ws, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appts)
}
