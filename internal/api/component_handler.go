package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/repository"
)

// deleteResponse is the payload of every delete, success or refusal. A
// refusal carries the reason, never a raw error body.
type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type createComponentRequest struct {
	DiagramID   string              `json:"diagramId"`
	Type        model.ComponentType `json:"componentType"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
}

func (s *Server) handleCreateComponent(w http.ResponseWriter, r *http.Request) {
	var req createComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.DiagramID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("diagramId and name required"))
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown component type %q", req.Type))
		return
	}
	component := model.NewComponent(req.DiagramID, req.Type, req.Name, req.Description)
	if err := s.repo.SaveComponent(r.Context(), component); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, component)
}

type updateComponentRequest struct {
	Type        *model.ComponentType `json:"componentType"`
	Name        *string              `json:"name"`
	Description *string              `json:"description"`
}

func (s *Server) handleUpdateComponent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	component, err := s.repo.GetComponent(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if req.Type != nil {
		if !req.Type.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown component type %q", *req.Type))
			return
		}
		component.Type = *req.Type
	}
	if req.Name != nil {
		component.Name = *req.Name
	}
	if req.Description != nil {
		component.Description = *req.Description
	}
	if err := s.repo.SaveComponent(r.Context(), component); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, component)
}

func (s *Server) handleDeleteComponent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.DeleteComponent(r.Context(), id)
	if err != nil {
		var blocked *repository.DeleteBlockedError
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusConflict, deleteResponse{Success: false, Message: blocked.Error()})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Message: fmt.Sprintf("component %s deleted", id)})
}

type createThreatRequest struct {
	ComponentID string           `json:"componentId"`
	Name        string           `json:"name"`
	Category    model.StrideType `json:"threatType"`
	Description string           `json:"description"`
	DREAD       model.DREADScore `json:"dreadScores"`
}

func (s *Server) handleCreateThreat(w http.ResponseWriter, r *http.Request) {
	var req createThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.ComponentID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("componentId and name required"))
		return
	}
	if !req.Category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown threat type %q", req.Category))
		return
	}
	if err := req.DREAD.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	threat := model.Threat{
		ID:          uuid.NewString(),
		ComponentID: req.ComponentID,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		DREAD:       req.DREAD,
		Action:      model.DefaultThreatAction,
	}
	if err := s.repo.SaveThreat(r.Context(), threat); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, threat)
}

type updateThreatRequest struct {
	Name        *string           `json:"name"`
	Category    *model.StrideType `json:"threatType"`
	Description *string           `json:"description"`
	DREAD       *model.DREADScore `json:"dreadScores"`
	Action      *string           `json:"action"`
	Reason      *string           `json:"reason"`
}

func (s *Server) handleUpdateThreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	threat, err := s.repo.GetThreat(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if req.Category != nil {
		if !req.Category.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown threat type %q", *req.Category))
			return
		}
		threat.Category = *req.Category
	}
	if req.DREAD != nil {
		if err := req.DREAD.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		threat.DREAD = *req.DREAD
	}
	if req.Name != nil {
		threat.Name = *req.Name
	}
	if req.Description != nil {
		threat.Description = *req.Description
	}
	if req.Action != nil {
		threat.Action = *req.Action
	}
	if req.Reason != nil {
		threat.Reason = *req.Reason
	}
	if err := s.repo.SaveThreat(r.Context(), threat); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, threat)
}

func (s *Server) handleDeleteThreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.DeleteThreat(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Message: fmt.Sprintf("threat %s deleted", id)})
}
