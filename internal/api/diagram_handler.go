package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/notify"
	"github.com/aversant/threatcanvas/internal/pipeline"
	"github.com/aversant/threatcanvas/internal/repository"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrGenerationInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetThreatModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	threatModel, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, threatModel)
}

func (s *Server) handleCreateThreatModel(w http.ResponseWriter, r *http.Request) {
	threatModel := model.ThreatModel{ID: uuid.NewString()}
	if err := s.repo.Save(r.Context(), threatModel); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, threatModel)
}

func (s *Server) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	diagrams, err := s.repo.ListDiagrams(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"diagrams": diagrams})
}

func (s *Server) handleGetDiagram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	diagram, err := s.repo.GetDiagram(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, diagram)
}

type createDiagramRequest struct {
	ThreatModelID   string `json:"threatModelId"`
	ImageRef        string `json:"imageRef"`
	UserDescription string `json:"userDescription"`
}

func (s *Server) handleCreateDiagram(w http.ResponseWriter, r *http.Request) {
	var req createDiagramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.ThreatModelID) == "" || strings.TrimSpace(req.ImageRef) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("threatModelId and imageRef required"))
		return
	}
	diagram := model.Diagram{
		ID:              uuid.NewString(),
		ThreatModelID:   req.ThreatModelID,
		ImageRef:        req.ImageRef,
		UserDescription: req.UserDescription,
		Status:          model.StatusNA,
	}
	if err := s.repo.SaveDiagram(r.Context(), diagram); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, diagram)
}

func (s *Server) handleDescribeDiagram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	diagram, err := s.repo.GetDiagram(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	image, err := s.images.Get(r.Context(), diagram.ImageRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	description, err := s.describer.DescribeDiagram(r.Context(), s.examples, image, diagram.UserDescription)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	diagram.Description = description
	if err := s.repo.SaveDiagram(r.Context(), diagram); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if sendErr := s.relay.Send(r.Context(), notify.DiagramDescriptionMutation, map[string]any{
		"diagramId":          diagram.ID,
		"diagramDescription": description,
	}); sendErr != nil {
		common.Logger().Warn("api: description relay failed", "diagram", diagram.ID, "error", sendErr)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"diagramId":          diagram.ID,
		"diagramDescription": description,
	})
}

func (s *Server) handleExtractComponents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	diagram, err := s.repo.GetDiagram(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if strings.TrimSpace(diagram.Description) == "" {
		writeError(w, http.StatusConflict, fmt.Errorf("diagram %s has no description yet", id))
		return
	}
	image, err := s.images.Get(r.Context(), diagram.ImageRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dfd, err := s.extractor.ExtractDFD(r.Context(), image, diagram.Description)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	components := make([]model.Component, 0, len(dfd.Components))
	for _, draft := range dfd.Components {
		components = append(components, model.NewComponent(diagram.ID, draft.Type, draft.Name, draft.Description))
	}
	if err := s.repo.SaveComponents(r.Context(), components); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if sendErr := s.relay.Send(r.Context(), notify.ComponentsMutation, map[string]any{
		"diagramId":  diagram.ID,
		"components": components,
	}); sendErr != nil {
		common.Logger().Warn("api: components relay failed", "diagram", diagram.ID, "error", sendErr)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"components": components})
}

type generateRequest struct {
	Categories []model.StrideType `json:"threatTypes"`
}

func (s *Server) handleGenerateThreats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	for _, category := range req.Categories {
		if !category.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown threat type %q", category))
			return
		}
	}
	diagram, err := s.repo.GetDiagram(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	// The run outlives the request; failures are relayed through the
	// notifier rather than this response.
	go func() {
		if err := s.runner.Run(context.Background(), pipeline.Request{DiagramID: diagram.ID, Categories: req.Categories}); err != nil {
			common.Logger().Error("api: generation run failed", "diagram", diagram.ID, "error", err)
		}
	}()
	// The status transition happens inside the run; report what is known
	// now rather than a state that may not have been written yet.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"diagramId": diagram.ID,
		"accepted":  true,
		"status":    string(diagram.Status),
	})
}
