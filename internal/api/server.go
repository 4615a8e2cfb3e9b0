// Package api exposes the threat modeling operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/inference/fewshot"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/notify"
	"github.com/aversant/threatcanvas/internal/objectstore"
	"github.com/aversant/threatcanvas/internal/pipeline"
	"github.com/aversant/threatcanvas/internal/repository"
)

// DiagramDescriber writes a prose description of a diagram image.
type DiagramDescriber interface {
	DescribeDiagram(ctx context.Context, examples *fewshot.Retriever, image []byte, userDescription string) (string, error)
}

// ComponentExtractor pulls DFD components out of a described diagram.
type ComponentExtractor interface {
	ExtractDFD(ctx context.Context, image []byte, diagramDescription string) (model.DFD, error)
}

// GenerationRunner drives the threat generation fan-out for one diagram.
type GenerationRunner interface {
	Run(ctx context.Context, req pipeline.Request) error
}

type Server struct {
	router    chi.Router
	repo      repository.ThreatModelRepository
	describer DiagramDescriber
	extractor ComponentExtractor
	runner    GenerationRunner
	images    objectstore.Store
	examples  *fewshot.Retriever
	relay     *notify.Relay
}

func NewServer(repo repository.ThreatModelRepository, describer DiagramDescriber, extractor ComponentExtractor, runner GenerationRunner, images objectstore.Store, examples *fewshot.Retriever, relay *notify.Relay) (*Server, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if images == nil {
		return nil, fmt.Errorf("object store required")
	}
	srv := &Server{
		router:    chi.NewRouter(),
		repo:      repo,
		describer: describer,
		extractor: extractor,
		runner:    runner,
		images:    images,
		examples:  examples,
		relay:     relay,
	}
	srv.routes()
	common.Logger().Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Get("/v1/logs", s.handleLogs)

	s.router.Get("/v1/threat-models/{id}", s.handleGetThreatModel)
	s.router.Post("/v1/threat-models", s.handleCreateThreatModel)

	s.router.Get("/v1/diagrams", s.handleListDiagrams)
	s.router.Get("/v1/diagrams/{id}", s.handleGetDiagram)
	s.router.Post("/v1/diagrams", s.handleCreateDiagram)
	s.router.Post("/v1/diagrams/{id}/description", s.handleDescribeDiagram)
	s.router.Post("/v1/diagrams/{id}/components/extract", s.handleExtractComponents)
	s.router.Post("/v1/diagrams/{id}/generate", s.handleGenerateThreats)

	s.router.Post("/v1/components", s.handleCreateComponent)
	s.router.Patch("/v1/components/{id}", s.handleUpdateComponent)
	s.router.Delete("/v1/components/{id}", s.handleDeleteComponent)

	s.router.Post("/v1/threats", s.handleCreateThreat)
	s.router.Patch("/v1/threats/{id}", s.handleUpdateThreat)
	s.router.Delete("/v1/threats/{id}", s.handleDeleteThreat)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}
