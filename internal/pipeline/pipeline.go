// Package pipeline fans threat generation out over every (component, STRIDE
// category) pair of a diagram. Each pair is an independent task executed by
// a bounded worker pool with per-task retries, so one slow or throttled
// model call never blocks the rest of the diagram.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aversant/threatcanvas/internal/audit"
	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/inference"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/notify"
	"github.com/aversant/threatcanvas/internal/objectstore"
	"github.com/aversant/threatcanvas/internal/repository"
)

// ErrGenerationInProgress reports a run rejected because the diagram is
// already generating. Only returned when RejectConcurrent is set.
var ErrGenerationInProgress = errors.New("threat generation already in progress")

// ThreatGenerator is the model call a task performs. Satisfied by
// inference.Gateway.
type ThreatGenerator interface {
	GenerateThreats(ctx context.Context, image []byte, diagramDescription string, component model.Component, category model.StrideType, iterations int) (model.ThreatList, error)
}

// Runner owns one diagram-wide generation run at a time per call to Run.
// The same Runner may serve concurrent runs for different diagrams.
type Runner struct {
	cfg    Config
	repo   repository.ThreatModelRepository
	images objectstore.Store
	gen    ThreatGenerator
	relay  *notify.Relay
	audit  *audit.Recorder
}

func NewRunner(cfg Config, repo repository.ThreatModelRepository, images objectstore.Store, gen ThreatGenerator, relay *notify.Relay, recorder *audit.Recorder) *Runner {
	cfg.applyDefaults()
	return &Runner{cfg: cfg, repo: repo, images: images, gen: gen, relay: relay, audit: recorder}
}

// Request selects the diagram and optionally narrows the categories. An
// empty category list means all six STRIDE categories.
type Request struct {
	DiagramID  string
	Categories []model.StrideType
}

type task struct {
	component model.Component
	category  model.StrideType
}

// expand builds the task list: the cross product of the diagram's
// generation-eligible components and the requested categories.
func expand(diagram model.Diagram, categories []model.StrideType) []task {
	if len(categories) == 0 {
		categories = model.AllStrideTypes()
	}
	var tasks []task
	for _, component := range diagram.Components {
		if component.Type.SkipsGeneration() {
			continue
		}
		for _, category := range categories {
			tasks = append(tasks, task{component: component, category: category})
		}
	}
	return tasks
}

// Run drives a full generation: status forward to GENERATING_THREATS, the
// task fan-out, status forward to THREATS_GENERATED, completion
// notification. Individual task failures are relayed and do not fail the
// run; Run itself fails only on setup and status-write errors.
func (r *Runner) Run(ctx context.Context, req Request) error {
	log := common.Logger()
	diagram, err := r.repo.GetDiagram(ctx, req.DiagramID)
	if err != nil {
		return fmt.Errorf("load diagram %s: %w", req.DiagramID, err)
	}
	if r.cfg.RejectConcurrent && diagram.Status == model.StatusGeneratingThreats {
		return fmt.Errorf("diagram %s: %w", req.DiagramID, ErrGenerationInProgress)
	}

	diagram.Status = model.StatusGeneratingThreats
	if err := r.repo.SaveDiagram(ctx, diagram); err != nil {
		return fmt.Errorf("mark diagram %s generating: %w", req.DiagramID, err)
	}

	image, err := r.images.Get(ctx, diagram.ImageRef)
	if err != nil {
		return fmt.Errorf("load diagram image %s: %w", diagram.ImageRef, err)
	}

	tasks := expand(diagram, req.Categories)
	log.Info("pipeline: generation started",
		"diagram", diagram.ID, "components", len(diagram.Components), "tasks", len(tasks))

	jobCh := make(chan task)
	var wg sync.WaitGroup
	workers := r.cfg.Concurrency
	if workers > len(tasks) && len(tasks) > 0 {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tk := range jobCh {
				r.runTask(ctx, diagram, image, tk)
			}
		}()
	}
	for _, tk := range tasks {
		jobCh <- tk
	}
	close(jobCh)
	wg.Wait()

	// Reload before the final transition: the run-start snapshot may be
	// minutes old and the upsert writes the full row, so only a fresh read
	// keeps fields written during the run (a concurrent description update,
	// for example) intact.
	final, err := r.repo.GetDiagram(ctx, req.DiagramID)
	if err != nil {
		return fmt.Errorf("reload diagram %s: %w", req.DiagramID, err)
	}
	final.Status = model.StatusThreatsGenerated
	if err := r.repo.SaveDiagram(ctx, final); err != nil {
		return fmt.Errorf("mark diagram %s generated: %w", req.DiagramID, err)
	}
	if sendErr := r.relay.Send(ctx, notify.AllThreatsGeneratedMutation, map[string]any{
		"diagramId": diagram.ID,
		"status":    string(model.StatusThreatsGenerated),
	}); sendErr != nil {
		log.Warn("pipeline: completion relay failed", "diagram", diagram.ID, "error", sendErr)
	}
	log.Info("pipeline: generation finished", "diagram", diagram.ID)
	return nil
}

// isTransient decides which task failures are worth another attempt. Store
// faults count alongside throttling and transport errors.
func isTransient(err error) bool {
	var storeErr *repository.StoreError
	return inference.IsRetryable(err) || errors.As(err, &storeErr)
}

// runTask executes one (component, category) pair with retries. The
// resolver is wrapped so successes are relayed, transient failures come back
// retryable and fatal failures are relayed as errors and swallowed.
func (r *Runner) runTask(ctx context.Context, diagram model.Diagram, image []byte, tk task) {
	log := common.Logger()
	resolver := notify.Notified(r.relay, notify.ThreatsMutation, isTransient,
		func(in task, out []model.Threat) map[string]any {
			if out == nil {
				return nil
			}
			return map[string]any{
				"diagramId":   diagram.ID,
				"componentId": in.component.ID,
				"threats":     out,
			}
		},
		func(ctx context.Context, in task) ([]model.Threat, error) {
			return r.generate(ctx, diagram, image, in)
		})

	for attempt := 1; ; attempt++ {
		_, err := resolver(ctx, tk)
		if err == nil {
			return
		}
		var retryable *notify.RetryableError
		if !errors.As(err, &retryable) {
			log.Error("pipeline: task failed",
				"diagram", diagram.ID, "component", tk.component.ID, "category", tk.category, "error", err)
			return
		}
		if attempt >= r.cfg.TaskRetries {
			log.Error("pipeline: task gave up after retries",
				"diagram", diagram.ID, "component", tk.component.ID, "category", tk.category,
				"attempts", attempt, "error", err)
			return
		}
		log.Warn("pipeline: task retrying",
			"diagram", diagram.ID, "component", tk.component.ID, "category", tk.category,
			"attempt", attempt, "delay", r.cfg.RetryDelay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.RetryDelay):
		}
	}
}

// generate is the task body: one gateway call under the per-call budget,
// then persist and record the results.
func (r *Runner) generate(ctx context.Context, diagram model.Diagram, image []byte, tk task) ([]model.Threat, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	drafts, err := r.gen.GenerateThreats(callCtx, image, diagram.Description, tk.component, tk.category, r.cfg.Iterations)
	if err != nil {
		return nil, err
	}
	threats := make([]model.Threat, 0, len(drafts.Threats))
	for _, draft := range drafts.Threats {
		threats = append(threats, model.NewThreat(tk.component.ID, draft))
	}
	if err := r.repo.SaveThreats(ctx, threats); err != nil {
		return nil, err
	}
	r.audit.Record(ctx, diagram.ID, tk.component, tk.category, threats)
	common.Logger().Info("pipeline: task complete",
		"diagram", diagram.ID, "component", tk.component.ID, "category", tk.category, "threats", len(threats))
	return threats, nil
}
