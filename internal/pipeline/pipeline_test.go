package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aversant/threatcanvas/internal/audit"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/notify"
	"github.com/aversant/threatcanvas/internal/objectstore"
	"github.com/aversant/threatcanvas/internal/repository"
	"github.com/aversant/threatcanvas/internal/repository/sqlite"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	// failures is consumed one error per call until empty.
	failures []error
	// onCall, when set, runs once per call before the canned result.
	onCall func(ctx context.Context, call int)
}

func (f *fakeGenerator) GenerateThreats(ctx context.Context, image []byte, diagramDescription string, component model.Component, category model.StrideType, iterations int) (model.ThreatList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall(ctx, f.calls)
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return model.ThreatList{}, err
		}
	}
	return model.ThreatList{Threats: []model.DraftThreat{{
		Name:        "Generated threat",
		Category:    category,
		Description: "A " + string(category) + " threat against " + component.Name,
		DREAD:       model.DREADScore{Damage: 5, Reproducibility: 5, Exploitability: 5, AffectedUsers: 5, Discoverability: 5},
	}}}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	repo   *sqlite.Repository
	runner *Runner
	gen    *fakeGenerator
}

func newFixture(t *testing.T, gen *fakeGenerator, cfg Config, components ...model.Component) fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	repo := sqlite.NewRepository(store)

	images, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	if err := images.Put(ctx, "diagrams/d1.png", []byte("png")); err != nil {
		t.Fatalf("put image: %v", err)
	}

	diagram := model.Diagram{
		ID:            "d1",
		ThreatModelID: "tm1",
		ImageRef:      "diagrams/d1.png",
		Description:   "Web application",
		Status:        model.StatusNA,
	}
	if err := repo.Save(ctx, model.ThreatModel{ID: "tm1"}); err != nil {
		t.Fatalf("save threat model: %v", err)
	}
	if err := repo.SaveDiagram(ctx, diagram); err != nil {
		t.Fatalf("save diagram: %v", err)
	}
	if err := repo.SaveComponents(ctx, components); err != nil {
		t.Fatalf("save components: %v", err)
	}

	relay := notify.NewRelay(notify.Config{})
	runner := NewRunner(cfg, repo, images, gen, relay, audit.NewRecorder(images))
	return fixture{repo: repo, runner: runner, gen: gen}
}

func fastConfig() Config {
	return Config{Concurrency: 3, TaskRetries: 3, RetryDelay: time.Millisecond, CallTimeout: time.Second, Iterations: 1}
}

func TestExpandSkipsBoundariesAndFlows(t *testing.T) {
	diagram := model.Diagram{Components: []model.Component{
		{ID: "c1", Type: model.ComponentProcess},
		{ID: "c2", Type: model.ComponentTrustBoundary},
		{ID: "c3", Type: model.ComponentDataFlow},
		{ID: "c4", Type: model.ComponentDataStore},
	}}
	tasks := expand(diagram, nil)
	if len(tasks) != 12 {
		t.Fatalf("got %d tasks, want 12 (2 eligible components x 6 categories)", len(tasks))
	}
	for _, tk := range tasks {
		if tk.component.Type.SkipsGeneration() {
			t.Fatalf("ineligible component %s received a task", tk.component.ID)
		}
	}
}

func TestExpandHonorsRequestedCategories(t *testing.T) {
	diagram := model.Diagram{Components: []model.Component{{ID: "c1", Type: model.ComponentProcess}}}
	tasks := expand(diagram, []model.StrideType{model.StrideTampering})
	if len(tasks) != 1 || tasks[0].category != model.StrideTampering {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestRunGeneratesThreatsAndAdvancesStatus(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen, fastConfig(),
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	if err := fx.runner.Run(context.Background(), Request{DiagramID: "d1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	diagram, err := fx.repo.GetDiagram(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDiagram: %v", err)
	}
	if diagram.Status != model.StatusThreatsGenerated {
		t.Fatalf("status = %s, want %s", diagram.Status, model.StatusThreatsGenerated)
	}
	component, err := fx.repo.GetComponent(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if len(component.Threats) != 6 {
		t.Fatalf("got %d threats, want 6 (one per category)", len(component.Threats))
	}
	seen := map[model.StrideType]bool{}
	for _, threat := range component.Threats {
		if threat.ComponentID != "c1" {
			t.Fatalf("threat %s owned by %s, want c1", threat.ID, threat.ComponentID)
		}
		if threat.Action != model.DefaultThreatAction {
			t.Fatalf("threat action = %q, want %q", threat.Action, model.DefaultThreatAction)
		}
		seen[threat.Category] = true
	}
	if len(seen) != 6 {
		t.Fatalf("categories covered = %d, want 6", len(seen))
	}
	if gen.callCount() != 6 {
		t.Fatalf("generator called %d times, want 6", gen.callCount())
	}
}

func TestRunFinalStatusWriteKeepsMidRunUpdates(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen, fastConfig(),
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	// A writer races the run and replaces the description while tasks are
	// in flight. The final status transition must not revert it.
	gen.onCall = func(ctx context.Context, call int) {
		if call != 1 {
			return
		}
		diagram, err := fx.repo.GetDiagram(ctx, "d1")
		if err != nil {
			t.Errorf("GetDiagram mid-run: %v", err)
			return
		}
		diagram.Description = "description written mid-run"
		if err := fx.repo.SaveDiagram(ctx, diagram); err != nil {
			t.Errorf("SaveDiagram mid-run: %v", err)
		}
	}

	if err := fx.runner.Run(context.Background(), Request{DiagramID: "d1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	diagram, err := fx.repo.GetDiagram(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDiagram: %v", err)
	}
	if diagram.Status != model.StatusThreatsGenerated {
		t.Fatalf("status = %s, want %s", diagram.Status, model.StatusThreatsGenerated)
	}
	if diagram.Description != "description written mid-run" {
		t.Fatalf("description = %q, mid-run update was reverted", diagram.Description)
	}
}

func TestRunMarksGeneratingBeforeFirstTask(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen, fastConfig(),
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	var observed []model.DiagramStatus
	gen.onCall = func(ctx context.Context, call int) {
		diagram, err := fx.repo.GetDiagram(ctx, "d1")
		if err != nil {
			t.Errorf("GetDiagram during task: %v", err)
			return
		}
		observed = append(observed, diagram.Status)
	}

	if err := fx.runner.Run(context.Background(), Request{DiagramID: "d1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(observed) != 6 {
		t.Fatalf("got %d task observations, want 6", len(observed))
	}
	for i, status := range observed {
		if status != model.StatusGeneratingThreats {
			t.Fatalf("task %d saw status %s, want %s", i, status, model.StatusGeneratingThreats)
		}
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	gen := &fakeGenerator{failures: []error{context.DeadlineExceeded}}
	fx := newFixture(t, gen, fastConfig(),
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	if err := fx.runner.Run(context.Background(), Request{DiagramID: "d1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 6 tasks plus one retry for the task that hit the deadline.
	if gen.callCount() != 7 {
		t.Fatalf("generator called %d times, want 7", gen.callCount())
	}
	component, err := fx.repo.GetComponent(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if len(component.Threats) != 6 {
		t.Fatalf("got %d threats, want 6", len(component.Threats))
	}
}

func TestRunSwallowsFatalTaskFailures(t *testing.T) {
	fatal := errors.New("schema validation failed")
	gen := &fakeGenerator{failures: []error{fatal, fatal, fatal, fatal, fatal, fatal}}
	fx := newFixture(t, gen, fastConfig(),
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	if err := fx.runner.Run(context.Background(), Request{DiagramID: "d1"}); err != nil {
		t.Fatalf("Run should not fail on task errors: %v", err)
	}
	diagram, err := fx.repo.GetDiagram(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDiagram: %v", err)
	}
	if diagram.Status != model.StatusThreatsGenerated {
		t.Fatalf("status = %s, want %s", diagram.Status, model.StatusThreatsGenerated)
	}
	component, err := fx.repo.GetComponent(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if len(component.Threats) != 0 {
		t.Fatalf("got %d threats, want 0", len(component.Threats))
	}
}

func TestRunRejectsConcurrentGeneration(t *testing.T) {
	cfg := fastConfig()
	cfg.RejectConcurrent = true
	gen := &fakeGenerator{}
	fx := newFixture(t, gen, cfg,
		model.Component{ID: "c1", DiagramID: "d1", Type: model.ComponentProcess, Name: "API"})

	ctx := context.Background()
	diagram, err := fx.repo.GetDiagram(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDiagram: %v", err)
	}
	diagram.Status = model.StatusGeneratingThreats
	if err := fx.repo.SaveDiagram(ctx, diagram); err != nil {
		t.Fatalf("SaveDiagram: %v", err)
	}

	err = fx.runner.Run(ctx, Request{DiagramID: "d1"})
	if !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("error = %v, want ErrGenerationInProgress", err)
	}
	if gen.callCount() != 0 {
		t.Fatalf("generator called %d times, want 0", gen.callCount())
	}
}

func TestRunMissingDiagram(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen, fastConfig())
	err := fx.runner.Run(context.Background(), Request{DiagramID: "nope"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
