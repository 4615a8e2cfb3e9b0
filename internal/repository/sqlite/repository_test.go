package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/repository"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "threatcanvas.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRepository(store)
}

func sampleTree() model.ThreatModel {
	threat := model.Threat{
		ID:          "t1",
		ComponentID: "c1",
		Name:        "Credential replay",
		Category:    model.StrideSpoofing,
		Description: "An attacker replays captured credentials against the API.",
		DREAD:       model.DREADScore{Damage: 7, Reproducibility: 6, Exploitability: 5, AffectedUsers: 8, Discoverability: 4},
		Action:      model.DefaultThreatAction,
	}
	component := model.Component{
		ID:          "c1",
		DiagramID:   "d1",
		Type:        model.ComponentDataStore,
		Name:        "Orders table",
		Description: "Relational store holding orders",
		Threats:     []model.Threat{threat},
	}
	diagram := model.Diagram{
		ID:            "d1",
		ThreatModelID: "tm1",
		ImageRef:      "diagrams/tm1.png",
		Description:   "A web app writing to a relational store",
		Status:        model.StatusNA,
		Components:    []model.Component{component},
	}
	return model.ThreatModel{ID: "tm1", Diagrams: []model.Diagram{diagram}}
}

func saveTree(t *testing.T, repo *Repository, tree model.ThreatModel) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Save(ctx, tree); err != nil {
		t.Fatalf("save threat model: %v", err)
	}
	if err := repo.SaveDiagrams(ctx, tree.Diagrams); err != nil {
		t.Fatalf("save diagrams: %v", err)
	}
	for _, diagram := range tree.Diagrams {
		if err := repo.SaveComponents(ctx, diagram.Components); err != nil {
			t.Fatalf("save components: %v", err)
		}
		for _, component := range diagram.Components {
			if err := repo.SaveThreats(ctx, component.Threats); err != nil {
				t.Fatalf("save threats: %v", err)
			}
		}
	}
}

func TestTreeRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	tree := sampleTree()
	saveTree(t, repo, tree)

	got, err := repo.Get(context.Background(), "tm1")
	if err != nil {
		t.Fatalf("get threat model: %v", err)
	}
	if !reflect.DeepEqual(got, tree) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tree)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for threat model, got %v", err)
	}
	if _, err := repo.GetDiagram(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for diagram, got %v", err)
	}
	if _, err := repo.GetComponent(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for component, got %v", err)
	}
	if _, err := repo.GetThreat(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for threat, got %v", err)
	}
}

func TestDeleteComponentBlockedByThreats(t *testing.T) {
	repo := newTestRepository(t)
	saveTree(t, repo, sampleTree())
	ctx := context.Background()

	err := repo.DeleteComponent(ctx, "c1")
	var blocked *repository.DeleteBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected DeleteBlockedError, got %v", err)
	}
	if !reflect.DeepEqual(blocked.ThreatIDs, []string{"t1"}) {
		t.Fatalf("unexpected blocking ids: %v", blocked.ThreatIDs)
	}

	// The component must remain retrievable after the failed delete.
	if _, err := repo.GetComponent(ctx, "c1"); err != nil {
		t.Fatalf("component should survive blocked delete: %v", err)
	}
}

func TestDeleteComponentSucceedsWhenThreatFree(t *testing.T) {
	repo := newTestRepository(t)
	saveTree(t, repo, sampleTree())
	ctx := context.Background()

	if err := repo.DeleteThreat(ctx, "t1"); err != nil {
		t.Fatalf("delete threat: %v", err)
	}
	if err := repo.DeleteComponent(ctx, "c1"); err != nil {
		t.Fatalf("delete component: %v", err)
	}
	if _, err := repo.GetComponent(ctx, "c1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteMissingComponent(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.DeleteComponent(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDiagramsDoesNotPopulateComponents(t *testing.T) {
	repo := newTestRepository(t)
	saveTree(t, repo, sampleTree())

	diagrams, err := repo.ListDiagrams(context.Background())
	if err != nil {
		t.Fatalf("list diagrams: %v", err)
	}
	if len(diagrams) != 1 {
		t.Fatalf("expected one diagram, got %d", len(diagrams))
	}
	if diagrams[0].ID != "d1" {
		t.Fatalf("unexpected diagram id %q", diagrams[0].ID)
	}
	if len(diagrams[0].Components) != 0 {
		t.Fatalf("list must not populate components, got %d", len(diagrams[0].Components))
	}
}

func TestSaveDiagramUpsertsByID(t *testing.T) {
	repo := newTestRepository(t)
	tree := sampleTree()
	saveTree(t, repo, tree)
	ctx := context.Background()

	updated := tree.Diagrams[0]
	updated.Status = model.StatusGeneratingThreats
	updated.Description = "revised description"
	updated.Components = nil
	if err := repo.SaveDiagram(ctx, updated); err != nil {
		t.Fatalf("save diagram: %v", err)
	}

	got, err := repo.GetDiagram(ctx, "d1")
	if err != nil {
		t.Fatalf("get diagram: %v", err)
	}
	if got.Status != model.StatusGeneratingThreats {
		t.Fatalf("expected updated status, got %q", got.Status)
	}
	if got.Description != "revised description" {
		t.Fatalf("expected updated description, got %q", got.Description)
	}
	// Children are stored in their own collection and must survive a parent
	// row replacement.
	if len(got.Components) != 1 {
		t.Fatalf("expected component to survive diagram upsert, got %d", len(got.Components))
	}
}

func TestGetComponentIncludesThreats(t *testing.T) {
	repo := newTestRepository(t)
	saveTree(t, repo, sampleTree())

	component, err := repo.GetComponent(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get component: %v", err)
	}
	if len(component.Threats) != 1 || component.Threats[0].ID != "t1" {
		t.Fatalf("expected threat t1, got %+v", component.Threats)
	}
	if component.Threats[0].DREAD.Damage != 7 {
		t.Fatalf("unexpected dread damage %d", component.Threats[0].DREAD.Damage)
	}
}
