package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/repository"
)

// Repository implements repository.ThreatModelRepository over the four
// SQLite collections. Tree reads walk the owner indexes level by level;
// writes are single-row upserts keyed by id.
type Repository struct {
	store *Store
}

var _ repository.ThreatModelRepository = (*Repository)(nil)

// NewRepository wraps an open Store.
func NewRepository(store *Store) *Repository {
	return &Repository{store: store}
}

type threatModelRow struct {
	ID string `db:"id"`
}

type diagramRow struct {
	ID                 string `db:"id"`
	ThreatModelID      string `db:"threat_model_id"`
	ImageRef           string `db:"image_ref"`
	UserDescription    string `db:"user_description"`
	DiagramDescription string `db:"diagram_description"`
	Status             string `db:"status"`
}

type componentRow struct {
	ID            string `db:"id"`
	DiagramID     string `db:"diagram_id"`
	ComponentType string `db:"component_type"`
	Name          string `db:"name"`
	Description   string `db:"description"`
}

type threatRow struct {
	ID              string `db:"id"`
	ComponentID     string `db:"component_id"`
	Name            string `db:"name"`
	StrideType      string `db:"stride_type"`
	Description     string `db:"description"`
	Damage          int    `db:"damage"`
	Reproducibility int    `db:"reproducibility"`
	Exploitability  int    `db:"exploitability"`
	AffectedUsers   int    `db:"affected_users"`
	Discoverability int    `db:"discoverability"`
	Action          string `db:"action"`
	Reason          string `db:"reason"`
}

func (r diagramRow) toModel() model.Diagram {
	return model.Diagram{
		ID:              r.ID,
		ThreatModelID:   r.ThreatModelID,
		ImageRef:        r.ImageRef,
		UserDescription: r.UserDescription,
		Description:     r.DiagramDescription,
		Status:          model.DiagramStatus(r.Status),
	}
}

func (r componentRow) toModel() model.Component {
	return model.Component{
		ID:          r.ID,
		DiagramID:   r.DiagramID,
		Type:        model.ComponentType(r.ComponentType),
		Name:        r.Name,
		Description: r.Description,
	}
}

func (r threatRow) toModel() model.Threat {
	return model.Threat{
		ID:          r.ID,
		ComponentID: r.ComponentID,
		Name:        r.Name,
		Category:    model.StrideType(r.StrideType),
		Description: r.Description,
		DREAD: model.DREADScore{
			Damage:          r.Damage,
			Reproducibility: r.Reproducibility,
			Exploitability:  r.Exploitability,
			AffectedUsers:   r.AffectedUsers,
			Discoverability: r.Discoverability,
		},
		Action: r.Action,
		Reason: r.Reason,
	}
}

// listByOwner runs one owner-index range query. The same traversal serves
// every level of the tree; only the row type and query differ.
func listByOwner[T any](ctx context.Context, db *sqlx.DB, op, query, ownerID string) ([]T, error) {
	var rows []T
	if err := db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, &repository.StoreError{Op: op, Err: err}
	}
	return rows, nil
}

const (
	diagramsByThreatModelQuery = `SELECT id, threat_model_id, image_ref, user_description, diagram_description, status
                FROM diagrams WHERE threat_model_id = ? ORDER BY id`
	componentsByDiagramQuery = `SELECT id, diagram_id, component_type, name, description
                FROM components WHERE diagram_id = ? ORDER BY id`
	threatsByComponentQuery = `SELECT id, component_id, name, stride_type, description,
                damage, reproducibility, exploitability, affected_users, discoverability, action, reason
                FROM threats WHERE component_id = ? ORDER BY id`
)

// Get assembles the full tree rooted at the threat model: one point read for
// the root, then one owner-index query per diagram and per component.
func (r *Repository) Get(ctx context.Context, threatModelID string) (model.ThreatModel, error) {
	var row threatModelRow
	err := r.store.db.GetContext(ctx, &row, `SELECT id FROM threat_models WHERE id = ?`, threatModelID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ThreatModel{}, fmt.Errorf("threat model %s: %w", threatModelID, repository.ErrNotFound)
	}
	if err != nil {
		return model.ThreatModel{}, &repository.StoreError{Op: "get threat model", Err: err}
	}

	diagramRows, err := listByOwner[diagramRow](ctx, r.store.db, "list diagrams", diagramsByThreatModelQuery, row.ID)
	if err != nil {
		return model.ThreatModel{}, err
	}
	diagrams := make([]model.Diagram, 0, len(diagramRows))
	for _, dr := range diagramRows {
		diagram, err := r.assembleDiagram(ctx, dr)
		if err != nil {
			return model.ThreatModel{}, err
		}
		diagrams = append(diagrams, diagram)
	}
	return model.ThreatModel{ID: row.ID, Diagrams: diagrams}, nil
}

// GetDiagram assembles the tree rooted one level down.
func (r *Repository) GetDiagram(ctx context.Context, diagramID string) (model.Diagram, error) {
	var row diagramRow
	err := r.store.db.GetContext(ctx, &row,
		`SELECT id, threat_model_id, image_ref, user_description, diagram_description, status
                FROM diagrams WHERE id = ?`, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Diagram{}, fmt.Errorf("diagram %s: %w", diagramID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Diagram{}, &repository.StoreError{Op: "get diagram", Err: err}
	}
	return r.assembleDiagram(ctx, row)
}

func (r *Repository) assembleDiagram(ctx context.Context, row diagramRow) (model.Diagram, error) {
	componentRows, err := listByOwner[componentRow](ctx, r.store.db, "list components", componentsByDiagramQuery, row.ID)
	if err != nil {
		return model.Diagram{}, err
	}
	diagram := row.toModel()
	diagram.Components = make([]model.Component, 0, len(componentRows))
	for _, cr := range componentRows {
		component, err := r.assembleComponent(ctx, cr)
		if err != nil {
			return model.Diagram{}, err
		}
		diagram.Components = append(diagram.Components, component)
	}
	return diagram, nil
}

// GetComponent fetches a component and its owned threats.
func (r *Repository) GetComponent(ctx context.Context, componentID string) (model.Component, error) {
	var row componentRow
	err := r.store.db.GetContext(ctx, &row,
		`SELECT id, diagram_id, component_type, name, description FROM components WHERE id = ?`, componentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Component{}, fmt.Errorf("component %s: %w", componentID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Component{}, &repository.StoreError{Op: "get component", Err: err}
	}
	return r.assembleComponent(ctx, row)
}

func (r *Repository) assembleComponent(ctx context.Context, row componentRow) (model.Component, error) {
	threatRows, err := listByOwner[threatRow](ctx, r.store.db, "list threats", threatsByComponentQuery, row.ID)
	if err != nil {
		return model.Component{}, err
	}
	component := row.toModel()
	component.Threats = make([]model.Threat, 0, len(threatRows))
	for _, tr := range threatRows {
		component.Threats = append(component.Threats, tr.toModel())
	}
	return component, nil
}

// GetThreat is a direct point read.
func (r *Repository) GetThreat(ctx context.Context, threatID string) (model.Threat, error) {
	var row threatRow
	err := r.store.db.GetContext(ctx, &row,
		`SELECT id, component_id, name, stride_type, description,
                damage, reproducibility, exploitability, affected_users, discoverability, action, reason
                FROM threats WHERE id = ?`, threatID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Threat{}, fmt.Errorf("threat %s: %w", threatID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Threat{}, &repository.StoreError{Op: "get threat", Err: err}
	}
	return row.toModel(), nil
}

// ListDiagrams scans the diagram collection without populating components.
func (r *Repository) ListDiagrams(ctx context.Context) ([]model.Diagram, error) {
	var rows []diagramRow
	err := r.store.db.SelectContext(ctx, &rows,
		`SELECT id, threat_model_id, image_ref, user_description, diagram_description, status
                FROM diagrams ORDER BY id`)
	if err != nil {
		return nil, &repository.StoreError{Op: "scan diagrams", Err: err}
	}
	diagrams := make([]model.Diagram, 0, len(rows))
	for _, row := range rows {
		diagrams = append(diagrams, row.toModel())
	}
	return diagrams, nil
}

// Save upserts the root row. Diagrams are not saved recursively.
func (r *Repository) Save(ctx context.Context, threatModel model.ThreatModel) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO threat_models (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, threatModel.ID)
	if err != nil {
		return &repository.StoreError{Op: "save threat model", Err: err}
	}
	return nil
}

// SaveDiagram upserts one diagram row. Components are not saved recursively.
func (r *Repository) SaveDiagram(ctx context.Context, diagram model.Diagram) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO diagrams (id, threat_model_id, image_ref, user_description, diagram_description, status)
                VALUES (?, ?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET
                        threat_model_id = excluded.threat_model_id,
                        image_ref = excluded.image_ref,
                        user_description = excluded.user_description,
                        diagram_description = excluded.diagram_description,
                        status = excluded.status`,
		diagram.ID, diagram.ThreatModelID, diagram.ImageRef, diagram.UserDescription,
		diagram.Description, string(diagram.Status))
	if err != nil {
		return &repository.StoreError{Op: "save diagram", Err: err}
	}
	return nil
}

// SaveDiagrams iterates SaveDiagram; it is not atomic.
func (r *Repository) SaveDiagrams(ctx context.Context, diagrams []model.Diagram) error {
	for _, diagram := range diagrams {
		if err := r.SaveDiagram(ctx, diagram); err != nil {
			return err
		}
	}
	return nil
}

// SaveComponent upserts one component row. Threats are not saved
// recursively; each must be saved individually.
func (r *Repository) SaveComponent(ctx context.Context, component model.Component) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO components (id, diagram_id, component_type, name, description)
                VALUES (?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET
                        diagram_id = excluded.diagram_id,
                        component_type = excluded.component_type,
                        name = excluded.name,
                        description = excluded.description`,
		component.ID, component.DiagramID, string(component.Type), component.Name, component.Description)
	if err != nil {
		return &repository.StoreError{Op: "save component", Err: err}
	}
	return nil
}

// SaveComponents iterates SaveComponent; it is not atomic.
func (r *Repository) SaveComponents(ctx context.Context, components []model.Component) error {
	for _, component := range components {
		if err := r.SaveComponent(ctx, component); err != nil {
			return err
		}
	}
	return nil
}

// SaveThreat upserts one threat row.
func (r *Repository) SaveThreat(ctx context.Context, threat model.Threat) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO threats (id, component_id, name, stride_type, description,
                        damage, reproducibility, exploitability, affected_users, discoverability, action, reason)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET
                        component_id = excluded.component_id,
                        name = excluded.name,
                        stride_type = excluded.stride_type,
                        description = excluded.description,
                        damage = excluded.damage,
                        reproducibility = excluded.reproducibility,
                        exploitability = excluded.exploitability,
                        affected_users = excluded.affected_users,
                        discoverability = excluded.discoverability,
                        action = excluded.action,
                        reason = excluded.reason`,
		threat.ID, threat.ComponentID, threat.Name, string(threat.Category), threat.Description,
		threat.DREAD.Damage, threat.DREAD.Reproducibility, threat.DREAD.Exploitability,
		threat.DREAD.AffectedUsers, threat.DREAD.Discoverability, threat.Action, threat.Reason)
	if err != nil {
		return &repository.StoreError{Op: "save threat", Err: err}
	}
	return nil
}

// SaveThreats iterates SaveThreat; it is not atomic.
func (r *Repository) SaveThreats(ctx context.Context, threats []model.Threat) error {
	for _, threat := range threats {
		if err := r.SaveThreat(ctx, threat); err != nil {
			return err
		}
	}
	return nil
}

// DeleteComponent deletes the component row only when it owns no threats.
// Otherwise it fails with the full set of blocking threat ids and deletes
// nothing.
func (r *Repository) DeleteComponent(ctx context.Context, componentID string) error {
	component, err := r.GetComponent(ctx, componentID)
	if err != nil {
		return err
	}
	if len(component.Threats) > 0 {
		blocked := &repository.DeleteBlockedError{ComponentID: componentID}
		for _, threat := range component.Threats {
			blocked.ThreatIDs = append(blocked.ThreatIDs, threat.ID)
		}
		common.Logger().Warn("repository: component delete blocked",
			"component", componentID, "threats", len(blocked.ThreatIDs))
		return blocked
	}
	if _, err := r.store.db.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, componentID); err != nil {
		return &repository.StoreError{Op: "delete component", Err: err}
	}
	return nil
}

// DeleteThreat unconditionally deletes the threat row.
func (r *Repository) DeleteThreat(ctx context.Context, threatID string) error {
	if _, err := r.store.db.ExecContext(ctx, `DELETE FROM threats WHERE id = ?`, threatID); err != nil {
		return &repository.StoreError{Op: "delete threat", Err: err}
	}
	return nil
}
