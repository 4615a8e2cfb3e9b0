// Package audit persists a per-task snapshot of generated threats so runs
// can be inspected after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/model"
	"github.com/aversant/threatcanvas/internal/objectstore"
)

const keyPrefix = "db/threats"

// Recorder writes one JSON document per generation task. Recording is
// best-effort: failures are logged and never affect the pipeline.
type Recorder struct {
	store objectstore.Store
}

func NewRecorder(store objectstore.Store) *Recorder {
	return &Recorder{store: store}
}

// record mirrors the denormalized shape of a single-component diagram slice.
type record struct {
	DiagramID   string              `json:"diagramId"`
	ComponentID string              `json:"componentId"`
	Category    model.StrideType    `json:"threatType"`
	Component   model.Component     `json:"component"`
	Threats     []model.Threat      `json:"threats"`
	Type        model.ComponentType `json:"componentType"`
}

// Record stores the outcome of one (component, category) task under a
// deterministic key so reruns overwrite their previous snapshot.
func (r *Recorder) Record(ctx context.Context, diagramID string, component model.Component, category model.StrideType, threats []model.Threat) {
	if r == nil || r.store == nil {
		return
	}
	key := fmt.Sprintf("%s/%s-%s-%s-%s.jsonl", keyPrefix, diagramID, component.ID, category, component.Type)
	doc := record{
		DiagramID:   diagramID,
		ComponentID: component.ID,
		Category:    category,
		Component:   component,
		Threats:     threats,
		Type:        component.Type,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		common.Logger().Warn("audit: encode record failed", "key", key, "error", err)
		return
	}
	data = append(data, '\n')
	if err := r.store.Put(ctx, key, data); err != nil {
		common.Logger().Warn("audit: store record failed", "key", key, "error", err)
	}
}
