// Package repository defines the storage contract for the threat model
// aggregate. The aggregate is stored denormalized: one collection per entity
// type, each keyed by id, with an owner-reference index backing "children of
// parent" queries. Owner references are soft: writes do not verify that the
// referenced owner exists. The only referential-integrity check is the
// delete guard on components.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aversant/threatcanvas/internal/model"
)

// ErrNotFound reports that a requested entity does not exist. It is distinct
// from a StoreError: absence is surfaced to the caller and never retried.
var ErrNotFound = errors.New("not found")

// StoreError wraps a low-level fault from the underlying store (capacity,
// transient I/O). Callers may retry at their own granularity.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// DeleteBlockedError reports a component delete rejected because the
// component still owns threats. It carries the full set of blocking ids so
// the caller can present them.
type DeleteBlockedError struct {
	ComponentID string
	ThreatIDs   []string
}

func (e *DeleteBlockedError) Error() string {
	labels := make([]string, 0, len(e.ThreatIDs))
	for _, id := range e.ThreatIDs {
		labels = append(labels, "Threat "+id)
	}
	return fmt.Sprintf("component %s has threats associated: %s", e.ComponentID, strings.Join(labels, " | "))
}

// ThreatModelRepository persists and reconstructs the aggregate.
//
// The Get family assembles trees level by level through the owner indexes;
// this is a deliberate N+1 fan-out (low idle cost over read latency). The
// Save family upserts single rows and never recurses into children; the
// plural forms iterate and are not atomic, so a failure partway through
// leaves a partial write.
type ThreatModelRepository interface {
	Get(ctx context.Context, threatModelID string) (model.ThreatModel, error)
	GetDiagram(ctx context.Context, diagramID string) (model.Diagram, error)
	GetComponent(ctx context.Context, componentID string) (model.Component, error)
	GetThreat(ctx context.Context, threatID string) (model.Threat, error)

	// ListDiagrams scans the diagram collection. It does not populate
	// components; callers needing the full tree must use GetDiagram.
	ListDiagrams(ctx context.Context) ([]model.Diagram, error)

	Save(ctx context.Context, threatModel model.ThreatModel) error
	SaveDiagram(ctx context.Context, diagram model.Diagram) error
	SaveDiagrams(ctx context.Context, diagrams []model.Diagram) error
	SaveComponent(ctx context.Context, component model.Component) error
	SaveComponents(ctx context.Context, components []model.Component) error
	SaveThreat(ctx context.Context, threat model.Threat) error
	SaveThreats(ctx context.Context, threats []model.Threat) error

	// DeleteComponent fails with a DeleteBlockedError while the component
	// owns any threats. DeleteThreat is unconditional.
	DeleteComponent(ctx context.Context, componentID string) error
	DeleteThreat(ctx context.Context, threatID string) error
}
