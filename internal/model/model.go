package model

import (
	"fmt"

	"github.com/google/uuid"
)

// StrideType is one of the six STRIDE threat classification labels. A single
// generation task targets exactly one of these for one component.
type StrideType string

const (
	StrideSpoofing              StrideType = "Spoofing"
	StrideTampering             StrideType = "Tampering"
	StrideRepudiation           StrideType = "Repudiation"
	StrideInformationDisclosure StrideType = "InformationDisclosure"
	StrideDenialOfService       StrideType = "DenialOfService"
	StrideElevationOfPrivileges StrideType = "ElevationOfPrivileges"
)

// AllStrideTypes returns the six categories in their canonical order.
func AllStrideTypes() []StrideType {
	return []StrideType{
		StrideSpoofing,
		StrideTampering,
		StrideRepudiation,
		StrideInformationDisclosure,
		StrideDenialOfService,
		StrideElevationOfPrivileges,
	}
}

// Valid reports whether the value is one of the six known categories.
func (s StrideType) Valid() bool {
	switch s {
	case StrideSpoofing, StrideTampering, StrideRepudiation,
		StrideInformationDisclosure, StrideDenialOfService, StrideElevationOfPrivileges:
		return true
	}
	return false
}

// ComponentType classifies a data-flow-diagram component.
type ComponentType string

const (
	ComponentProcess        ComponentType = "Process"
	ComponentDataStore      ComponentType = "DataStore"
	ComponentActor          ComponentType = "Actor"
	ComponentTrustBoundary  ComponentType = "TrustBoundary"
	ComponentDataFlow       ComponentType = "DataFlow"
	ComponentExternalEntity ComponentType = "ExternalEntity"
)

// Valid reports whether the value is one of the six known component types.
func (c ComponentType) Valid() bool {
	switch c {
	case ComponentProcess, ComponentDataStore, ComponentActor,
		ComponentTrustBoundary, ComponentDataFlow, ComponentExternalEntity:
		return true
	}
	return false
}

// SkipsGeneration reports whether components of this type are excluded from
// threat generation. TrustBoundary and DataFlow threats are redundant with
// the threats generated for processes, actors and data stores.
func (c ComponentType) SkipsGeneration() bool {
	return c == ComponentTrustBoundary || c == ComponentDataFlow
}

// DiagramStatus tracks the generation lifecycle of a diagram. Transitions
// only move forward: NA -> GENERATING_THREATS -> THREATS_GENERATED.
type DiagramStatus string

const (
	StatusNA                DiagramStatus = "NA"
	StatusGeneratingThreats DiagramStatus = "GENERATING_THREATS"
	StatusThreatsGenerated  DiagramStatus = "THREATS_GENERATED"
)

// DREADScore is a five-dimension risk scoring vector, each dimension bounded
// 1 to 10. It is a value object carried inside a Threat, never addressed on
// its own.
type DREADScore struct {
	Damage          int `json:"damage"`
	Reproducibility int `json:"reproducibility"`
	Exploitability  int `json:"exploitability"`
	AffectedUsers   int `json:"affectedUsers"`
	Discoverability int `json:"discoverability"`
}

// Validate checks that every dimension is within the 1..10 bound.
func (d DREADScore) Validate() error {
	dims := []struct {
		name  string
		value int
	}{
		{"damage", d.Damage},
		{"reproducibility", d.Reproducibility},
		{"exploitability", d.Exploitability},
		{"affectedUsers", d.AffectedUsers},
		{"discoverability", d.Discoverability},
	}
	for _, dim := range dims {
		if dim.value < 1 || dim.value > 10 {
			return fmt.Errorf("dread score %s out of range: %d", dim.name, dim.value)
		}
	}
	return nil
}

func (d DREADScore) String() string {
	return fmt.Sprintf("Damage: %d | Reproducibility: %d | Exploitability: %d | Affected users: %d | Discoverability: %d",
		d.Damage, d.Reproducibility, d.Exploitability, d.AffectedUsers, d.Discoverability)
}

// DefaultThreatAction is assigned to generated threats until a reviewer
// decides otherwise.
const DefaultThreatAction = "Mitigate"

// Threat is a single STRIDE-typed threat owned by a component. An empty
// Reason means the threat has not been evaluated by a human yet.
type Threat struct {
	ID          string     `json:"id"`
	ComponentID string     `json:"componentId"`
	Name        string     `json:"name"`
	Category    StrideType `json:"threatType"`
	Description string     `json:"description"`
	DREAD       DREADScore `json:"dreadScores"`
	Action      string     `json:"action"`
	Reason      string     `json:"reason"`
}

// NewThreat builds a Threat from a draft, assigning a fresh id and the
// default action.
func NewThreat(componentID string, draft DraftThreat) Threat {
	return Threat{
		ID:          uuid.NewString(),
		ComponentID: componentID,
		Name:        draft.Name,
		Category:    draft.Category,
		Description: draft.Description,
		DREAD:       draft.DREAD,
		Action:      DefaultThreatAction,
	}
}

// Component is a single data-flow-diagram component owned by a diagram.
type Component struct {
	ID          string        `json:"id"`
	DiagramID   string        `json:"diagramId"`
	Type        ComponentType `json:"componentType"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Threats     []Threat      `json:"threats,omitempty"`
}

// NewComponent builds a Component with a fresh id.
func NewComponent(diagramID string, componentType ComponentType, name, description string) Component {
	return Component{
		ID:          uuid.NewString(),
		DiagramID:   diagramID,
		Type:        componentType,
		Name:        name,
		Description: description,
	}
}

// String renders the component the way it is presented to the model inside
// elicitation prompts.
func (c Component) String() string {
	return fmt.Sprintf("Component type: %s, Name: %s, Description: %s", c.Type, c.Name, c.Description)
}

// Diagram is one architecture diagram within a threat model. ImageRef names
// the diagram image in the object store; Description is the generated
// data-flow description the extraction and elicitation calls build on.
type Diagram struct {
	ID              string        `json:"id"`
	ThreatModelID   string        `json:"threatModelId"`
	ImageRef        string        `json:"imageRef"`
	UserDescription string        `json:"userDescription"`
	Description     string        `json:"diagramDescription"`
	Status          DiagramStatus `json:"status"`
	Components      []Component   `json:"components,omitempty"`
}

// ThreatModel is the aggregate root. The schema supports many diagrams per
// model, although the service currently only ever populates one.
type ThreatModel struct {
	ID       string    `json:"id"`
	Diagrams []Diagram `json:"diagrams,omitempty"`
}
