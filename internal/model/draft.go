package model

import (
	"fmt"
	"strings"
)

// DraftThreat is a threat as produced by the inference service, before it is
// assigned an id and attached to a component.
type DraftThreat struct {
	Name        string     `json:"name"`
	Category    StrideType `json:"threatType"`
	Description string     `json:"description"`
	DREAD       DREADScore `json:"dreadScores"`
}

func (t DraftThreat) String() string {
	return fmt.Sprintf("Threat [%s]: %s - %s [DREAD Score: %s]", t.Category, t.Name, t.Description, t.DREAD)
}

// ThreatList is the structured output schema of a single elicitation call.
type ThreatList struct {
	Threats []DraftThreat `json:"threats"`
}

// String renders the list as a bulleted block, used when the previous turn's
// findings are echoed back to the model during iterative elicitation.
func (l ThreatList) String() string {
	lines := make([]string, 0, len(l.Threats))
	for _, t := range l.Threats {
		lines = append(lines, "- "+t.String())
	}
	return strings.Join(lines, "\n")
}

// Validate checks the category labels and score bounds of every draft.
func (l ThreatList) Validate() error {
	for i, t := range l.Threats {
		if !t.Category.Valid() {
			return fmt.Errorf("threat %d: unknown category %q", i, t.Category)
		}
		if err := t.DREAD.Validate(); err != nil {
			return fmt.Errorf("threat %d: %w", i, err)
		}
	}
	return nil
}

// DraftComponent is a component as extracted from a diagram, before it is
// assigned an id and attached to a diagram.
type DraftComponent struct {
	Type        ComponentType `json:"componentType"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
}

// DFD is the structured output schema of a component-extraction call.
type DFD struct {
	Components []DraftComponent `json:"components"`
}

// Validate checks the component type label of every draft.
func (d DFD) Validate() error {
	for i, c := range d.Components {
		if !c.Type.Valid() {
			return fmt.Errorf("component %d: unknown type %q", i, c.Type)
		}
	}
	return nil
}
