package inference

import (
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/aversant/threatcanvas/internal/model"
)

// toolSpec names a forced tool and the schema of its arguments.
type toolSpec struct {
	name        string
	description string
	parameters  jsonschema.Definition
}

func strideEnum() []string {
	values := make([]string, 0, len(model.AllStrideTypes()))
	for _, s := range model.AllStrideTypes() {
		values = append(values, string(s))
	}
	return values
}

var dreadDimension = jsonschema.Definition{
	Type:        jsonschema.Integer,
	Description: "Score from 1 (lowest) to 10 (highest).",
}

var threatsTool = toolSpec{
	name:        "Threats",
	description: "A list of STRIDE threats identified for a component of the architecture.",
	parameters: jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"threats": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"name": {
							Type:        jsonschema.String,
							Description: "Short name of the threat.",
						},
						"threatType": {
							Type:        jsonschema.String,
							Description: "STRIDE category of the threat.",
							Enum:        strideEnum(),
						},
						"description": {
							Type:        jsonschema.String,
							Description: "Detailed description of the threat and how it affects the component.",
						},
						"dreadScores": {
							Type:        jsonschema.Object,
							Description: "DREAD risk assessment scores for the threat.",
							Properties: map[string]jsonschema.Definition{
								"damage":          dreadDimension,
								"reproducibility": dreadDimension,
								"exploitability":  dreadDimension,
								"affectedUsers":   dreadDimension,
								"discoverability": dreadDimension,
							},
							Required: []string{"damage", "reproducibility", "exploitability", "affectedUsers", "discoverability"},
						},
					},
					Required: []string{"name", "threatType", "description", "dreadScores"},
				},
			},
		},
		Required: []string{"threats"},
	},
}

var dfdTool = toolSpec{
	name:        "DFD",
	description: "The Data Flow Diagram components extracted from an architecture diagram.",
	parameters: jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"components": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"componentType": {
							Type:        jsonschema.String,
							Description: "Kind of DFD element.",
							Enum: []string{
								string(model.ComponentActor),
								string(model.ComponentExternalEntity),
								string(model.ComponentDataStore),
								string(model.ComponentProcess),
								string(model.ComponentDataFlow),
								string(model.ComponentTrustBoundary),
							},
						},
						"name": {
							Type:        jsonschema.String,
							Description: "Name of the component as it appears in the diagram.",
						},
						"description": {
							Type:        jsonschema.String,
							Description: "What the component does and how it interacts with the rest of the diagram.",
						},
					},
					Required: []string{"componentType", "name", "description"},
				},
			},
		},
		Required: []string{"components"},
	},
}
