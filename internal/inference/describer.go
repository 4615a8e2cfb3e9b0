package inference

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/inference/fewshot"
)

const describerPrompt = `<threat-model>
Threat modeling is the process of using hypothetical scenarios, system diagrams, and testing to help secure systems and data. By identifying vulnerabilities, helping with risk assessment, and suggesting corrective action, threat modeling helps improve cybersecurity and trust in key business systems.
</threat-model>

<description-guidelines>
- The High Level description should be as detailed and exhaustive as possible
- Be very detailed and specific; Do not summarize or generalize
- Components should be detailed and should belong to any of the types: Actors, External Entities, Data Stores, Processes, Data Flows and Trust Boundaries
- If cannot find components of a certain type, list the type and indicate that no explicit components were found
- For each component, extract its name, description, component type, and how it interacts in the diagram
- Pay special attention to data flows. List all possible data flows, including those that might seem minor or implicit. Each flow should have a clear source, destination, and description of what is being transferred
- For each component, provide a detailed description of its possible function, its interactions with other components, and any potential security implications
- When describing dataflow indicate the type of component each one is eg. From External entity "A" to process "B"
- Trust boundaries should specify trust relation between components eg. Between external entity "A" and datastore "C". Explain the significance of each boundary in terms of security and data protection
- Carefully identify and describe all trust boundaries, including implicit ones.
- Use the exact names of components as they appear in the diagram. If abbreviations or technical terms are used, try to explain them
- Present your description in a structured, numbered format for easy reference during the threat modeling process
</description-guidelines>

<user_description>{user_description}</user_description>

You are a security expert at an IT Security Office of an important company.
You are assigned the initial stage of the security process, this stage consist of creating an initial version of a threat model from
architectural diagrams of the company applications. You can find a definition of a threat model at <threat-model>

Your task is to write a detailed description of the architecture diagram provided, <user_description> might be provided in some cases where the user can provide additional contex of the diagram to assess.
If available, use the user description <user_description> to enrich your results for each section.
The description you write needs to capture every single component type (which can be any of Actors, External Entities, Data Stores, Processes, Data Flows and Trust Boundaries), get its name and how each component interconnects.

Gather as much detail as possible, your results will later be used to create a data flow diagram for a threat model.

You will be provided with examples below that you should follow to format your response.`

const describerOperation = "diagram_describer"

// DescribeDiagram writes a detailed prose description of an architecture
// diagram, steered by few-shot image and description pairs from the example
// store. At least one example pair is required.
func (g *Gateway) DescribeDiagram(ctx context.Context, examples *fewshot.Retriever, image []byte, userDescription string) (string, error) {
	pairs, err := examples.OperationExamples(ctx, describerOperation)
	if err != nil {
		return "", fmt.Errorf("load describer examples: %w", err)
	}
	if len(pairs) == 0 {
		return "", fmt.Errorf("no describer examples available")
	}
	common.Logger().Debug("inference: describer examples loaded", "count", len(pairs))

	system := describerPrompt
	if strings.TrimSpace(userDescription) == "" {
		system = strings.Replace(system, "<user_description>{user_description}</user_description>", "", 1)
	} else {
		system = strings.Replace(system, "{user_description}", userDescription, 1)
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2*len(pairs)+1)
	for _, pair := range pairs {
		messages = append(messages,
			openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{imagePart(pair.Image)},
			},
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: pair.Description,
			},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{imagePart(image)},
	})

	return g.completeText(ctx, system, messages)
}
