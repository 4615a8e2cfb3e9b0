package inference

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aversant/threatcanvas/internal/model"
)

const extractorSystemPrompt = "You are a security specialist. Considering the architecture diagram image and its " +
	"provided description, describe in detail a Data Flow Diagram that will be used for a Threat Model exercise. " +
	"Focus on extracting the component types (Processes, Data Stores, Data Flows, Actors, Trust Boundaries and " +
	"External Entities). Don't represent the data flow graphically."

// ExtractDFD pulls the Data Flow Diagram components out of a diagram image
// and its previously generated description.
func (g *Gateway) ExtractDFD(ctx context.Context, image []byte, diagramDescription string) (model.DFD, error) {
	message := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			imagePart(image),
			textPart(diagramDescription),
		},
	}
	var dfd model.DFD
	if err := g.callTool(ctx, extractorSystemPrompt, []openai.ChatCompletionMessage{message}, dfdTool, &dfd); err != nil {
		return model.DFD{}, err
	}
	if err := dfd.Validate(); err != nil {
		return model.DFD{}, fmt.Errorf("model call %s: %w: %v", dfdTool.name, ErrNoStructuredOutput, err)
	}
	return dfd, nil
}
