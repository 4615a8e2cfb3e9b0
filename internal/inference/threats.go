package inference

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aversant/threatcanvas/internal/model"
)

const threatsSystemPrompt = "You are a Security Specialist, constructing a Threat Model for an application. " +
	"The user will request STRIDE threats for a specific component of the application. " +
	"You should provide an exhaustive list of %s threats that may affect this component. " +
	"Please err on the side of caution, the user will have a chance to mark threats as false positive.\n" +
	"You will be given the image of the diagram, and the overall description of the architecture as a Data " +
	"Flow Diagram to help in your assessment, but remember to focus on the specific component the user has " +
	"presented you."

// GenerateThreats elicits threats of one STRIDE category for one component.
// Each extra iteration asks the model for additional threats in a follow-up
// turn; results are concatenated without deduplication.
func (g *Gateway) GenerateThreats(ctx context.Context, image []byte, diagramDescription string, component model.Component, category model.StrideType, iterations int) (model.ThreatList, error) {
	if iterations < 1 {
		iterations = 1
	}
	system := fmt.Sprintf(threatsSystemPrompt, category)

	request := fmt.Sprintf("%s\n\nPlease give me an exhaustive list of %s threats that may affect this component:\n\n%s\n",
		diagramDescription, category, component.String())
	userMessage := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			imagePart(image),
			textPart(request),
		},
	}

	var threats model.ThreatList
	if err := g.callTool(ctx, system, []openai.ChatCompletionMessage{userMessage}, threatsTool, &threats); err != nil {
		return model.ThreatList{}, err
	}
	if err := threats.Validate(); err != nil {
		return model.ThreatList{}, fmt.Errorf("model call %s: %w: %v", threatsTool.name, ErrNoStructuredOutput, err)
	}

	for turn := 1; turn < iterations; turn++ {
		messages := []openai.ChatCompletionMessage{
			userMessage,
			{
				Role: openai.ChatMessageRoleAssistant,
				Content: fmt.Sprintf("These are some potential %s threats:\n\n%s\n\nWould you like more threats?",
					category, threats),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Yes, please provide additional threats. Don't repeat threats you've given me before.",
			},
		}
		var more model.ThreatList
		if err := g.callTool(ctx, system, messages, threatsTool, &more); err != nil {
			return model.ThreatList{}, err
		}
		if err := more.Validate(); err != nil {
			return model.ThreatList{}, fmt.Errorf("model call %s: %w: %v", threatsTool.name, ErrNoStructuredOutput, err)
		}
		threats.Threats = append(threats.Threats, more.Threats...)
	}
	return threats, nil
}
