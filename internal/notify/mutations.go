package notify

import (
	"context"

	"github.com/aversant/threatcanvas/internal/common"
)

// Mutation documents relayed on resolver and pipeline progress. Variables
// carry the freshly written entities so subscribers need no follow-up read.
const (
	DiagramDescriptionMutation = `
		mutation NotifyDiagramDescription($diagramId: ID!, $diagramDescription: String!) {
			notifyDiagramDescription(diagramId: $diagramId, diagramDescription: $diagramDescription) {
				diagramId
			}
		}`

	ComponentsMutation = `
		mutation NotifyComponents($diagramId: ID!, $components: [ComponentInput!]!) {
			notifyComponents(diagramId: $diagramId, components: $components) {
				diagramId
			}
		}`

	ThreatsMutation = `
		mutation NotifyThreats($diagramId: ID!, $componentId: ID!, $threats: [ThreatInput!]!) {
			notifyThreats(diagramId: $diagramId, componentId: $componentId, threats: $threats) {
				diagramId
			}
		}`

	AllThreatsGeneratedMutation = `
		mutation NotifyAllThreatsGenerated($diagramId: ID!, $status: String!) {
			notifyAllThreatsGenerated(diagramId: $diagramId, status: $status) {
				diagramId
			}
		}`

	errorMutation = `
		mutation NotifyError($message: String!) {
			notifyError(message: $message) {
				message
			}
		}`
)

// RetryableError marks a failure worth re-running the whole operation for.
// Callers schedule a retry when errors.As matches this type.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Resolver is any operation whose outcome should be relayed.
type Resolver[I, O any] func(ctx context.Context, in I) (O, error)

// Notified wraps a resolver with progress relaying and error policy. On
// success the mutation is sent with the variables built by vars; a nil
// variable map skips the send and relay failures are logged, never
// surfaced. A failure matching retryable comes back wrapped in
// RetryableError so the caller can re-run it. Any other failure is relayed
// as an error notification and swallowed, leaving the zero output.
func Notified[I, O any](relay *Relay, mutation string, retryable func(error) bool, vars func(in I, out O) map[string]any, resolver Resolver[I, O]) Resolver[I, O] {
	return func(ctx context.Context, in I) (O, error) {
		out, err := resolver(ctx, in)
		if err == nil {
			if v := vars(in, out); v != nil {
				if sendErr := relay.Send(ctx, mutation, v); sendErr != nil {
					common.Logger().Warn("notify: progress relay failed", "error", sendErr)
				}
			}
			return out, nil
		}
		if retryable != nil && retryable(err) {
			var zero O
			return zero, &RetryableError{Err: err}
		}
		common.Logger().Error("notify: operation failed", "error", err)
		if sendErr := relay.Send(ctx, errorMutation, map[string]any{"message": err.Error()}); sendErr != nil {
			common.Logger().Warn("notify: error relay failed", "error", sendErr)
		}
		var zero O
		return zero, nil
	}
}
