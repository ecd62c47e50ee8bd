package engine

import "context"

// Provider is the interface for communicating with an LLM. Concrete
// implementations live in subpackages (e.g. engine/anthropic).
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
