// Package llm provides the language-model capability used by the semantic
// router and the domain handlers. The model is an opaque contract: a
// prompt goes in, structured output comes back.
package llm

import "context"

// ModelClient defines the language-model capability contract.
type ModelClient interface {
	// Complete sends a chat completion request and returns the full
	// response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Ensure Client implements ModelClient interface.
var _ ModelClient = (*Client)(nil)
