// Package handler implements the built-in domain handlers. Each handler
// owns a system prompt, an output shape and a bounded tool set for one
// domain, and satisfies the registry's Handler contract.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/corale/relay/internal/domain"
)

// CheckpointStore persists handler state around suspendable steps.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
}

// ApprovalGate suspends execution pending an external decision.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, conversationID, handlerName string, action json.RawMessage, requestedBy string, timeout time.Duration) (bool, error)
}

// parseStructured parses a model reply that should be a JSON object,
// falling back to a plain-text wrapper when the model ignored the
// contract.
func parseStructured(text string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil || m == nil {
		return map[string]any{"text": text}
	}
	return m
}
