package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/corale/relay/internal/adapter/llm"
	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/registry"
)

const semanticSystemPrompt = `You are an intent classifier for a request router.
Given a user request and a list of capabilities, pick the single best
capability. Respond with a JSON object:
{"name": "<capability name>", "confidence": <0..1>, "reason": "<short reason>"}`

// SemanticRouter classifies intent with the language-model capability.
// This is the expensive path and must only be invoked when the rule
// router found no match.
type SemanticRouter struct {
	registry *registry.Registry
	client   llm.ModelClient
	model    string
	logger   *zap.Logger
}

// NewSemanticRouter creates a semantic router.
func NewSemanticRouter(reg *registry.Registry, client llm.ModelClient, model string, logger *zap.Logger) *SemanticRouter {
	return &SemanticRouter{
		registry: reg,
		client:   client,
		model:    model,
		logger:   logger,
	}
}

// Classification is the structured output contract of the classifier.
type Classification struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Route classifies the request against the enabled capabilities and
// returns the chosen name verbatim. The coordinator validates the name
// against the registry; an unknown answer is treated as a miss there.
func (r *SemanticRouter) Route(ctx context.Context, req *domain.Request) (string, error) {
	var sb strings.Builder
	for _, cap := range r.registry.All() {
		fmt.Fprintf(&sb, "- %s: %s\n", cap.Name, cap.Description)
	}

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model: r.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: semanticSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Capabilities:\n%s\nRequest: %s", sb.String(), req.InputText)},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("semantic classification failed: %w", err)
	}

	var c Classification
	if err := json.Unmarshal([]byte(resp.Text()), &c); err != nil {
		return "", fmt.Errorf("failed to parse classification: %w", err)
	}

	r.logger.Debug("semantic route",
		zap.String("name", c.Name),
		zap.Float64("confidence", c.Confidence),
		zap.String("reason", c.Reason))

	return c.Name, nil
}
