package handler

import (
	"context"

	"github.com/corale/relay/internal/adapter/llm"
	"github.com/corale/relay/internal/domain"
)

const generalSystemPrompt = `You are a helpful general-purpose assistant.
Answer the user's request directly and concisely.`

// GeneralCapability is the default declaration for the general handler,
// which doubles as the routing fallback. It carries no trigger terms: it
// is only ever reached via fallback or semantic classification.
func GeneralCapability() domain.Capability {
	return domain.Capability{
		Name:        "general_agent",
		Description: "General-purpose assistant for requests that fit no specialist domain.",
		Enabled:     true,
	}
}

// General answers requests that no specialist claims.
type General struct {
	cap   domain.Capability
	model llm.ModelClient
	name  string
}

// NewGeneral creates the general handler.
func NewGeneral(cap domain.Capability, model llm.ModelClient, modelName string) *General {
	return &General{cap: cap, model: model, name: modelName}
}

// Execute runs one conversational turn through the model.
func (h *General) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	messages := []llm.ChatMessage{{Role: "system", Content: generalSystemPrompt}}
	for _, turn := range req.History {
		messages = append(messages, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.InputText})

	resp, err := h.model.Complete(ctx, &llm.CompletionRequest{
		Model:    h.name,
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.HandlerResult{
		Output: map[string]any{"text": resp.Text()},
	}
	if resp.Usage != nil {
		result.Usage = domain.Usage{
			InputUnits:  resp.Usage.PromptTokens,
			OutputUnits: resp.Usage.CompletionTokens,
		}
	}
	return result, nil
}
