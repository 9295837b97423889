package handler

import (
	"context"

	"github.com/corale/relay/internal/adapter/llm"
	"github.com/corale/relay/internal/domain"
)

const reportSystemPrompt = `You are a report writer. Produce a JSON object:
{"title": "<title>", "summary": "<one paragraph>", "sections": ["<section>", ...]}
If the request needs numerical analysis you cannot do yourself, add
"delegate_to": "data_analysis_agent" to the object instead of guessing.`

// ReportCapability is the default declaration for the report handler.
func ReportCapability() domain.Capability {
	return domain.Capability{
		Name:         "report_agent",
		Description:  "Writes structured reports and summaries of documents or findings.",
		TriggerTerms: []string{"report", "summary", "summarize"},
		Enabled:      true,
	}
}

// Report writes structured reports, delegating numerical work to the
// analysis domain when the model asks for it.
type Report struct {
	cap   domain.Capability
	model llm.ModelClient
	name  string
}

// NewReport creates the report handler.
func NewReport(cap domain.Capability, model llm.ModelClient, modelName string) *Report {
	return &Report{cap: cap, model: model, name: modelName}
}

// Execute produces one report turn.
func (h *Report) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	messages := []llm.ChatMessage{{Role: "system", Content: reportSystemPrompt}}
	for _, turn := range req.History {
		messages = append(messages, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.InputText})

	resp, err := h.model.Complete(ctx, &llm.CompletionRequest{
		Model:          h.name,
		Messages:       messages,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	output := parseStructured(resp.Text())

	result := &domain.HandlerResult{Output: output}
	if delegate, ok := output["delegate_to"].(string); ok && delegate != "" && delegate != h.cap.Name {
		result.DelegateTo = delegate
		delete(output, "delegate_to")
	}
	if resp.Usage != nil {
		result.Usage = domain.Usage{
			InputUnits:  resp.Usage.PromptTokens,
			OutputUnits: resp.Usage.CompletionTokens,
		}
	}
	return result, nil
}
