package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/adapter/llm"
	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/tools"
)

const analysisSystemPrompt = `You are a data analyst. Given aggregate
statistics, explain what they show in one short paragraph.`

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// AnalysisCapability is the default declaration for the analysis handler.
func AnalysisCapability() domain.Capability {
	return domain.Capability{
		Name:         "data_analysis_agent",
		Description:  "Aggregates numeric data and explains the resulting statistics.",
		TriggerTerms: []string{"analyze", "analysis", "aggregate"},
		Enabled:      true,
		AllowedTools: []string{"table.aggregate", "report.export", "clock.now"},
	}
}

// Analysis aggregates numbers found in the request, optionally exports
// the result behind a human approval, and narrates the statistics.
type Analysis struct {
	cap         domain.Capability
	model       llm.ModelClient
	name        string
	tools       *tools.Scoped
	checkpoints CheckpointStore
	gate        ApprovalGate
	logger      *zap.Logger
}

// NewAnalysis creates the analysis handler.
func NewAnalysis(cap domain.Capability, model llm.ModelClient, modelName string, scoped *tools.Scoped, checkpoints CheckpointStore, gate ApprovalGate, logger *zap.Logger) *Analysis {
	return &Analysis{
		cap:         cap,
		model:       model,
		name:        modelName,
		tools:       scoped,
		checkpoints: checkpoints,
		gate:        gate,
		logger:      logger,
	}
}

// Execute runs one analysis turn. Checkpoints bracket the tool and
// approval steps so an interrupted run can resume rather than restart;
// a checkpoint is committed only after its step fully completed.
func (h *Analysis) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	values := extractNumbers(req.InputText)
	output := map[string]any{}
	var usage domain.Usage

	if len(values) > 0 {
		h.checkpoint(ctx, req, map[string]any{"step": "aggregate", "values": values})

		args, _ := json.Marshal(map[string]any{"values": values})
		stats, err := h.tools.Execute(ctx, "table.aggregate", args)
		if err != nil {
			return nil, fmt.Errorf("aggregation failed: %w", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(stats, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode aggregation result: %w", err)
		}
		output["statistics"] = decoded

		h.checkpoint(ctx, req, map[string]any{"step": "aggregate_done", "statistics": decoded})
	}

	if wantsExport(req) {
		h.checkpoint(ctx, req, map[string]any{"step": "export_pending"})

		action, _ := json.Marshal(map[string]any{"tool": "report.export", "statistics": output["statistics"]})
		approved, err := h.gate.RequestApproval(ctx, req.ConversationID, h.cap.Name, action, req.UserID, 0)
		switch {
		case approved:
			result, execErr := h.tools.Execute(ctx, "report.export", []byte(`{"destination":"warehouse"}`))
			if execErr != nil {
				return nil, fmt.Errorf("export failed: %w", execErr)
			}
			var decoded map[string]any
			if json.Unmarshal(result, &decoded) == nil {
				output["export"] = decoded
			}
		case errors.Is(err, domain.ErrApprovalTimeout):
			// Degraded but completed: the analysis stands, the export
			// did not happen.
			output["export_declined"] = "approval timed out"
		case err != nil:
			return nil, fmt.Errorf("approval request failed: %w", err)
		default:
			output["export_declined"] = "approval rejected"
		}
	}

	narrative, err := h.narrate(ctx, req, output)
	if err != nil {
		return nil, err
	}
	output["narrative"] = narrative.text
	usage.InputUnits += narrative.inputUnits
	usage.OutputUnits += narrative.outputUnits

	return &domain.HandlerResult{Output: output, Usage: usage}, nil
}

type narration struct {
	text        string
	inputUnits  int
	outputUnits int
}

func (h *Analysis) narrate(ctx context.Context, req domain.Request, output map[string]any) (*narration, error) {
	statsJSON, _ := json.Marshal(output["statistics"])
	resp, err := h.model.Complete(ctx, &llm.CompletionRequest{
		Model: h.name,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Request: %s\nStatistics: %s", req.InputText, statsJSON)},
		},
	})
	if err != nil {
		return nil, err
	}
	n := &narration{text: resp.Text()}
	if resp.Usage != nil {
		n.inputUnits = resp.Usage.PromptTokens
		n.outputUnits = resp.Usage.CompletionTokens
	}
	return n, nil
}

// checkpoint commits an open checkpoint. The originating request fields
// ride along so a restart can replay the turn from here.
func (h *Analysis) checkpoint(ctx context.Context, req domain.Request, state map[string]any) {
	state["input_text"] = req.InputText
	state["session_id"] = req.SessionID
	state["user_id"] = req.UserID

	blob, err := json.Marshal(state)
	if err != nil {
		return
	}
	cp := &domain.Checkpoint{
		ID:             "cp_" + uuid.New().String()[:8],
		ConversationID: req.ConversationID,
		HandlerName:    h.cap.Name,
		State:          blob,
		IsComplete:     false,
		CreatedAt:      time.Now(),
	}
	if err := h.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		h.logger.Warn("failed to save checkpoint", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
}

func extractNumbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			values = append(values, v)
		}
	}
	return values
}

func wantsExport(req domain.Request) bool {
	if v, ok := req.Attributes["export"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
