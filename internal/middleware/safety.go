package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/guardrail"
)

// GuardrailEngine evaluates text against the safety policy.
type GuardrailEngine interface {
	Evaluate(ctx context.Context, text, kind string) (string, []string, error)
}

// SafetyFilter is the outermost stage. It rejects unsafe input before any
// state is touched or any cost is incurred, and optionally scans the
// output. It is the only fail-closed stage.
type SafetyFilter struct {
	engine GuardrailEngine
	logger *zap.Logger
}

// NewSafetyFilter creates the safety filter stage.
func NewSafetyFilter(engine GuardrailEngine, logger *zap.Logger) *SafetyFilter {
	return &SafetyFilter{engine: engine, logger: logger}
}

func (f *SafetyFilter) Name() string { return "safety" }

// Wrap scans the input before the rest of the chain runs and the output
// after.
func (f *SafetyFilter) Wrap(capabilityName string, next Next) Next {
	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		decision, violations, err := f.engine.Evaluate(ctx, req.InputText, "input")
		if err != nil {
			return nil, fmt.Errorf("safety filter failed: %w", err)
		}
		if decision == guardrail.DecisionBlock {
			f.logger.Warn("guardrail blocked input",
				zap.String("capability", capabilityName),
				zap.Strings("violations", violations))
			return nil, &domain.GuardrailViolationError{Rule: firstViolation(violations), Reason: "input rejected by safety policy"}
		}

		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		if text := renderOutput(resp.Output); text != "" {
			decision, violations, err = f.engine.Evaluate(ctx, text, "output")
			if err != nil {
				return nil, fmt.Errorf("safety filter failed: %w", err)
			}
			if decision == guardrail.DecisionBlock {
				f.logger.Warn("guardrail blocked output",
					zap.String("capability", capabilityName),
					zap.Strings("violations", violations))
				return nil, &domain.GuardrailViolationError{Rule: firstViolation(violations), Reason: "output rejected by safety policy"}
			}
		}

		return resp, nil
	}
}

func firstViolation(violations []string) string {
	if len(violations) == 0 {
		return "policy"
	}
	return violations[0]
}

// renderOutput flattens a handler output to text for scanning and for the
// message log.
func renderOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
