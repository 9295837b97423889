package middleware

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

const redactedPlaceholder = "[REDACTED]"

// DefaultSensitiveKeys are redacted from every handler output.
var DefaultSensitiveKeys = []string{
	"password", "secret", "api_key", "token", "ssn", "credit_card",
}

// OutputNormalizer is the innermost stage. It post-processes the raw
// handler result so later stages observe the final response shape. On any
// internal failure it returns the unnormalized output rather than fail
// the request.
type OutputNormalizer struct {
	sensitive map[string]bool
	logger    *zap.Logger
}

// NewOutputNormalizer creates the normalizer stage.
func NewOutputNormalizer(sensitiveKeys []string, logger *zap.Logger) *OutputNormalizer {
	set := make(map[string]bool, len(sensitiveKeys))
	for _, k := range sensitiveKeys {
		set[strings.ToLower(k)] = true
	}
	return &OutputNormalizer{sensitive: set, logger: logger}
}

func (n *OutputNormalizer) Name() string { return "normalize" }

// Wrap redacts sensitive fields from the handler output.
func (n *OutputNormalizer) Wrap(capabilityName string, next Next) Next {
	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		resp.Output = n.normalize(resp.Output)
		return resp, nil
	}
}

func (n *OutputNormalizer) normalize(output any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("output normalization panicked", zap.Any("panic", r))
			result = output
		}
	}()
	return n.redact(output)
}

func (n *OutputNormalizer) redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			if n.sensitive[strings.ToLower(k)] {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = n.redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = n.redact(inner)
		}
		return out
	default:
		return v
	}
}
