package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

func TestNormalizerRedactsSensitiveKeys(t *testing.T) {
	n := NewOutputNormalizer(DefaultSensitiveKeys, zap.NewNop())
	chain := n.Wrap("general_agent", okTerminal(map[string]any{
		"text":    "done",
		"api_key": "sk-123",
		"nested": map[string]any{
			"Password": "hunter2",
			"keep":     "this",
		},
		"list": []any{
			map[string]any{"token": "abc"},
		},
	}))

	resp, err := chain(context.Background(), &domain.Request{InputText: "hi"})
	require.NoError(t, err)

	out, ok := resp.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", out["text"])
	assert.Equal(t, "[REDACTED]", out["api_key"])

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["Password"])
	assert.Equal(t, "this", nested["keep"])

	item := out["list"].([]any)[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", item["token"])
}

func TestNormalizerLeavesPlainOutputAlone(t *testing.T) {
	n := NewOutputNormalizer(DefaultSensitiveKeys, zap.NewNop())
	chain := n.Wrap("general_agent", okTerminal("just text"))

	resp, err := chain(context.Background(), &domain.Request{InputText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "just text", resp.Output)
}
