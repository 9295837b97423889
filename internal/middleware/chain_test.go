package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corale/relay/internal/domain"
)

type recordingStage struct {
	name string
	log  *[]string
}

func (s recordingStage) Name() string { return s.name }

func (s recordingStage) Wrap(capabilityName string, next Next) Next {
	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		*s.log = append(*s.log, s.name+":before")
		resp, err := next(ctx, req)
		*s.log = append(*s.log, s.name+":after")
		return resp, err
	}
}

func TestComposeOrder(t *testing.T) {
	var log []string
	stages := []Stage{
		recordingStage{name: "safety", log: &log},
		recordingStage{name: "memory", log: &log},
		recordingStage{name: "cost", log: &log},
	}

	terminal := func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		log = append(log, "handler")
		return &domain.Response{Output: "done"}, nil
	}

	chain := Compose(stages, "general_agent", terminal)
	resp, err := chain(context.Background(), &domain.Request{InputText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Output)

	assert.Equal(t, []string{
		"safety:before",
		"memory:before",
		"cost:before",
		"handler",
		"cost:after",
		"memory:after",
		"safety:after",
	}, log)
}

func TestComposeEmptyStages(t *testing.T) {
	terminal := func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		return &domain.Response{Output: "bare"}, nil
	}
	chain := Compose(nil, "general_agent", terminal)

	resp, err := chain(context.Background(), &domain.Request{})
	require.NoError(t, err)
	assert.Equal(t, "bare", resp.Output)
}
