package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/registry"
)

type nopHandler struct{}

func (nopHandler) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	return &domain.HandlerResult{Output: "ok"}, nil
}

func newTestRegistry(t *testing.T, caps ...domain.Capability) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, cap := range caps {
		require.NoError(t, reg.Register(cap, nopHandler{}))
	}
	return reg
}

func TestRuleRouterMatches(t *testing.T) {
	reg := newTestRegistry(t,
		domain.Capability{Name: "report_agent", Enabled: true, TriggerTerms: []string{"report", "summary"}},
		domain.Capability{Name: "general_agent", Enabled: true},
	)
	r := NewRuleRouter(reg)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"exact term", "generate a report for Q3", "report_agent"},
		{"case insensitive", "I need a SUMMARY now", "report_agent"},
		{"substring inside word", "misreporting numbers", "report_agent"},
		{"no match", "what is the weather", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(&domain.Request{InputText: tt.input})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleRouterFirstMatchWinsByRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t,
		domain.Capability{Name: "data_analysis_agent", Enabled: true, TriggerTerms: []string{"report"}},
		domain.Capability{Name: "report_agent", Enabled: true, TriggerTerms: []string{"report"}},
	)
	r := NewRuleRouter(reg)

	got := r.Route(&domain.Request{InputText: "make a report"})
	assert.Equal(t, "data_analysis_agent", got)
}

func TestRuleRouterSkipsEmptyTerms(t *testing.T) {
	reg := newTestRegistry(t,
		domain.Capability{Name: "report_agent", Enabled: true, TriggerTerms: []string{""}},
	)
	r := NewRuleRouter(reg)

	got := r.Route(&domain.Request{InputText: "anything at all"})
	assert.Equal(t, "", got)
}
