// Package router selects a capability for an inbound request. The rule
// router is the cheap deterministic path; the semantic router is the
// model-backed path used only on a rule miss.
package router

import (
	"strings"

	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/registry"
)

// RuleRouter matches trigger terms against the request text. First match
// wins by registration order; there is deliberately no scoring pass.
type RuleRouter struct {
	registry *registry.Registry
}

// NewRuleRouter creates a rule router over the given registry.
func NewRuleRouter(reg *registry.Registry) *RuleRouter {
	return &RuleRouter{registry: reg}
}

// Route returns the first capability whose trigger terms substring-match
// the input text, or "" on no match.
func (r *RuleRouter) Route(req *domain.Request) string {
	input := strings.ToLower(req.InputText)
	for _, cap := range r.registry.All() {
		for _, term := range cap.TriggerTerms {
			if term == "" {
				continue
			}
			if strings.Contains(input, strings.ToLower(term)) {
				return cap.Name
			}
		}
	}
	return ""
}
