// Package middleware implements the cross-cutting wrappers composed
// around every domain handler invocation, in a fixed order: safety filter,
// conversational memory, cost accountant, output normalizer. Only the
// safety filter is fail-closed; every other stage is fail-open, because
// ancillary bookkeeping must never make an otherwise-successful turn
// fail.
package middleware

import (
	"context"

	"github.com/corale/relay/internal/domain"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context, req *domain.Request) (*domain.Response, error)

// Stage is one cross-cutting wrapper.
type Stage interface {
	Name() string
	Wrap(capabilityName string, next Next) Next
}

// Compose folds the stages around the terminal call, first stage
// outermost. The result is a fresh closure chain per request, so no
// chain state leaks across requests.
func Compose(stages []Stage, capabilityName string, terminal Next) Next {
	next := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		next = stages[i].Wrap(capabilityName, next)
	}
	return next
}
