// Package approval implements the human-in-the-loop approval gate: a
// blocking-with-timeout primitive that suspends handler execution until
// an external reviewer decides, and the reviewer-side service that
// records that decision.
package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

// Store is the durable side of the gate.
type Store interface {
	CreateApproval(ctx context.Context, ap *domain.PendingApproval) error
	GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error)
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewedBy, reason string) (bool, error)
	CreateEvent(ctx context.Context, ev *domain.Event) error
}

// Mirror is the ephemeral side the poll loop watches.
type Mirror interface {
	Approval(id string) (*domain.PendingApproval, bool)
	PutApproval(ap *domain.PendingApproval, ttl time.Duration)
	DropApproval(id string)
}

// Gate suspends execution pending an external decision. The gate itself
// never flips status; it only observes.
type Gate struct {
	store          Store
	mirror         Mirror
	pollInterval   time.Duration
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewGate creates an approval gate.
func NewGate(store Store, mirror Mirror, pollInterval, defaultTimeout time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		store:          store,
		mirror:         mirror,
		pollInterval:   pollInterval,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// RequestApproval writes a pending approval and blocks until a reviewer
// resolves it or the timeout elapses. It returns true only for an
// approved decision; a timeout additionally returns ErrApprovalTimeout so
// the handler can distinguish it from an explicit rejection.
func (g *Gate) RequestApproval(ctx context.Context, conversationID, handlerName string, action json.RawMessage, requestedBy string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}

	ap := &domain.PendingApproval{
		ID:             "ap_" + uuid.New().String(),
		ConversationID: conversationID,
		HandlerName:    handlerName,
		Action:         action,
		Status:         domain.ApprovalStatusPending,
		RequestedBy:    requestedBy,
		CreatedAt:      time.Now(),
	}
	if err := g.store.CreateApproval(ctx, ap); err != nil {
		return false, err
	}
	g.mirror.PutApproval(ap, timeout+time.Minute)

	g.recordEvent(ctx, conversationID, domain.EventTypeApprovalRequested, map[string]any{
		"approval_id":  ap.ID,
		"handler_name": handlerName,
		"requested_by": requestedBy,
	})

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			// expire returns nil only when a reviewer approval beat the
			// timeout.
			if err := g.expire(ctx, ap); err != nil {
				return false, err
			}
			return true, nil
		case <-ticker.C:
			current, err := g.lookup(ctx, ap.ID)
			if err != nil {
				g.logger.Warn("approval lookup failed", zap.String("approval_id", ap.ID), zap.Error(err))
				continue
			}
			if current == nil || current.Status == domain.ApprovalStatusPending {
				continue
			}
			return current.Status == domain.ApprovalStatusApproved, nil
		}
	}
}

// lookup checks the ephemeral mirror first and falls back to the durable
// row, so a reviewer action that missed the mirror still resolves the
// wait.
func (g *Gate) lookup(ctx context.Context, id string) (*domain.PendingApproval, error) {
	if ap, ok := g.mirror.Approval(id); ok {
		return ap, nil
	}
	return g.store.GetApproval(ctx, id)
}

// expire resolves a timed-out approval to rejected. The conditional
// update loses gracefully to a concurrent reviewer decision.
func (g *Gate) expire(ctx context.Context, ap *domain.PendingApproval) error {
	updated, err := g.store.ResolveApproval(ctx, ap.ID, domain.ApprovalStatusRejected, "system", "approval timed out")
	if err != nil {
		g.logger.Warn("failed to expire approval", zap.String("approval_id", ap.ID), zap.Error(err))
		return domain.ErrApprovalTimeout
	}
	if !updated {
		// A reviewer got there first; honor their decision.
		if current, lookupErr := g.store.GetApproval(ctx, ap.ID); lookupErr == nil && current != nil &&
			current.Status == domain.ApprovalStatusApproved {
			return nil
		}
		return domain.ErrApprovalTimeout
	}
	g.mirror.DropApproval(ap.ID)
	g.recordEvent(ctx, ap.ConversationID, domain.EventTypeApprovalDecided, map[string]any{
		"approval_id": ap.ID,
		"decision":    string(domain.ApprovalStatusRejected),
		"reason":      "timeout",
	})
	return domain.ErrApprovalTimeout
}

func (g *Gate) recordEvent(ctx context.Context, conversationID string, eventType domain.EventType, payload any) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := &domain.Event{
		ID:             "evt_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		Ts:             time.Now().UnixMilli(),
		Type:           eventType,
		Payload:        payloadBytes,
	}
	if err := g.store.CreateEvent(ctx, ev); err != nil {
		g.logger.Warn("failed to record approval event", zap.Error(err))
	}
}
