package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

// Service applies external reviewer decisions. It is the only writer of
// the pending → approved|rejected transition besides the gate's timeout
// path.
type Service struct {
	store  Store
	mirror Mirror
	logger *zap.Logger
}

// NewService creates the reviewer-side approval service.
func NewService(store Store, mirror Mirror, logger *zap.Logger) *Service {
	return &Service{store: store, mirror: mirror, logger: logger}
}

// Decide resolves a pending approval. decision is "approve" or "reject".
func (s *Service) Decide(ctx context.Context, approvalID, decision, reviewedBy, reason string) (*domain.PendingApproval, error) {
	ap, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if ap == nil {
		return nil, fmt.Errorf("approval not found")
	}
	if ap.Status != domain.ApprovalStatusPending {
		return nil, fmt.Errorf("approval is not pending")
	}

	newStatus := domain.ApprovalStatusApproved
	if decision == "reject" {
		newStatus = domain.ApprovalStatusRejected
	}

	updated, err := s.store.ResolveApproval(ctx, approvalID, newStatus, reviewedBy, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("approval already resolved")
	}

	resolved, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload approval: %w", err)
	}

	// Refresh the mirror so a gate blocked on this approval wakes on its
	// next poll.
	s.mirror.PutApproval(resolved, time.Minute)

	payload, _ := json.Marshal(map[string]any{
		"approval_id": approvalID,
		"decision":    string(newStatus),
		"reviewed_by": reviewedBy,
		"reason":      reason,
	})
	ev := &domain.Event{
		ID:             "evt_" + uuid.New().String()[:8],
		ConversationID: ap.ConversationID,
		Ts:             time.Now().UnixMilli(),
		Type:           domain.EventTypeApprovalDecided,
		Payload:        payload,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to record approval decision event", zap.Error(err))
	}

	return resolved, nil
}
