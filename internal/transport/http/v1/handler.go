// Package v1 provides the HTTP handlers for the coordination core.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corale/relay/internal/domain"
)

// Coordinator handles one request end to end.
type Coordinator interface {
	Handle(ctx context.Context, req domain.Request) (*domain.Response, error)
	Resume(ctx context.Context, conversationID string) (*domain.Response, error)
}

// Approvals records a reviewer decision.
type Approvals interface {
	Decide(ctx context.Context, approvalID, decision, reviewedBy, reason string) (*domain.PendingApproval, error)
}

// ConversationReader serves the read-side endpoints.
type ConversationReader interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	ListEvents(ctx context.Context, conversationID string) ([]domain.Event, error)
}

// Handler handles HTTP requests.
type Handler struct {
	coordinator Coordinator
	approvals   Approvals
	reader      ConversationReader
}

// NewHandler creates a new handler.
func NewHandler(coordinator Coordinator, approvals Approvals, reader ConversationReader) *Handler {
	return &Handler{
		coordinator: coordinator,
		approvals:   approvals,
		reader:      reader,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/coordinator/invoke", h.Invoke)
	e.POST("/v1/conversations/:conversation_id/resume", h.Resume)
	e.POST("/v1/approvals/:approval_id/decide", h.SubmitApprovalDecision)
	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)
	e.GET("/v1/conversations/:conversation_id/events", h.GetConversationEvents)
	e.GET("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
