package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// GetConversationMessages retrieves messages for a conversation.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	ctx := c.Request().Context()

	messages, err := h.reader.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
	})
}

// GetConversationEvents retrieves the audit trail for a conversation.
// GET /v1/conversations/:conversation_id/events
func (h *Handler) GetConversationEvents(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	ctx := c.Request().Context()

	events, err := h.reader.ListEvents(ctx, conversationID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
	})
}
