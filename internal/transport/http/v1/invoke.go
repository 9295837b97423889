package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corale/relay/internal/domain"
)

// InvokeRequest is the body of POST /v1/coordinator/invoke.
type InvokeRequest struct {
	InputText      string         `json:"input_text"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	Origin         string         `json:"origin"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Invoke runs one coordinated turn.
// POST /v1/coordinator/invoke
func (h *Handler) Invoke(c echo.Context) error {
	var body InvokeRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if body.InputText == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "input_text is required"})
	}

	origin := domain.Origin(body.Origin)
	if origin == "" {
		origin = domain.OriginSync
	}

	ctx := c.Request().Context()
	resp, err := h.coordinator.Handle(ctx, domain.Request{
		InputText:      body.InputText,
		SessionID:      body.SessionID,
		UserID:         body.UserID,
		Origin:         origin,
		ConversationID: body.ConversationID,
		Attributes:     body.Attributes,
	})
	if err != nil {
		return invokeError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// Resume replays an interrupted turn from the conversation's latest open
// checkpoint.
// POST /v1/conversations/:conversation_id/resume
func (h *Handler) Resume(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	ctx := c.Request().Context()
	resp, err := h.coordinator.Resume(ctx, conversationID)
	if err != nil {
		return invokeError(c, err)
	}
	if resp == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "nothing to resume"})
	}

	return c.JSON(http.StatusOK, resp)
}

// invokeError maps coordinator errors onto HTTP responses. Refusals stay
// non-technical: the caller learns the request was declined, not which
// internal rule fired.
func invokeError(c echo.Context, err error) error {
	var gErr *domain.GuardrailViolationError
	if errors.As(err, &gErr) {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "request declined by content policy",
		})
	}

	var dErr *domain.RoutingDepthExceededError
	if errors.As(err, &dErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": "request could not be completed",
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
