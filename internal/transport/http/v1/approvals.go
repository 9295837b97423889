package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ApprovalDecisionRequest is the body of the reviewer decision endpoint.
type ApprovalDecisionRequest struct {
	Decision   string `json:"decision"` // "approve" or "reject"
	ReviewedBy string `json:"reviewed_by"`
	Reason     string `json:"reason,omitempty"`
}

// SubmitApprovalDecision records a reviewer decision on a pending approval.
// POST /v1/approvals/:approval_id/decide
func (h *Handler) SubmitApprovalDecision(c echo.Context) error {
	approvalID := c.Param("approval_id")

	var body ApprovalDecisionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if body.Decision != "approve" && body.Decision != "reject" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "decision must be approve or reject"})
	}

	ctx := c.Request().Context()
	ap, err := h.approvals.Decide(ctx, approvalID, body.Decision, body.ReviewedBy, body.Reason)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"status": ap.Status,
	})
}
