package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hr-platform/backend/internal/middleware/auth"
)

const defaultUsageWindow = 30 * 24 * time.Hour

type usageRow struct {
	OperationType    string  `json:"operation_type"`
	Model            string  `json:"model"`
	Calls            int     `json:"calls"`
	Failures         int     `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost_usd"`
	AvgResponseMS    float64 `json:"avg_response_ms"`
}

// Usage reports the tenant's LM usage since the RFC 3339 "since" parameter,
// defaulting to the last 30 days.
func (h *ExtractionHandler) Usage(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "usage", errNoPrincipal)
	}

	since := time.Now().Add(-defaultUsageWindow)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be an RFC 3339 timestamp",
			})
		}
		since = t
	}

	rows, err := h.svc.UsageSummary(c.UserContext(), p, since)
	if err != nil {
		return writeError(c, "usage", err)
	}

	out := make([]usageRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, usageRow{
			OperationType:    r.OperationType,
			Model:            r.Model,
			Calls:            r.Calls,
			Failures:         r.Failures,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens,
			EstimatedCost:    r.EstimatedCost,
			AvgResponseMS:    r.AvgResponseMS,
		})
	}

	return c.JSON(fiber.Map{
		"tenant_id": p.TenantID,
		"since":     since.UTC().Format(time.RFC3339),
		"usage":     out,
	})
}
