package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/hr-platform/backend/internal/storage/models"
)

func (s *Store) InsertUsage(ctx context.Context, ev *models.UsageEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = fromMillis(s.nowMillis())
	}

	query := `
		INSERT INTO llm_usage (tenant_id, user_id, operation_type, provider, model, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost, response_time_ms, status, error_message,
			entity_type, entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := s.queryRow(ctx, query,
		ev.TenantID,
		ev.UserID,
		ev.OperationType,
		ev.Provider,
		ev.Model,
		ev.PromptTokens,
		ev.CompletionTokens,
		ev.TotalTokens,
		ev.EstimatedCost,
		ev.ResponseTimeMS,
		string(ev.Status),
		nullString(ev.ErrorMessage),
		nullString(ev.EntityType),
		nullString(ev.EntityID),
		ev.CreatedAt.UTC().UnixMilli(),
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// ListUsageForEntity returns the usage rows recorded against one entity,
// oldest first.
func (s *Store) ListUsageForEntity(ctx context.Context, entityType, entityID string) ([]models.UsageEvent, error) {
	query := `
		SELECT id, tenant_id, user_id, operation_type, provider, model, prompt_tokens, completion_tokens,
			total_tokens, estimated_cost, response_time_ms, status, COALESCE(error_message, ''),
			COALESCE(entity_type, ''), COALESCE(entity_id, ''), created_at
		FROM llm_usage
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`

	rows, err := s.query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var ev models.UsageEvent
		var status string
		var createdAt int64
		err := rows.Scan(&ev.ID, &ev.TenantID, &ev.UserID, &ev.OperationType, &ev.Provider, &ev.Model,
			&ev.PromptTokens, &ev.CompletionTokens, &ev.TotalTokens, &ev.EstimatedCost, &ev.ResponseTimeMS,
			&status, &ev.ErrorMessage, &ev.EntityType, &ev.EntityID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ev.Status = models.UsageStatus(status)
		ev.CreatedAt = fromMillis(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UsageSummary aggregates a tenant's usage since the given instant by
// operation and model.
func (s *Store) UsageSummary(ctx context.Context, tenantID string, since time.Time) ([]models.UsageSummaryRow, error) {
	query := `
		SELECT operation_type, model, COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens),
			SUM(estimated_cost), AVG(response_time_ms)
		FROM llm_usage
		WHERE tenant_id = ? AND created_at >= ?
		GROUP BY operation_type, model
		ORDER BY operation_type, model
	`

	rows, err := s.query(ctx, query, string(models.UsageFailure), tenantID, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var out []models.UsageSummaryRow
	for rows.Next() {
		var r models.UsageSummaryRow
		err := rows.Scan(&r.OperationType, &r.Model, &r.Calls, &r.Failures,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.EstimatedCost, &r.AvgResponseMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
