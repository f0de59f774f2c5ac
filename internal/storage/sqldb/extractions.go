package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/logger"
)

const extractionColumns = `id, tenant_id, employee_id, uploaded_by, original_filename, mime_type, file_size_bytes,
	storage_key, status, retry_count, error_phase, error_message, llm_model_used, llm_tokens_used, llm_cost,
	extracted_text, extraction_result, import_stats, processing_time_seconds, created_at, updated_at`

func (s *Store) CreateExtraction(ctx context.Context, ext *models.Extraction) error {
	now := s.nowMillis()
	ext.Status = models.StatusPending
	ext.RetryCount = 0
	ext.CreatedAt = fromMillis(now)
	ext.UpdatedAt = ext.CreatedAt

	query := `
		INSERT INTO extractions (id, tenant_id, employee_id, uploaded_by, original_filename, mime_type,
			file_size_bytes, storage_key, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	_, err := s.exec(ctx, query,
		ext.ID,
		ext.TenantID,
		ext.EmployeeID,
		ext.UploadedBy,
		ext.OriginalFilename,
		ext.MimeType,
		ext.FileSizeBytes,
		ext.StorageKey,
		string(ext.Status),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert extraction: %w", err)
	}

	logger.Debug("Extraction created",
		zap.String("extraction_id", ext.ID),
		zap.String("tenant_id", ext.TenantID),
		zap.Int64("employee_id", ext.EmployeeID),
	)
	return nil
}

func (s *Store) GetExtraction(ctx context.Context, id string) (*models.Extraction, error) {
	row := s.queryRow(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id = ?`, id)
	ext, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return ext, nil
}

// TransitionExtraction moves an extraction from one status to another with a
// compare-and-swap on the status column, applying patch in the same
// statement. It fails with ErrStatusConflict when the row is no longer in
// from, and with ErrIllegalTransition when the edge is not in the graph.
func (s *Store) TransitionExtraction(ctx context.Context, id string, from, to models.Status, patch models.ExtractionPatch) (*models.Extraction, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), s.nowMillis()}
	where := "id = ? AND status = ?"
	whereArgs := []any{id, string(from)}

	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
		// retry_count never goes backwards
		where += " AND retry_count <= ?"
		whereArgs = append(whereArgs, *patch.RetryCount)
	}

	if to == models.StatusFailed {
		phase := models.PhaseUnknown
		if patch.ErrorPhase != nil {
			phase = *patch.ErrorPhase
		}
		sets = append(sets, "error_phase = ?", "error_message = ?")
		args = append(args, string(phase), nullString(derefString(patch.ErrorMessage)))
	} else {
		sets = append(sets, "error_phase = NULL", "error_message = NULL")
	}

	if patch.LLMModelUsed != nil {
		sets = append(sets, "llm_model_used = ?")
		args = append(args, *patch.LLMModelUsed)
	}
	if patch.LLMTokensUsed != nil {
		sets = append(sets, "llm_tokens_used = ?")
		args = append(args, *patch.LLMTokensUsed)
	}
	if patch.LLMCost != nil {
		sets = append(sets, "llm_cost = ?")
		args = append(args, *patch.LLMCost)
	}
	if patch.ProcessingTimeSeconds != nil {
		sets = append(sets, "processing_time_seconds = ?")
		args = append(args, *patch.ProcessingTimeSeconds)
	}

	switch {
	case to == models.StatusPending:
		sets = append(sets, "extracted_text = NULL", "extraction_result = NULL")
	default:
		if patch.ExtractedText != nil {
			sets = append(sets, "extracted_text = ?")
			args = append(args, *patch.ExtractedText)
		}
		if len(patch.ExtractionResult) > 0 {
			sets = append(sets, "extraction_result = ?")
			args = append(args, string(patch.ExtractionResult))
		}
	}

	if to == models.StatusCompleted && patch.ImportStats != nil {
		statsJSON, err := json.Marshal(patch.ImportStats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal import stats: %w", err)
		}
		sets = append(sets, "import_stats = ?")
		args = append(args, string(statsJSON))
	} else if to != models.StatusCompleted {
		sets = append(sets, "import_stats = NULL")
	}

	query := `UPDATE extractions SET ` + strings.Join(sets, ", ") + ` WHERE ` + where
	res, err := s.exec(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition extraction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetExtraction(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStatusConflict
	}

	logger.Info("Extraction transitioned",
		zap.String("extraction_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return s.GetExtraction(ctx, id)
}

// FindStuckExtractions returns extractions parked in extracted with retries
// left whose last update is older than olderThan, oldest first.
func (s *Store) FindStuckExtractions(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]models.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions
		WHERE status = ? AND retry_count < ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`
	return s.listExtractions(ctx, query, string(models.StatusExtracted), maxRetries, olderThan.UTC().UnixMilli(), limit)
}

// FindResumedExtractions returns extractions parked in extracted whose retry
// budget is already spent, oldest first. Automatic retries never park a row
// there; only a manual retry of a save failure does.
func (s *Store) FindResumedExtractions(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]models.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions
		WHERE status = ? AND retry_count >= ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`
	return s.listExtractions(ctx, query, string(models.StatusExtracted), maxRetries, olderThan.UTC().UnixMilli(), limit)
}

// FindStaleExtractions returns extractions in status whose last update is
// older than olderThan, oldest first.
func (s *Store) FindStaleExtractions(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]models.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`
	return s.listExtractions(ctx, query, string(status), olderThan.UTC().UnixMilli(), limit)
}

func (s *Store) ListExtractionsForEmployee(ctx context.Context, tenantID string, employeeID int64, limit int) ([]models.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions
		WHERE tenant_id = ? AND employee_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	return s.listExtractions(ctx, query, tenantID, employeeID, limit)
}

// DeleteExtraction removes a terminal extraction of the tenant.
func (s *Store) DeleteExtraction(ctx context.Context, tenantID, id string) error {
	query := `DELETE FROM extractions WHERE id = ? AND tenant_id = ? AND status IN (?, ?)`

	res, err := s.exec(ctx, query, id, tenantID, string(models.StatusCompleted), string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		ext, getErr := s.GetExtraction(ctx, id)
		if errors.Is(getErr, ErrNotFound) || (getErr == nil && ext.TenantID != tenantID) {
			return ErrNotFound
		}
		return ErrStatusConflict
	}

	logger.Info("Extraction deleted", zap.String("extraction_id", id), zap.String("tenant_id", tenantID))
	return nil
}

// CountStorageKeyRefs counts extractions still pointing at a blob; identical
// uploads share one content-addressed key.
func (s *Store) CountStorageKeyRefs(ctx context.Context, storageKey string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM extractions WHERE storage_key = ?`, storageKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count storage key references: %w", err)
	}
	return n, nil
}

// CountExtractionsByStatus is used for the status gauges.
func (s *Store) CountExtractionsByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM extractions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count extractions: %w", err)
	}
	defer rows.Close()

	counts := map[models.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) listExtractions(ctx context.Context, query string, args ...any) ([]models.Extraction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer rows.Close()

	var out []models.Extraction
	for rows.Next() {
		ext, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *ext)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(row rowScanner) (*models.Extraction, error) {
	var ext models.Extraction
	var status string
	var errorPhase, errorMessage, modelUsed, extractedText, result, stats sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&ext.ID,
		&ext.TenantID,
		&ext.EmployeeID,
		&ext.UploadedBy,
		&ext.OriginalFilename,
		&ext.MimeType,
		&ext.FileSizeBytes,
		&ext.StorageKey,
		&status,
		&ext.RetryCount,
		&errorPhase,
		&errorMessage,
		&modelUsed,
		&ext.LLMTokensUsed,
		&ext.LLMCost,
		&extractedText,
		&result,
		&stats,
		&ext.ProcessingTimeSeconds,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ext.Status = models.Status(status)
	if errorPhase.Valid {
		phase := models.ErrorPhase(errorPhase.String)
		ext.ErrorPhase = &phase
	}
	ext.ErrorMessage = stringPtr(errorMessage)
	ext.LLMModelUsed = stringPtr(modelUsed)
	ext.ExtractedText = stringPtr(extractedText)
	if result.Valid {
		ext.ExtractionResult = json.RawMessage(result.String)
	}
	if stats.Valid {
		var is models.ImportStats
		if err := json.Unmarshal([]byte(stats.String), &is); err != nil {
			return nil, fmt.Errorf("failed to decode import stats: %w", err)
		}
		ext.ImportStats = &is
	}
	ext.CreatedAt = fromMillis(createdAt)
	ext.UpdatedAt = fromMillis(updatedAt)

	return &ext, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
