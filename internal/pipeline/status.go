package pipeline

import (
	"time"

	"github.com/hr-platform/backend/internal/storage/models"
)

// StatusView is the polling projection of an extraction.
type StatusView struct {
	ExtractionID          string              `json:"extraction_id"`
	TenantID              string              `json:"tenant_id"`
	EmployeeID            int64               `json:"employee_id"`
	OriginalFilename      string              `json:"original_filename"`
	Status                models.Status       `json:"status"`
	RetryCount            int                 `json:"retry_count"`
	ErrorPhase            *models.ErrorPhase  `json:"error_phase,omitempty"`
	ErrorMessage          *string             `json:"error_message,omitempty"`
	ImportStats           *models.ImportStats `json:"import_stats,omitempty"`
	ProcessingTimeSeconds float64             `json:"processing_time_seconds"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func NewStatusView(ext *models.Extraction) *StatusView {
	return &StatusView{
		ExtractionID:          ext.ID,
		TenantID:              ext.TenantID,
		EmployeeID:            ext.EmployeeID,
		OriginalFilename:      ext.OriginalFilename,
		Status:                ext.Status,
		RetryCount:            ext.RetryCount,
		ErrorPhase:            ext.ErrorPhase,
		ErrorMessage:          ext.ErrorMessage,
		ImportStats:           ext.ImportStats,
		ProcessingTimeSeconds: ext.ProcessingTimeSeconds,
		CreatedAt:             ext.CreatedAt,
		UpdatedAt:             ext.UpdatedAt,
	}
}

func (v *StatusView) Terminal() bool {
	return v.Status.Terminal()
}
