package models

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusExtracted  Status = "extracted"
	StatusImporting  Status = "importing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type ErrorPhase string

const (
	PhasePythonConnection ErrorPhase = "python_connection"
	PhasePythonExtraction ErrorPhase = "python_extraction"
	PhaseDatabaseSave     ErrorPhase = "database_save"
	PhaseUnknown          ErrorPhase = "unknown"
)

// Fact provenance values stored in the source column of derived tables.
const (
	SourceCV     = "cv_extracted"
	SourceManual = "manual"
)

// transitions is the extraction state graph. failed -> pending/extracted are
// the manual retry edges; completed has no outgoing edge.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusExtracted, StatusFailed},
	StatusExtracted:  {StatusImporting},
	StatusImporting:  {StatusCompleted, StatusExtracted, StatusFailed},
	StatusFailed:     {StatusPending, StatusExtracted},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusExtracted, StatusImporting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Extraction struct {
	ID                    string
	TenantID              string
	EmployeeID            int64
	UploadedBy            string
	OriginalFilename      string
	MimeType              string
	FileSizeBytes         int64
	StorageKey            string
	Status                Status
	RetryCount            int
	ErrorPhase            *ErrorPhase
	ErrorMessage          *string
	LLMModelUsed          *string
	LLMTokensUsed         int
	LLMCost               float64
	ExtractedText         *string
	ExtractionResult      json.RawMessage
	ImportStats           *ImportStats
	ProcessingTimeSeconds float64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ExtractionPatch carries the optional column updates applied together with
// a status transition. Nil fields are left untouched; error, result and stats
// columns are cleared by the store whenever the target status forbids them.
type ExtractionPatch struct {
	RetryCount            *int
	ErrorPhase            *ErrorPhase
	ErrorMessage          *string
	LLMModelUsed          *string
	LLMTokensUsed         *int
	LLMCost               *float64
	ExtractedText         *string
	ExtractionResult      json.RawMessage
	ImportStats           *ImportStats
	ProcessingTimeSeconds *float64
}

type ImportStats struct {
	PersonalInfoUpdated  int            `json:"personal_info_updated"`
	EducationSaved       int            `json:"education_saved"`
	WorkExperiencesSaved int            `json:"work_experiences_saved"`
	SkillsSaved          int            `json:"skills_saved"`
	SoftSkillsSaved      int            `json:"soft_skills_saved"`
	LanguagesSaved       int            `json:"languages_saved"`
	CertificationsSaved  int            `json:"certifications_saved"`
	PublicationsSaved    int            `json:"publications_saved"`
	ProjectsSaved        int            `json:"projects_saved"`
	AwardsSaved          int            `json:"awards_saved"`
	DomainKnowledgeSaved int            `json:"domain_knowledge_saved"`
	RolesSaved           int            `json:"roles_saved"`
	AdditionalInfoSaved  int            `json:"additional_info_saved"`
	SkillsNotFound       int            `json:"skills_not_found"`
	Unresolved           map[string]int `json:"unresolved"`
	ImportTimestamp      time.Time      `json:"import_timestamp"`
}

func NewImportStats() *ImportStats {
	return &ImportStats{Unresolved: map[string]int{}}
}

func (s *ImportStats) Miss(kind string) {
	if s.Unresolved == nil {
		s.Unresolved = map[string]int{}
	}
	s.Unresolved[kind]++
}

type Tenant struct {
	ID     string
	Slug   string
	Active bool
}

type Employee struct {
	ID           int64
	TenantID     string
	FirstName    string
	LastName     string
	Email        string
	Phone        *string
	Position     *string
	Location     *string
	Summary      *string
	DepartmentID *int64
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmployeePatch fills only columns that are currently null or empty.
type EmployeePatch struct {
	FirstName string
	LastName  string
	Phone     string
	Position  string
	Location  string
	Summary   string
}

type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageFailure UsageStatus = "failure"
)

const (
	OperationCVExtraction = "cv_extraction"
	EntityExtraction      = "extraction"
)

type UsageEvent struct {
	ID               int64
	TenantID         string
	UserID           string
	OperationType    string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
	ResponseTimeMS   int64
	Status           UsageStatus
	ErrorMessage     string
	EntityType       string
	EntityID         string
	CreatedAt        time.Time
}

type UsageSummaryRow struct {
	OperationType    string
	Model            string
	Calls            int
	Failures         int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	EstimatedCost    float64
	AvgResponseMS    float64
}
