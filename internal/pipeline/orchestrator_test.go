package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/internal/storage/sqldb"
)

func TestUploadAndImportFullCV(t *testing.T) {
	h := newHarness(t, true)

	ext := h.process(91, "mario rossi cv", encode(t, fullCV()))

	require.Equal(t, models.StatusCompleted, ext.Status)
	require.NotNil(t, ext.ImportStats)
	stats := ext.ImportStats
	assert.Equal(t, 6, stats.SkillsSaved)
	assert.Equal(t, 3, stats.EducationSaved)
	assert.Equal(t, 2, stats.WorkExperiencesSaved)
	assert.Equal(t, 1, stats.RolesSaved)
	assert.Equal(t, 2, stats.LanguagesSaved)
	assert.Equal(t, 1, stats.SoftSkillsSaved)
	assert.Equal(t, 1, stats.CertificationsSaved)
	assert.Equal(t, 1, stats.ProjectsSaved)
	assert.Equal(t, 1, stats.DomainKnowledgeSaved)
	assert.Equal(t, 1, stats.SkillsNotFound)
	assert.Equal(t, 2, stats.Unresolved["education_degree"])
	assert.Equal(t, 0, ext.RetryCount)
	assert.Nil(t, ext.ErrorPhase)
	assert.NotNil(t, ext.ExtractedText)
	assert.NotEmpty(t, ext.ExtractionResult)

	skills, err := h.store.ListSkills(h.ctx, tenantA, 91)
	require.NoError(t, err)
	assert.Len(t, skills, 6)
	for _, s := range skills {
		assert.Equal(t, models.SourceCV, s.Source)
		require.NotNil(t, s.ExtractionID)
		assert.Equal(t, ext.ID, *s.ExtractionID)
	}

	role, err := h.store.GetRole(h.ctx, tenantA, 91)
	require.NoError(t, err)
	assert.Equal(t, int64(3), role.RoleID)
	require.NotNil(t, role.SubRoleID)
	assert.Equal(t, int64(30), *role.SubRoleID)

	// every counter matches the rows carrying this extraction's id
	for _, kind := range countedKinds {
		n, err := h.store.CountFacts(h.ctx, kind, ext.ID)
		require.NoError(t, err)
		assert.Equal(t, statCounter(stats, kind), n, "kind %s", kind)
	}

	employee, err := h.store.GetEmployee(h.ctx, tenantA, 91)
	require.NoError(t, err)
	assert.Equal(t, "Mario", employee.FirstName)
	require.NotNil(t, employee.Phone)
	assert.Equal(t, "+39 333 1234567", *employee.Phone)

	events, err := h.store.ListUsageForEntity(h.ctx, models.EntityExtraction, ext.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.UsageSuccess, events[0].Status)
	assert.Equal(t, 1200, events[0].TotalTokens)
	assert.Equal(t, events[0].PromptTokens+events[0].CompletionTokens, events[0].TotalTokens)
	assert.Equal(t, models.OperationCVExtraction, events[0].OperationType)
}

func TestSchemaViolationFailsExtraction(t *testing.T) {
	h := newHarness(t, true)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(encode(t, fullCV())), &payload))
	delete(payload, "skills")
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	ext := h.process(91, "cv without skills", string(data))

	assert.Equal(t, models.StatusFailed, ext.Status)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhasePythonExtraction, *ext.ErrorPhase)
	assert.Equal(t, 0, ext.RetryCount)
	assert.Empty(t, ext.ExtractionResult)
	assert.Nil(t, ext.ImportStats)
	assert.Equal(t, 0, h.employeeFactCount(91))

	events, err := h.store.ListUsageForEntity(h.ctx, models.EntityExtraction, ext.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.UsageFailure, events[0].Status)
	assert.NotEmpty(t, events[0].ErrorMessage)
}

func TestMalformedResponseFailsExtraction(t *testing.T) {
	h := newHarness(t, true)

	ext := h.process(91, "garbled", "I could not read this CV, sorry!")

	assert.Equal(t, models.StatusFailed, ext.Status)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhasePythonExtraction, *ext.ErrorPhase)
	assert.Equal(t, 0, h.employeeFactCount(91))
}

func TestDeadlockIsRetriedOnce(t *testing.T) {
	h := newHarness(t, false)
	failures := 1
	h.useFlakyWriter(&failures, sqldb.ErrDeadlock)

	ext := h.process(91, "deadlock cv", encode(t, fullCV()))
	require.Equal(t, models.StatusExtracted, ext.Status)

	require.NoError(t, h.o.Import(h.ctx, ext.ID))
	ext = h.get(ext.ID)
	assert.Equal(t, models.StatusExtracted, ext.Status)
	assert.Equal(t, 1, ext.RetryCount)
	assert.Nil(t, ext.ErrorPhase)
	assert.NotEmpty(t, ext.ExtractionResult)
	// the rolled back attempt left nothing behind
	assert.Equal(t, 0, h.employeeFactCount(91))

	require.NoError(t, h.o.Import(h.ctx, ext.ID))
	ext = h.get(ext.ID)
	assert.Equal(t, models.StatusCompleted, ext.Status)
	assert.Equal(t, 1, ext.RetryCount)
	require.NotNil(t, ext.ImportStats)
	assert.Equal(t, 6, ext.ImportStats.SkillsSaved)
	assert.Equal(t, 1, h.provider.callCount())
}

func TestRetryBudgetExhaustion(t *testing.T) {
	h := newHarness(t, false)
	failures := 100
	h.useFlakyWriter(&failures, sqldb.ErrDeadlock)

	ext := h.process(91, "always deadlocks", encode(t, fullCV()))

	for want := 1; want <= 2; want++ {
		require.NoError(t, h.o.Import(h.ctx, ext.ID))
		ext = h.get(ext.ID)
		assert.Equal(t, models.StatusExtracted, ext.Status)
		assert.Equal(t, want, ext.RetryCount)
	}

	require.NoError(t, h.o.Import(h.ctx, ext.ID))
	ext = h.get(ext.ID)
	assert.Equal(t, models.StatusFailed, ext.Status)
	assert.Equal(t, 3, ext.RetryCount)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhaseDatabaseSave, *ext.ErrorPhase)
	assert.NotEmpty(t, ext.ExtractionResult)

	// the worker no longer sees it once the budget is spent
	stuck, err := h.store.FindStuckExtractions(h.ctx, 3, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// a manual retry resumes at import and keeps the count
	view, err := h.o.Retry(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtracted, view.Status)
	assert.Equal(t, 3, view.RetryCount)

	failures = 0
	require.NoError(t, h.o.Import(h.ctx, ext.ID))
	ext = h.get(ext.ID)
	assert.Equal(t, models.StatusCompleted, ext.Status)
	assert.Equal(t, 3, ext.RetryCount)
	assert.Equal(t, 1, h.provider.callCount())
}

func TestPermanentImportErrorFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, false)
	failures := 1
	h.useFlakyWriter(&failures, sqlite3.Error{Code: sqlite3.ErrConstraint})

	ext := h.process(91, "bad row", encode(t, fullCV()))
	require.NoError(t, h.o.Import(h.ctx, ext.ID))

	ext = h.get(ext.ID)
	assert.Equal(t, models.StatusFailed, ext.Status)
	assert.Equal(t, 0, ext.RetryCount)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhaseDatabaseSave, *ext.ErrorPhase)
	require.NotNil(t, ext.ErrorMessage)
	assert.Contains(t, *ext.ErrorMessage, "constraint")
	assert.Equal(t, 0, h.employeeFactCount(91))
}

func TestImportFailureKind(t *testing.T) {
	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}
	tests := []struct {
		name      string
		cause     error
		transient bool
		want      string
	}{
		{"deadlock past budget", sqldb.ErrDeadlock, true, "retries_exhausted"},
		{"constraint", constraint, false, "constraint"},
		{"wrapped constraint", fmt.Errorf("upsert skill: %w", constraint), false, "constraint"},
		{"unclassified", errors.New("stored extraction result is unreadable"), false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, importFailureKind(tt.cause, tt.transient))
		})
	}
}

func TestReimportReplacesEducation(t *testing.T) {
	h := newHarness(t, true)

	first := h.process(91, "first cv", encode(t, fullCV()))
	require.Equal(t, models.StatusCompleted, first.Status)
	_, ids, err := h.store.ListEducation(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	cv := fullCV()
	cv.Education = cv.Education[:1]
	second := h.process(91, "second cv", encode(t, cv))
	require.Equal(t, models.StatusCompleted, second.Status)

	facts, ids, err := h.store.ListEducation(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Politecnico di Milano", facts[0].Institution)
	assert.Equal(t, []string{second.ID}, ids)
}

func TestSkillUpsertOverridesManualRow(t *testing.T) {
	h := newHarness(t, true)

	scope := models.FactScope{TenantID: tenantA, EmployeeID: 91}
	require.NoError(t, h.store.UpsertSkill(h.ctx, scope, models.SkillFact{
		SkillID:          276,
		ProficiencyLevel: ptr(5.0),
		Source:           models.SourceManual,
	}))
	before, err := h.store.ListSkills(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, before, 1)

	cv := emptyCV()
	cv.Skills.ExtractedSkills = []models.ExtractedSkill{skill(276, 8)}
	ext := h.process(91, "go developer", encode(t, cv))
	require.Equal(t, models.StatusCompleted, ext.Status)

	after, err := h.store.ListSkills(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	require.NotNil(t, after[0].ProficiencyLevel)
	assert.Equal(t, 8.0, *after[0].ProficiencyLevel)
	assert.Equal(t, models.SourceCV, after[0].Source)
	require.NotNil(t, after[0].ExtractionID)
	assert.Equal(t, ext.ID, *after[0].ExtractionID)
}

func TestSkillsAreNeverRemovedByLaterCV(t *testing.T) {
	h := newHarness(t, true)

	cv := emptyCV()
	cv.Skills.ExtractedSkills = []models.ExtractedSkill{skill(276, 6), skill(821, 6), skill(1365, 6)}
	first := h.process(91, "three skills", encode(t, cv))
	require.Equal(t, models.StatusCompleted, first.Status)

	cv.Skills.ExtractedSkills = []models.ExtractedSkill{skill(276, 7)}
	second := h.process(91, "one skill", encode(t, cv))
	require.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, 1, second.ImportStats.SkillsSaved)

	skills, err := h.store.ListSkills(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, skills, 3)
	byID := map[int64]models.SkillFact{}
	for _, s := range skills {
		byID[s.SkillID] = s
	}
	assert.Equal(t, second.ID, *byID[276].ExtractionID)
	assert.Equal(t, first.ID, *byID[821].ExtractionID)
	assert.Equal(t, first.ID, *byID[1365].ExtractionID)
}

func TestSkillValuesAreClamped(t *testing.T) {
	h := newHarness(t, true)

	cv := emptyCV()
	cv.Skills.ExtractedSkills = []models.ExtractedSkill{
		{SkillID: ptr(int64(276)), ProficiencyLevel: ptr(14.0), YearsExperience: ptr(75.0)},
		{SkillID: ptr(int64(821)), ProficiencyLevel: ptr(-3.0), YearsExperience: ptr(-1.0)},
	}
	ext := h.process(91, "clamped", encode(t, cv))
	require.Equal(t, models.StatusCompleted, ext.Status)

	skills, err := h.store.ListSkills(h.ctx, tenantA, 91)
	require.NoError(t, err)
	require.Len(t, skills, 2)
	for _, s := range skills {
		require.NotNil(t, s.ProficiencyLevel)
		require.NotNil(t, s.YearsExperience)
		switch s.SkillID {
		case 276:
			assert.Equal(t, 10.0, *s.ProficiencyLevel)
			assert.Equal(t, 60.0, *s.YearsExperience)
		case 821:
			assert.Equal(t, 0.0, *s.ProficiencyLevel)
			assert.Equal(t, 0.0, *s.YearsExperience)
		}
	}
}

func TestUnresolvedReferencesAreCounted(t *testing.T) {
	h := newHarness(t, true)

	cv := emptyCV()
	cv.Skills.ExtractedSkills = []models.ExtractedSkill{
		skill(276, 6),
		{SkillName: "Rust", ProficiencyLevel: ptr(4.0)},
		skill(99999, 5),
	}
	cv.Languages = []models.Language{{Name: "Klingon", IsNative: true}}
	ext := h.process(91, "unknowns", encode(t, cv))

	require.Equal(t, models.StatusCompleted, ext.Status)
	assert.Equal(t, 1, ext.ImportStats.SkillsSaved)
	assert.Equal(t, 0, ext.ImportStats.LanguagesSaved)
	assert.Equal(t, 2, ext.ImportStats.Unresolved["skill"])
	assert.Equal(t, 1, ext.ImportStats.Unresolved["language"])
}

func TestEmptyCVCompletes(t *testing.T) {
	h := newHarness(t, true)

	ext := h.process(91, "blank page", encode(t, emptyCV()))

	require.Equal(t, models.StatusCompleted, ext.Status)
	require.NotNil(t, ext.ImportStats)
	assert.Equal(t, 0, ext.ImportStats.SkillsSaved)
	assert.Equal(t, 0, h.employeeFactCount(91))
}

func TestReimportSamePayloadIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	payload := encode(t, fullCV())

	first := h.process(91, "version one", payload)
	require.Equal(t, models.StatusCompleted, first.Status)
	eduBefore, _, err := h.store.ListEducation(h.ctx, tenantA, 91)
	require.NoError(t, err)
	countBefore := h.employeeFactCount(91)

	second := h.process(91, "version two", payload)
	require.Equal(t, models.StatusCompleted, second.Status)
	eduAfter, _, err := h.store.ListEducation(h.ctx, tenantA, 91)
	require.NoError(t, err)

	assert.ElementsMatch(t, eduBefore, eduAfter)
	assert.Equal(t, countBefore, h.employeeFactCount(91))
}

func TestImportOfCompletedExtractionIsNoop(t *testing.T) {
	h := newHarness(t, true)

	ext := h.process(91, "done", encode(t, fullCV()))
	require.Equal(t, models.StatusCompleted, ext.Status)

	require.NoError(t, h.o.Import(h.ctx, ext.ID))
	require.NoError(t, h.o.Run(h.ctx, ext.ID))

	again := h.get(ext.ID)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, ext.ImportStats.SkillsSaved, again.ImportStats.SkillsSaved)
	assert.Equal(t, ext.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, 1, h.provider.callCount())
}

func TestConcurrentRunsCallModelOnce(t *testing.T) {
	h := newHarness(t, false)
	h.provider.reply(encode(t, fullCV()))
	ext := h.upload(91, "race")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.o.Run(h.ctx, ext.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.provider.callCount())
	assert.Equal(t, models.StatusExtracted, h.get(ext.ID).Status)

	events, err := h.store.ListUsageForEntity(h.ctx, models.EntityExtraction, ext.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUploadByOtherEmployeeIsRejected(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.o.Upload(h.ctx, employeePrincipal(42), UploadRequest{
		EmployeeID: 91,
		Filename:   "cv.pdf",
		MimeType:   pdfMime,
		Data:       []byte("not mine"),
	})

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, h.blobs.puts)
	exts, err := h.store.ListExtractionsForEmployee(h.ctx, tenantA, 91, 10)
	require.NoError(t, err)
	assert.Empty(t, exts)
}

func TestUploadOwnCV(t *testing.T) {
	h := newHarness(t, false)

	ext, err := h.o.Upload(h.ctx, employeePrincipal(42), UploadRequest{
		EmployeeID: 42,
		Filename:   "giulia.pdf",
		MimeType:   pdfMime,
		Data:       []byte("my cv"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, ext.Status)
	assert.Equal(t, "emp-user", ext.UploadedBy)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{"empty file", UploadRequest{EmployeeID: 91, Filename: "cv.pdf", MimeType: pdfMime}, ErrInvalidInput},
		{"too large", UploadRequest{EmployeeID: 91, Filename: "cv.pdf", MimeType: pdfMime, Data: make([]byte, 2<<20)}, ErrInvalidInput},
		{"unsupported type", UploadRequest{EmployeeID: 91, Filename: "cv.png", MimeType: "image/png", Data: []byte("png")}, ErrInvalidInput},
		{"employee in another tenant", UploadRequest{EmployeeID: 500, Filename: "cv.pdf", MimeType: pdfMime, Data: []byte("x")}, ErrNotAuthorized},
		{"unknown employee", UploadRequest{EmployeeID: 777, Filename: "cv.pdf", MimeType: pdfMime, Data: []byte("x")}, ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.o.Upload(h.ctx, hrPrincipal(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, h.blobs.puts)
}

func TestUploadInfersTypeFromExtension(t *testing.T) {
	h := newHarness(t, false)

	ext, err := h.o.Upload(h.ctx, hrPrincipal(), UploadRequest{
		EmployeeID: 91,
		Filename:   "cv.docx",
		MimeType:   "application/octet-stream",
		Data:       []byte("docx bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ext.MimeType)
}

func TestUploadStorageFailure(t *testing.T) {
	h := newHarness(t, false)
	h.blobs.putErr = errors.New("disk full")

	_, err := h.o.Upload(h.ctx, hrPrincipal(), UploadRequest{EmployeeID: 91, Filename: "cv.pdf", MimeType: pdfMime, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	exts, err := h.store.ListExtractionsForEmployee(h.ctx, tenantA, 91, 10)
	require.NoError(t, err)
	assert.Empty(t, exts)
}

func TestDocumentFailuresAreConnectionErrors(t *testing.T) {
	t.Run("blob read", func(t *testing.T) {
		h := newHarness(t, true)
		h.provider.reply(encode(t, fullCV()))
		ext := h.upload(91, "unreadable")
		h.blobs.getErr = errors.New("connection reset")

		require.NoError(t, h.o.Run(h.ctx, ext.ID))
		got := h.get(ext.ID)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, models.PhasePythonConnection, *got.ErrorPhase)
		assert.Equal(t, 0, h.provider.callCount())
	})

	t.Run("conversion", func(t *testing.T) {
		h := newHarness(t, true)
		h.provider.reply(encode(t, fullCV()))
		ext := h.upload(91, "corrupt pdf")
		h.text.err = errors.New("pdf: malformed xref table")

		require.NoError(t, h.o.Run(h.ctx, ext.ID))
		got := h.get(ext.ID)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, models.PhasePythonConnection, *got.ErrorPhase)
		assert.Equal(t, 0, h.provider.callCount())
	})
}

func TestGetStatusAuthorization(t *testing.T) {
	h := newHarness(t, false)
	ext := h.upload(91, "status")

	view, err := h.o.GetStatus(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.False(t, view.Terminal())

	self, err := h.o.GetStatus(h.ctx, employeePrincipal(91), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, ext.ID, self.ExtractionID)

	_, err = h.o.GetStatus(h.ctx, employeePrincipal(42), ext.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	other := access.Principal{UserID: "hr-b", TenantID: tenantB, Role: access.RoleAdmin}
	_, err = h.o.GetStatus(h.ctx, other, ext.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = h.o.GetStatus(h.ctx, hrPrincipal(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusCacheIsInvalidatedOnTransition(t *testing.T) {
	h := newHarness(t, true)
	cache := &memCache{items: map[string][]byte{}}
	h.o.cache = cache

	h.provider.reply(encode(t, emptyCV()))
	ext := h.upload(91, "cached")

	view, err := h.o.GetStatus(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Contains(t, cache.items, ext.ID)

	// cached views are still checked against the caller
	_, err = h.o.GetStatus(h.ctx, employeePrincipal(42), ext.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, h.o.Run(h.ctx, ext.ID))
	assert.NotContains(t, cache.items, ext.ID)

	view, err = h.o.GetStatus(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.True(t, view.Terminal())
}

func TestListNewestFirst(t *testing.T) {
	h := newHarness(t, false)
	h.store.SetClock(func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) })
	older := h.upload(91, "older")
	h.store.SetClock(func() time.Time { return time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC) })
	newer := h.upload(91, "newer")

	views, err := h.o.List(h.ctx, hrPrincipal(), 91, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, newer.ID, views[0].ExtractionID)
	assert.Equal(t, older.ID, views[1].ExtractionID)

	_, err = h.o.List(h.ctx, employeePrincipal(42), 91, 10)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCancelPendingExtraction(t *testing.T) {
	h := newHarness(t, true)
	h.provider.reply(encode(t, emptyCV()))
	ext := h.upload(91, "cancel me")

	_, err := h.o.Cancel(h.ctx, employeePrincipal(91), ext.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	view, err := h.o.Cancel(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, view.Status)
	require.NotNil(t, view.ErrorPhase)
	assert.Equal(t, models.PhaseUnknown, *view.ErrorPhase)

	_, err = h.o.Cancel(h.ctx, hrPrincipal(), ext.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// a cancelled upload starts over when retried
	view, err = h.o.Retry(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Nil(t, view.ErrorPhase)

	require.NoError(t, h.o.Run(h.ctx, ext.ID))
	assert.Equal(t, models.StatusCompleted, h.get(ext.ID).Status)
}

func TestRetryRejectsNonFailed(t *testing.T) {
	h := newHarness(t, false)
	ext := h.upload(91, "pending")

	_, err := h.o.Retry(h.ctx, hrPrincipal(), ext.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = h.o.Retry(h.ctx, employeePrincipal(91), ext.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRetryAfterExtractionFailureStartsOver(t *testing.T) {
	h := newHarness(t, true)
	h.provider.reply("not json")
	h.provider.reply(encode(t, emptyCV()))

	ext := h.upload(91, "flaky model")
	require.NoError(t, h.o.Run(h.ctx, ext.ID))
	require.Equal(t, models.StatusFailed, h.get(ext.ID).Status)

	view, err := h.o.Retry(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)

	require.NoError(t, h.o.Run(h.ctx, ext.ID))
	assert.Equal(t, models.StatusCompleted, h.get(ext.ID).Status)
	assert.Equal(t, 2, h.provider.callCount())
}

func TestRetryDispatchesJob(t *testing.T) {
	h := newHarness(t, true)
	d := &recordingDispatcher{}
	h.o.SetDispatcher(d)

	h.provider.reply("not json")
	ext := h.upload(91, "dispatch")
	require.Len(t, d.jobs, 1)
	assert.Equal(t, Job{ExtractionID: ext.ID, Kind: JobRun}, d.jobs[0])

	require.NoError(t, h.o.Run(h.ctx, ext.ID))
	_, err := h.o.Retry(h.ctx, hrPrincipal(), ext.ID)
	require.NoError(t, err)
	require.Len(t, d.jobs, 2)
	assert.Equal(t, JobRun, d.jobs[1].Kind)
}

func TestDeleteTerminalExtraction(t *testing.T) {
	h := newHarness(t, true)

	ext := h.process(91, "to delete", encode(t, fullCV()))
	require.Equal(t, models.StatusCompleted, ext.Status)
	factsBefore := h.employeeFactCount(91)

	require.ErrorIs(t, h.o.Delete(h.ctx, employeePrincipal(91), ext.ID), ErrNotAuthorized)
	require.NoError(t, h.o.Delete(h.ctx, hrPrincipal(), ext.ID))

	_, err := h.store.GetExtraction(h.ctx, ext.ID)
	assert.ErrorIs(t, err, sqldb.ErrNotFound)
	assert.False(t, h.blobs.has(ext.StorageKey))

	// facts stay, without a back-reference
	assert.Equal(t, factsBefore, h.employeeFactCount(91))
	n, err := h.store.CountFacts(h.ctx, models.FactSkill, ext.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, h.o.Delete(h.ctx, hrPrincipal(), ext.ID), ErrNotFound)
}

func TestDeleteKeepsSharedBlob(t *testing.T) {
	h := newHarness(t, false)
	h.provider.reply("not json")

	first := h.upload(91, "same bytes")
	second := h.upload(91, "same bytes")
	require.Equal(t, first.StorageKey, second.StorageKey)

	require.ErrorIs(t, h.o.Delete(h.ctx, hrPrincipal(), first.ID), ErrConflict)

	require.NoError(t, h.o.Run(h.ctx, first.ID))
	require.NoError(t, h.o.Delete(h.ctx, hrPrincipal(), first.ID))
	assert.True(t, h.blobs.has(first.StorageKey))
}

func TestDeleteDuringUploadOfSameBytesKeepsBlob(t *testing.T) {
	h := newHarness(t, false)
	h.provider.reply("not json")

	first := h.upload(91, "same bytes")
	require.NoError(t, h.o.Run(h.ctx, first.ID))
	require.Equal(t, models.StatusFailed, h.get(first.ID).Status)

	deleted := make(chan error, 1)
	h.blobs.afterPut = func() {
		go func() { deleted <- h.o.Delete(h.ctx, hrPrincipal(), first.ID) }()
		time.Sleep(50 * time.Millisecond)
	}
	second := h.upload(91, "same bytes")
	h.blobs.afterPut = nil

	select {
	case err := <-deleted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish")
	}

	require.Equal(t, first.StorageKey, second.StorageKey)
	assert.True(t, h.blobs.has(second.StorageKey))
	assert.Equal(t, models.StatusPending, h.get(second.ID).Status)
	_, err := h.store.GetExtraction(h.ctx, first.ID)
	assert.ErrorIs(t, err, sqldb.ErrNotFound)
}

func TestUsageSummaryRequiresHR(t *testing.T) {
	h := newHarness(t, true)
	h.process(91, "usage", encode(t, emptyCV()))

	rows, err := h.o.UsageSummary(h.ctx, hrPrincipal(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Calls)
	assert.Equal(t, int64(1200), rows[0].TotalTokens)

	_, err = h.o.UsageSummary(h.ctx, employeePrincipal(91), time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []Job
}

func (d *recordingDispatcher) Dispatch(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return true
}
