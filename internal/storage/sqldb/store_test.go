package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/config"
)

const testTenant = "tenant-a"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(config.DatabaseConfig{
		Driver: string(DialectSQLite),
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: testTenant, Slug: "a", Active: true}))
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: "tenant-b", Slug: "b", Active: true}))
	return store
}

func createEmployee(t *testing.T, store *Store, tenantID string) int64 {
	t.Helper()
	e := &models.Employee{TenantID: tenantID, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Active: true}
	require.NoError(t, store.CreateEmployee(context.Background(), e))
	return e.ID
}

func createExtraction(t *testing.T, store *Store, employeeID int64, id string) *models.Extraction {
	t.Helper()
	ext := &models.Extraction{
		ID:               id,
		TenantID:         testTenant,
		EmployeeID:       employeeID,
		UploadedBy:       "user-1",
		OriginalFilename: "cv.pdf",
		MimeType:         "application/pdf",
		FileSizeBytes:    1024,
		StorageKey:       "ab/abcdef",
	}
	require.NoError(t, store.CreateExtraction(context.Background(), ext))
	return ext
}

func ptr[T any](v T) *T { return &v }

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestPostgresSchemaUsesSerialColumns(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	schema := pg.Schema()
	assert.Contains(t, schema, "BIGSERIAL PRIMARY KEY")
	assert.Contains(t, schema, "DOUBLE PRECISION")
	assert.NotContains(t, schema, "{{")
}

func TestCreateAndGetExtraction(t *testing.T) {
	store := newTestStore(t)
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	got, err := store.GetExtraction(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, emp, got.EmployeeID)
	assert.Nil(t, got.ErrorPhase)
	assert.Nil(t, got.ImportStats)
	assert.Nil(t, got.ExtractionResult)

	_, err = store.GetExtraction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	_, err := store.TransitionExtraction(ctx, "ext-1", models.StatusPending, models.StatusProcessing, models.ExtractionPatch{})
	require.NoError(t, err)

	_, err = store.TransitionExtraction(ctx, "ext-1", models.StatusPending, models.StatusProcessing, models.ExtractionPatch{})
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = store.TransitionExtraction(ctx, "missing", models.StatusPending, models.StatusProcessing, models.ExtractionPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, edge := range [][2]models.Status{
		{models.StatusCompleted, models.StatusPending},
		{models.StatusFailed, models.StatusCompleted},
		{models.StatusPending, models.StatusCompleted},
		{models.StatusExtracted, models.StatusCompleted},
	} {
		_, err := store.TransitionExtraction(ctx, "any", edge[0], edge[1], models.ExtractionPatch{})
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", edge[0], edge[1])
	}
}

func TestTransitionMaintainsColumnInvariants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	_, err := store.TransitionExtraction(ctx, "ext-1", models.StatusPending, models.StatusProcessing, models.ExtractionPatch{})
	require.NoError(t, err)

	ext, err := store.TransitionExtraction(ctx, "ext-1", models.StatusProcessing, models.StatusExtracted, models.ExtractionPatch{
		ExtractedText:    ptr("cv text"),
		ExtractionResult: json.RawMessage(`{"skills":{}}`),
		LLMModelUsed:     ptr("gpt-4o-mini"),
		LLMTokensUsed:    ptr(120),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"skills":{}}`, string(ext.ExtractionResult))
	assert.Equal(t, 120, ext.LLMTokensUsed)

	_, err = store.TransitionExtraction(ctx, "ext-1", models.StatusExtracted, models.StatusImporting, models.ExtractionPatch{})
	require.NoError(t, err)

	phase := models.PhaseDatabaseSave
	ext, err = store.TransitionExtraction(ctx, "ext-1", models.StatusImporting, models.StatusFailed, models.ExtractionPatch{
		ErrorPhase:   &phase,
		ErrorMessage: ptr("constraint"),
	})
	require.NoError(t, err)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhaseDatabaseSave, *ext.ErrorPhase)
	assert.NotNil(t, ext.ExtractionResult)

	ext, err = store.TransitionExtraction(ctx, "ext-1", models.StatusFailed, models.StatusExtracted, models.ExtractionPatch{})
	require.NoError(t, err)
	assert.Nil(t, ext.ErrorPhase)
	assert.Nil(t, ext.ErrorMessage)
	assert.NotNil(t, ext.ExtractionResult)

	_, err = store.TransitionExtraction(ctx, "ext-1", models.StatusExtracted, models.StatusImporting, models.ExtractionPatch{})
	require.NoError(t, err)
	stats := models.NewImportStats()
	stats.SkillsSaved = 2
	ext, err = store.TransitionExtraction(ctx, "ext-1", models.StatusImporting, models.StatusCompleted, models.ExtractionPatch{ImportStats: stats})
	require.NoError(t, err)
	require.NotNil(t, ext.ImportStats)
	assert.Equal(t, 2, ext.ImportStats.SkillsSaved)
}

func TestTransitionToPendingClearsResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	_, err := store.TransitionExtraction(ctx, "ext-1", models.StatusPending, models.StatusFailed, models.ExtractionPatch{})
	require.NoError(t, err)
	ext, err := store.GetExtraction(ctx, "ext-1")
	require.NoError(t, err)
	require.NotNil(t, ext.ErrorPhase)
	assert.Equal(t, models.PhaseUnknown, *ext.ErrorPhase)

	ext, err = store.TransitionExtraction(ctx, "ext-1", models.StatusFailed, models.StatusPending, models.ExtractionPatch{})
	require.NoError(t, err)
	assert.Nil(t, ext.ExtractionResult)
	assert.Nil(t, ext.ExtractedText)
	assert.Nil(t, ext.ErrorPhase)
}

func TestRetryCountNeverDecreases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	steps := []struct {
		from, to models.Status
		patch    models.ExtractionPatch
	}{
		{models.StatusPending, models.StatusProcessing, models.ExtractionPatch{}},
		{models.StatusProcessing, models.StatusExtracted, models.ExtractionPatch{ExtractionResult: json.RawMessage(`{}`)}},
		{models.StatusExtracted, models.StatusImporting, models.ExtractionPatch{}},
		{models.StatusImporting, models.StatusExtracted, models.ExtractionPatch{RetryCount: ptr(2)}},
		{models.StatusExtracted, models.StatusImporting, models.ExtractionPatch{}},
	}
	for _, step := range steps {
		_, err := store.TransitionExtraction(ctx, "ext-1", step.from, step.to, step.patch)
		require.NoError(t, err)
	}

	_, err := store.TransitionExtraction(ctx, "ext-1", models.StatusImporting, models.StatusExtracted, models.ExtractionPatch{RetryCount: ptr(1)})
	assert.ErrorIs(t, err, ErrStatusConflict)

	ext, err := store.GetExtraction(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ext.RetryCount)
	assert.Equal(t, models.StatusImporting, ext.Status)
}

func TestFindStuckExtractions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	for i, retries := range []int{0, 3} {
		id := fmt.Sprintf("ext-%d", i)
		createExtraction(t, store, emp, id)
		_, err := store.TransitionExtraction(ctx, id, models.StatusPending, models.StatusProcessing, models.ExtractionPatch{})
		require.NoError(t, err)
		_, err = store.TransitionExtraction(ctx, id, models.StatusProcessing, models.StatusExtracted, models.ExtractionPatch{ExtractionResult: json.RawMessage(`{}`)})
		require.NoError(t, err)
		if retries > 0 {
			_, err = store.TransitionExtraction(ctx, id, models.StatusExtracted, models.StatusImporting, models.ExtractionPatch{})
			require.NoError(t, err)
			_, err = store.TransitionExtraction(ctx, id, models.StatusImporting, models.StatusExtracted, models.ExtractionPatch{RetryCount: ptr(retries)})
			require.NoError(t, err)
		}
	}

	stuck, err := store.FindStuckExtractions(ctx, 3, base.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "ext-0", stuck[0].ID)

	stuck, err = store.FindStuckExtractions(ctx, 3, base, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck, "debounce excludes rows updated at the cutoff")
}

func TestListExtractionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.SetClock(func() time.Time { return at })
		createExtraction(t, store, emp, fmt.Sprintf("ext-%d", i))
	}

	list, err := store.ListExtractionsForEmployee(ctx, testTenant, emp, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ext-2", list[0].ID)
	assert.Equal(t, "ext-1", list[1].ID)

	list, err = store.ListExtractionsForEmployee(ctx, "tenant-b", emp, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteExtractionOnlyWhenTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")

	assert.ErrorIs(t, store.DeleteExtraction(ctx, testTenant, "ext-1"), ErrStatusConflict)
	assert.ErrorIs(t, store.DeleteExtraction(ctx, "tenant-b", "ext-1"), ErrNotFound)

	_, err := store.TransitionExtraction(ctx, "ext-1", models.StatusPending, models.StatusFailed, models.ExtractionPatch{})
	require.NoError(t, err)
	require.NoError(t, store.DeleteExtraction(ctx, testTenant, "ext-1"))

	_, err = store.GetExtraction(ctx, "ext-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")
	require.NoError(t, store.UpsertReference(ctx, RefSkill, RefItem{ID: 276, Name: "Go"}))

	scope := models.FactScope{TenantID: testTenant, EmployeeID: emp, ExtractionID: "ext-1"}
	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *Store) error {
		if err := tx.UpsertSkill(ctx, scope, models.SkillFact{SkillID: 276}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	skills, err := store.ListSkills(ctx, testTenant, emp)
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestUpsertSkillNeverClearsValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")
	require.NoError(t, store.UpsertReference(ctx, RefSkill, RefItem{ID: 276, Name: "Go"}))

	manual := models.FactScope{TenantID: testTenant, EmployeeID: emp}
	require.NoError(t, store.UpsertSkill(ctx, manual, models.SkillFact{
		SkillID:          276,
		ProficiencyLevel: ptr(5.0),
		YearsExperience:  ptr(4.0),
		Source:           models.SourceManual,
	}))
	before, err := store.ListSkills(ctx, testTenant, emp)
	require.NoError(t, err)
	require.Len(t, before, 1)

	cv := models.FactScope{TenantID: testTenant, EmployeeID: emp, ExtractionID: "ext-1"}
	require.NoError(t, store.UpsertSkill(ctx, cv, models.SkillFact{SkillID: 276, ProficiencyLevel: ptr(8.0)}))

	after, err := store.ListSkills(ctx, testTenant, emp)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, 8.0, *after[0].ProficiencyLevel)
	assert.Equal(t, 4.0, *after[0].YearsExperience)
	assert.Equal(t, models.SourceCV, after[0].Source)
	assert.Equal(t, "ext-1", *after[0].ExtractionID)
}

func TestUpsertLanguageStoresMissingLevelsAsNull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")
	require.NoError(t, store.UpsertReference(ctx, RefLanguage, RefItem{ID: 7, Name: "English"}))

	scope := models.FactScope{TenantID: testTenant, EmployeeID: emp, ExtractionID: "ext-1"}
	require.NoError(t, store.UpsertLanguage(ctx, scope, models.LanguageFact{LanguageID: 7, Reading: "B2"}))

	var listening, reading sql.NullString
	row := store.queryRow(ctx, `SELECT listening, reading FROM employee_languages WHERE employee_id = ? AND language_id = ?`, emp, 7)
	require.NoError(t, row.Scan(&listening, &reading))
	assert.False(t, listening.Valid)
	assert.Equal(t, sql.NullString{String: "B2", Valid: true}, reading)

	require.NoError(t, store.UpsertLanguage(ctx, scope, models.LanguageFact{LanguageID: 7}))
	row = store.queryRow(ctx, `SELECT reading FROM employee_languages WHERE employee_id = ? AND language_id = ?`, emp, 7)
	require.NoError(t, row.Scan(&reading))
	assert.Equal(t, "B2", reading.String)
}

func TestUpsertRoleLeavesManualAssignment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)
	createExtraction(t, store, emp, "ext-1")
	require.NoError(t, store.UpsertReference(ctx, RefRole, RefItem{ID: 1, Name: "Engineer"}))
	require.NoError(t, store.UpsertReference(ctx, RefRole, RefItem{ID: 2, Name: "Manager"}))

	_, err := store.exec(ctx, `INSERT INTO employee_roles (employee_id, tenant_id, role_id, source, created_at, updated_at)
		VALUES (?, ?, 2, ?, 0, 0)`, emp, testTenant, models.SourceManual)
	require.NoError(t, err)

	scope := models.FactScope{TenantID: testTenant, EmployeeID: emp, ExtractionID: "ext-1"}
	n, err := store.UpsertRole(ctx, scope, models.RoleFact{RoleID: 1, Seniority: "senior"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	role, err := store.GetRole(ctx, testTenant, emp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), role.RoleID)

	_, err = store.exec(ctx, `UPDATE employee_roles SET source = ? WHERE employee_id = ?`, models.SourceCV, emp)
	require.NoError(t, err)
	n, err = store.UpsertRole(ctx, scope, models.RoleFact{RoleID: 1, Seniority: "senior"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	role, err = store.GetRole(ctx, testTenant, emp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), role.RoleID)
	assert.Equal(t, "senior", role.Seniority)
}

func TestFactsRejectCrossTenantEmployee(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)

	scope := models.FactScope{TenantID: "tenant-b", EmployeeID: emp}
	err := store.InsertEducation(ctx, scope, models.EducationFact{DegreeName: "BSc"})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
}

func TestPatchEmployeeNullsOnlyFillsGaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := createEmployee(t, store, testTenant)

	n, err := store.PatchEmployeeNulls(ctx, testTenant, emp, models.EmployeePatch{
		FirstName: "Augusta",
		Phone:     "+39 055 000",
		Position:  "Analyst",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetEmployee(ctx, testTenant, emp)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "+39 055 000", *got.Phone)
	assert.Equal(t, "Analyst", *got.Position)

	_, err = store.GetEmployee(ctx, "tenant-b", emp)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertReference(ctx, RefLanguage, RefItem{ID: 7, Name: "Italian"}))
	require.NoError(t, store.UpsertReference(ctx, RefRole, RefItem{ID: 3, Name: "Developer"}))
	require.NoError(t, store.UpsertReference(ctx, RefSubRole, RefItem{ID: 30, ParentID: 3, Name: "Backend"}))

	id, ok, err := store.FindReferenceByName(ctx, RefLanguage, "  italian ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok, err = store.FindReferenceByName(ctx, RefLanguage, "Klingon")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReferenceExists(ctx, RefRole, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	parent, ok, err := store.SubRoleParent(ctx, 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), parent)

	sub, ok, err := store.FindSubRoleByName(ctx, 3, "backend")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(30), sub)

	_, err = store.ReferenceExists(ctx, RefKind("bogus"), 1)
	assert.Error(t, err)
}

func TestUsageSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []models.UsageEvent{
		{TenantID: testTenant, OperationType: models.OperationCVExtraction, Provider: "openai", Model: "gpt-4o-mini",
			PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, EstimatedCost: 0.0001, ResponseTimeMS: 200, Status: models.UsageSuccess},
		{TenantID: testTenant, OperationType: models.OperationCVExtraction, Provider: "openai", Model: "gpt-4o-mini",
			ResponseTimeMS: 400, Status: models.UsageFailure, ErrorMessage: "timeout"},
		{TenantID: "tenant-b", OperationType: models.OperationCVExtraction, Provider: "openai", Model: "gpt-4o-mini",
			PromptTokens: 10, TotalTokens: 10, Status: models.UsageSuccess},
	}
	for i := range events {
		require.NoError(t, store.InsertUsage(ctx, &events[i]))
		assert.NotZero(t, events[i].ID)
	}

	rows, err := store.UsageSummary(ctx, testTenant, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Calls)
	assert.Equal(t, 1, rows[0].Failures)
	assert.Equal(t, int64(150), rows[0].TotalTokens)
	assert.InDelta(t, 300.0, rows[0].AvgResponseMS, 0.001)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", ErrDeadlock)))
	assert.True(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsTransient(context.DeadlineExceeded))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("syntax error")))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
}

func TestIsConstraint(t *testing.T) {
	assert.True(t, IsConstraint(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsConstraint(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsConstraint(ErrDeadlock))
}
