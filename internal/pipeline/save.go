package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/internal/storage/sqldb"
)

// factWriter is the write side of one import transaction.
type factWriter interface {
	PatchEmployeeNulls(ctx context.Context, tenantID string, id int64, p models.EmployeePatch) (int, error)
	DeleteCVFacts(ctx context.Context, kind models.FactKind, scope models.FactScope) (int64, error)
	InsertEducation(ctx context.Context, scope models.FactScope, f models.EducationFact) error
	InsertWorkExperience(ctx context.Context, scope models.FactScope, f models.WorkExperienceFact) error
	UpsertSkill(ctx context.Context, scope models.FactScope, f models.SkillFact) error
	UpsertSoftSkill(ctx context.Context, scope models.FactScope, f models.SoftSkillFact) error
	UpsertLanguage(ctx context.Context, scope models.FactScope, f models.LanguageFact) error
	InsertCertification(ctx context.Context, scope models.FactScope, f models.CertificationFact) error
	InsertPublication(ctx context.Context, scope models.FactScope, f models.PublicationFact) error
	InsertProject(ctx context.Context, scope models.FactScope, f models.ProjectFact) error
	InsertAward(ctx context.Context, scope models.FactScope, f models.AwardFact) error
	InsertDomainKnowledge(ctx context.Context, scope models.FactScope, f models.DomainKnowledgeFact) error
	UpsertRole(ctx context.Context, scope models.FactScope, f models.RoleFact) (int, error)
	InsertAdditionalInfo(ctx context.Context, scope models.FactScope, f models.AdditionalInfoFact) error
	TransitionExtraction(ctx context.Context, id string, from, to models.Status, patch models.ExtractionPatch) (*models.Extraction, error)
}

func storeWriter(tx *sqldb.Store) factWriter { return tx }

// savePlan writes plan for scope in foreign-key order and returns the
// resulting statistics. Replace-set kinds drop the employee's previous
// CV-sourced rows first; skills and the role are upserted.
func savePlan(ctx context.Context, w factWriter, scope models.FactScope, plan *ImportPlan) (*models.ImportStats, error) {
	stats := models.NewImportStats()
	for kind, n := range plan.Unresolved {
		stats.Unresolved[kind] = n
	}
	stats.SkillsNotFound = plan.SkillsNotFound

	updated, err := w.PatchEmployeeNulls(ctx, scope.TenantID, scope.EmployeeID, plan.Employee)
	if err != nil {
		return nil, fmt.Errorf("failed to update employee: %w", err)
	}
	stats.PersonalInfoUpdated = updated

	if err := replace(ctx, w, models.FactEducation, scope, plan.Education, w.InsertEducation, &stats.EducationSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactWorkExperience, scope, plan.WorkExperience, w.InsertWorkExperience, &stats.WorkExperiencesSaved); err != nil {
		return nil, err
	}

	for _, s := range plan.Skills {
		if err := w.UpsertSkill(ctx, scope, s); err != nil {
			return nil, err
		}
		stats.SkillsSaved++
	}

	if err := replace(ctx, w, models.FactSoftSkill, scope, plan.SoftSkills, w.UpsertSoftSkill, &stats.SoftSkillsSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactLanguage, scope, plan.Languages, w.UpsertLanguage, &stats.LanguagesSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactCertification, scope, plan.Certifications, w.InsertCertification, &stats.CertificationsSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactPublication, scope, plan.Publications, w.InsertPublication, &stats.PublicationsSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactProject, scope, plan.Projects, w.InsertProject, &stats.ProjectsSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactAward, scope, plan.Awards, w.InsertAward, &stats.AwardsSaved); err != nil {
		return nil, err
	}
	if err := replace(ctx, w, models.FactDomainKnowledge, scope, plan.DomainKnowledge, w.InsertDomainKnowledge, &stats.DomainKnowledgeSaved); err != nil {
		return nil, err
	}

	if plan.Role != nil {
		n, err := w.UpsertRole(ctx, scope, *plan.Role)
		if err != nil {
			return nil, err
		}
		stats.RolesSaved = n
	}

	if err := replace(ctx, w, models.FactAdditionalInfo, scope, plan.AdditionalInfo, w.InsertAdditionalInfo, &stats.AdditionalInfoSaved); err != nil {
		return nil, err
	}

	stats.ImportTimestamp = time.Now().UTC()
	return stats, nil
}

func replace[T any](ctx context.Context, w factWriter, kind models.FactKind, scope models.FactScope, facts []T,
	write func(context.Context, models.FactScope, T) error, saved *int) error {
	if _, err := w.DeleteCVFacts(ctx, kind, scope); err != nil {
		return err
	}
	for _, f := range facts {
		if err := write(ctx, scope, f); err != nil {
			return err
		}
		*saved++
	}
	return nil
}
