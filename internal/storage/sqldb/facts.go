package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hr-platform/backend/internal/storage/models"
)

var factTables = map[models.FactKind]string{
	models.FactEducation:       "employee_education",
	models.FactWorkExperience:  "employee_work_experiences",
	models.FactSkill:           "employee_skills",
	models.FactSoftSkill:       "employee_soft_skills",
	models.FactLanguage:        "employee_languages",
	models.FactCertification:   "employee_certifications",
	models.FactPublication:     "employee_publications",
	models.FactProject:         "employee_projects",
	models.FactAward:           "employee_awards",
	models.FactDomainKnowledge: "employee_domain_knowledge",
	models.FactRole:            "employee_roles",
	models.FactAdditionalInfo:  "employee_additional_info",
}

func factTable(kind models.FactKind) (string, error) {
	table, ok := factTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown fact kind %q", kind)
	}
	return table, nil
}

// DeleteCVFacts removes every CV-sourced row of one kind for the employee.
func (s *Store) DeleteCVFacts(ctx context.Context, kind models.FactKind, scope models.FactScope) (int64, error) {
	table, err := factTable(kind)
	if err != nil {
		return 0, err
	}

	res, err := s.exec(ctx,
		`DELETE FROM `+table+` WHERE employee_id = ? AND tenant_id = ? AND source = ?`,
		scope.EmployeeID, scope.TenantID, models.SourceCV,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s rows: %w", kind, err)
	}
	return res.RowsAffected()
}

// CountFacts counts the rows of one kind written by an extraction.
func (s *Store) CountFacts(ctx context.Context, kind models.FactKind, extractionID string) (int, error) {
	table, err := factTable(kind)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE extraction_id = ?`, extractionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", kind, err)
	}
	return n, nil
}

// CountEmployeeFacts counts all rows of one kind held by the employee.
func (s *Store) CountEmployeeFacts(ctx context.Context, kind models.FactKind, tenantID string, employeeID int64) (int, error) {
	table, err := factTable(kind)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.queryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE employee_id = ? AND tenant_id = ?`,
		employeeID, tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", kind, err)
	}
	return n, nil
}

// UpsertSkill inserts or updates the (employee, skill) row. Null incoming
// values never clear stored ones.
func (s *Store) UpsertSkill(ctx context.Context, scope models.FactScope, f models.SkillFact) error {
	now := s.nowMillis()
	source := f.Source
	if source == "" {
		source = models.SourceCV
	}

	query := `
		INSERT INTO employee_skills (employee_id, tenant_id, extraction_id, skill_id, proficiency_level,
			years_experience, last_used_date, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, skill_id) DO UPDATE SET
			proficiency_level = COALESCE(excluded.proficiency_level, employee_skills.proficiency_level),
			years_experience = COALESCE(excluded.years_experience, employee_skills.years_experience),
			last_used_date = COALESCE(excluded.last_used_date, employee_skills.last_used_date),
			source = excluded.source,
			extraction_id = COALESCE(excluded.extraction_id, employee_skills.extraction_id),
			updated_at = excluded.updated_at
	`

	_, err := s.exec(ctx, query,
		scope.EmployeeID,
		scope.TenantID,
		nullString(scope.ExtractionID),
		f.SkillID,
		nullFloat(f.ProficiencyLevel),
		nullFloat(f.YearsExperience),
		f.LastUsedDate,
		source,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert skill %d: %w", f.SkillID, err)
	}
	return nil
}

func (s *Store) ListSkills(ctx context.Context, tenantID string, employeeID int64) ([]models.SkillFact, error) {
	query := `
		SELECT id, skill_id, proficiency_level, years_experience, last_used_date, source, extraction_id
		FROM employee_skills
		WHERE employee_id = ? AND tenant_id = ?
		ORDER BY skill_id
	`

	rows, err := s.query(ctx, query, employeeID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()

	var out []models.SkillFact
	for rows.Next() {
		var f models.SkillFact
		var prof, years sql.NullFloat64
		var lastUsed, extractionID sql.NullString
		if err := rows.Scan(&f.ID, &f.SkillID, &prof, &years, &lastUsed, &f.Source, &extractionID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if prof.Valid {
			f.ProficiencyLevel = &prof.Float64
		}
		if years.Valid {
			f.YearsExperience = &years.Float64
		}
		f.LastUsedDate = stringPtr(lastUsed)
		f.ExtractionID = stringPtr(extractionID)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) InsertEducation(ctx context.Context, scope models.FactScope, f models.EducationFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_education (employee_id, tenant_id, extraction_id, degree_id, degree_name, institution,
			field_of_study, start_date, end_date, grade, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		nullInt64(f.DegreeID), f.DegreeName, f.Institution, nullString(f.FieldOfStudy),
		f.StartDate, f.EndDate, nullString(f.Grade), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert education: %w", err)
	}
	return nil
}

func (s *Store) InsertWorkExperience(ctx context.Context, scope models.FactScope, f models.WorkExperienceFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_work_experiences (employee_id, tenant_id, extraction_id, company, company_canonical,
			job_title, location, start_date, end_date, is_current, description, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.Company, f.CompanyCanonical, f.JobTitle, nullString(f.Location),
		f.StartDate, f.EndDate, boolToInt(f.IsCurrent), nullString(f.Description),
		models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert work experience: %w", err)
	}
	return nil
}

// UpsertSoftSkill writes a CV soft skill; a manual row for the same soft
// skill is taken over by the CV.
func (s *Store) UpsertSoftSkill(ctx context.Context, scope models.FactScope, f models.SoftSkillFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_soft_skills (employee_id, tenant_id, extraction_id, soft_skill_id, evidence, source,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, soft_skill_id) DO UPDATE SET
			evidence = COALESCE(excluded.evidence, employee_soft_skills.evidence),
			extraction_id = excluded.extraction_id,
			source = excluded.source,
			updated_at = excluded.updated_at
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.SoftSkillID, nullString(f.Evidence), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert soft skill %d: %w", f.SoftSkillID, err)
	}
	return nil
}

func (s *Store) UpsertLanguage(ctx context.Context, scope models.FactScope, f models.LanguageFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_languages (employee_id, tenant_id, extraction_id, language_id, listening, reading,
			spoken_interaction, spoken_production, writing, is_native, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, language_id) DO UPDATE SET
			listening = COALESCE(excluded.listening, employee_languages.listening),
			reading = COALESCE(excluded.reading, employee_languages.reading),
			spoken_interaction = COALESCE(excluded.spoken_interaction, employee_languages.spoken_interaction),
			spoken_production = COALESCE(excluded.spoken_production, employee_languages.spoken_production),
			writing = COALESCE(excluded.writing, employee_languages.writing),
			is_native = excluded.is_native,
			extraction_id = excluded.extraction_id,
			source = excluded.source,
			updated_at = excluded.updated_at
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID), f.LanguageID,
		nullString(f.Listening), nullString(f.Reading), nullString(f.SpokenInteraction),
		nullString(f.SpokenProduction), nullString(f.Writing), boolToInt(f.IsNative),
		models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert language %d: %w", f.LanguageID, err)
	}
	return nil
}

func (s *Store) InsertCertification(ctx context.Context, scope models.FactScope, f models.CertificationFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_certifications (employee_id, tenant_id, extraction_id, certification_id, name, issuer,
			issue_date, expiry_date, credential_id, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		nullInt64(f.CertificationID), f.Name, nullString(f.Issuer), f.IssueDate, f.ExpiryDate,
		nullString(f.CredentialID), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert certification: %w", err)
	}
	return nil
}

func (s *Store) InsertPublication(ctx context.Context, scope models.FactScope, f models.PublicationFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_publications (employee_id, tenant_id, extraction_id, title, publisher,
			publication_date, url, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.Title, nullString(f.Publisher), f.Date, nullString(f.URL), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert publication: %w", err)
	}
	return nil
}

func (s *Store) InsertProject(ctx context.Context, scope models.FactScope, f models.ProjectFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_projects (employee_id, tenant_id, extraction_id, name, role, description,
			start_date, end_date, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.Name, nullString(f.Role), nullString(f.Description), f.StartDate, f.EndDate,
		models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (s *Store) InsertAward(ctx context.Context, scope models.FactScope, f models.AwardFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_awards (employee_id, tenant_id, extraction_id, title, issuer, award_date,
			description, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.Title, nullString(f.Issuer), f.Date, nullString(f.Description), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert award: %w", err)
	}
	return nil
}

func (s *Store) InsertDomainKnowledge(ctx context.Context, scope models.FactScope, f models.DomainKnowledgeFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_domain_knowledge (employee_id, tenant_id, extraction_id, knowledge_type, name,
			years_experience, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.KnowledgeType, f.Name, nullFloat(f.YearsExperience), models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert domain knowledge: %w", err)
	}
	return nil
}

func (s *Store) InsertAdditionalInfo(ctx context.Context, scope models.FactScope, f models.AdditionalInfoFact) error {
	now := s.nowMillis()
	_, err := s.exec(ctx, `
		INSERT INTO employee_additional_info (employee_id, tenant_id, extraction_id, category, content, source,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.Category, f.Content, models.SourceCV, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert additional info: %w", err)
	}
	return nil
}

// UpsertRole writes the employee's single role assignment. A CV-sourced row is
// updated in place; a manually assigned role is left alone. It returns the
// number of rows written (0 or 1).
func (s *Store) UpsertRole(ctx context.Context, scope models.FactScope, f models.RoleFact) (int, error) {
	now := s.nowMillis()
	res, err := s.exec(ctx, `
		INSERT INTO employee_roles (employee_id, tenant_id, extraction_id, role_id, sub_role_id, seniority, source,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			role_id = excluded.role_id,
			sub_role_id = excluded.sub_role_id,
			seniority = COALESCE(excluded.seniority, employee_roles.seniority),
			extraction_id = excluded.extraction_id,
			updated_at = excluded.updated_at
		WHERE employee_roles.source = ?
	`,
		scope.EmployeeID, scope.TenantID, nullString(scope.ExtractionID),
		f.RoleID, nullInt64(f.SubRoleID), nullString(f.Seniority), models.SourceCV, now, now,
		models.SourceCV,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetRole(ctx context.Context, tenantID string, employeeID int64) (*models.RoleFact, error) {
	var f models.RoleFact
	var subRole sql.NullInt64
	var seniority sql.NullString
	err := s.queryRow(ctx,
		`SELECT role_id, sub_role_id, seniority, source FROM employee_roles WHERE employee_id = ? AND tenant_id = ?`,
		employeeID, tenantID,
	).Scan(&f.RoleID, &subRole, &seniority, &f.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if subRole.Valid {
		f.SubRoleID = &subRole.Int64
	}
	f.Seniority = seniority.String
	return &f, nil
}

// ListEducation is a read helper for the replace-set tables.
func (s *Store) ListEducation(ctx context.Context, tenantID string, employeeID int64) ([]models.EducationFact, []string, error) {
	rows, err := s.query(ctx, `
		SELECT degree_id, degree_name, institution, field_of_study, start_date, end_date, grade, extraction_id
		FROM employee_education
		WHERE employee_id = ? AND tenant_id = ?
		ORDER BY id
	`, employeeID, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list education: %w", err)
	}
	defer rows.Close()

	var facts []models.EducationFact
	var extractionIDs []string
	for rows.Next() {
		var f models.EducationFact
		var degree sql.NullInt64
		var field, start, end, grade, extractionID sql.NullString
		if err := rows.Scan(&degree, &f.DegreeName, &f.Institution, &field, &start, &end, &grade, &extractionID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if degree.Valid {
			f.DegreeID = &degree.Int64
		}
		f.FieldOfStudy = field.String
		f.StartDate = stringPtr(start)
		f.EndDate = stringPtr(end)
		f.Grade = grade.String
		facts = append(facts, f)
		extractionIDs = append(extractionIDs, extractionID.String)
	}
	return facts, extractionIDs, rows.Err()
}
