package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hr-platform/backend/internal/catalog"
	"github.com/hr-platform/backend/internal/llm"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/utils"
)

const (
	maxProficiency = 10
	maxYears       = 60
)

// Resolver maps model output onto the reference catalog.
type Resolver interface {
	Skill(ctx context.Context, id *int64) (int64, bool, error)
	Language(ctx context.Context, id *int64, name string) (int64, bool, error)
	SoftSkill(ctx context.Context, id *int64, name string) (int64, bool, error)
	Certification(ctx context.Context, id *int64, name string) (int64, bool, error)
	Degree(ctx context.Context, id *int64, name string) (int64, bool, error)
	Role(ctx context.Context, roleID *int64, roleName string, subRoleID *int64, subRoleName string) (*catalog.RoleMatch, error)
	Hints(ctx context.Context, limit int) (llm.CatalogHints, error)
}

// ImportPlan is a CV extraction after normalization and reference
// resolution, ready to be written.
type ImportPlan struct {
	Employee        models.EmployeePatch
	Education       []models.EducationFact
	WorkExperience  []models.WorkExperienceFact
	Skills          []models.SkillFact
	SoftSkills      []models.SoftSkillFact
	Languages       []models.LanguageFact
	Certifications  []models.CertificationFact
	Publications    []models.PublicationFact
	Projects        []models.ProjectFact
	Awards          []models.AwardFact
	DomainKnowledge []models.DomainKnowledgeFact
	Role            *models.RoleFact
	AdditionalInfo  []models.AdditionalInfoFact

	// Misses and skipped names collected while resolving.
	Unresolved     map[string]int
	SkillsNotFound int
}

func (p *ImportPlan) miss(kind string) {
	p.Unresolved[kind]++
}

// buildPlan normalizes cv and resolves its references. Only catalog reads
// happen here; nothing is written.
func buildPlan(ctx context.Context, r Resolver, cv *models.CVExtraction) (*ImportPlan, error) {
	plan := &ImportPlan{
		Unresolved:     map[string]int{},
		SkillsNotFound: len(cv.Skills.NotFound),
	}

	pi := cv.PersonalInfo
	plan.Employee = models.EmployeePatch{
		FirstName: strings.TrimSpace(pi.FirstName),
		LastName:  strings.TrimSpace(pi.LastName),
		Phone:     strings.TrimSpace(pi.Phone),
		Position:  strings.TrimSpace(pi.Position),
		Location:  strings.TrimSpace(pi.Location),
		Summary:   strings.TrimSpace(pi.Summary),
	}

	if err := plan.addEducation(ctx, r, cv.Education); err != nil {
		return nil, err
	}
	plan.addWorkExperience(cv.WorkExperience)
	if err := plan.addSkills(ctx, r, cv.Skills.ExtractedSkills); err != nil {
		return nil, err
	}
	if err := plan.addSoftSkills(ctx, r, cv.SoftSkills); err != nil {
		return nil, err
	}
	if err := plan.addLanguages(ctx, r, cv.Languages); err != nil {
		return nil, err
	}
	if err := plan.addCertifications(ctx, r, cv.Certifications); err != nil {
		return nil, err
	}

	for _, p := range cv.Publications {
		if title := strings.TrimSpace(p.Title); title != "" {
			plan.Publications = append(plan.Publications, models.PublicationFact{
				Title:     title,
				Publisher: strings.TrimSpace(p.Publisher),
				Date:      isoDate(p.Date),
				URL:       strings.TrimSpace(p.URL),
			})
		}
	}
	for _, p := range cv.Projects {
		if name := strings.TrimSpace(p.Name); name != "" {
			plan.Projects = append(plan.Projects, models.ProjectFact{
				Name:        name,
				Role:        strings.TrimSpace(p.Role),
				Description: strings.TrimSpace(p.Description),
				StartDate:   isoDate(p.StartDate),
				EndDate:     isoDate(p.EndDate),
			})
		}
	}
	for _, a := range cv.Awards {
		if title := strings.TrimSpace(a.Title); title != "" {
			plan.Awards = append(plan.Awards, models.AwardFact{
				Title:       title,
				Issuer:      strings.TrimSpace(a.Issuer),
				Date:        isoDate(a.Date),
				Description: strings.TrimSpace(a.Description),
			})
		}
	}

	plan.addDomainKnowledge(cv.DomainKnowledge)

	if err := plan.addRole(ctx, r, cv.Role); err != nil {
		return nil, err
	}

	for _, item := range cv.AdditionalInfo {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(item.Category))
		if category == "" {
			category = "other"
		}
		plan.AdditionalInfo = append(plan.AdditionalInfo, models.AdditionalInfoFact{Category: category, Content: content})
	}

	return plan, nil
}

// Education and certification rows are kept when their catalog reference
// misses; the reference column stays null.
func (p *ImportPlan) addEducation(ctx context.Context, r Resolver, items []models.Education) error {
	for _, e := range items {
		degreeName := strings.TrimSpace(e.DegreeName)
		institution := strings.TrimSpace(e.Institution)
		if degreeName == "" && institution == "" {
			continue
		}

		fact := models.EducationFact{
			DegreeName:   degreeName,
			Institution:  institution,
			FieldOfStudy: strings.TrimSpace(e.FieldOfStudy),
			StartDate:    isoDate(e.StartDate),
			EndDate:      isoDate(e.EndDate),
			Grade:        strings.TrimSpace(e.Grade),
		}
		if e.DegreeID != nil || degreeName != "" {
			id, ok, err := r.Degree(ctx, e.DegreeID, degreeName)
			if err != nil {
				return fmt.Errorf("failed to resolve degree: %w", err)
			}
			if ok {
				fact.DegreeID = &id
			} else {
				p.miss("education_degree")
			}
		}
		p.Education = append(p.Education, fact)
	}
	return nil
}

func (p *ImportPlan) addWorkExperience(items []models.WorkExperience) {
	seen := map[string]int{}
	for _, w := range items {
		company := strings.TrimSpace(w.Company)
		title := strings.TrimSpace(w.JobTitle)
		if company == "" && title == "" {
			continue
		}

		fact := models.WorkExperienceFact{
			Company:          company,
			CompanyCanonical: CanonicalCompany(company),
			JobTitle:         title,
			Location:         strings.TrimSpace(w.Location),
			StartDate:        isoDate(w.StartDate),
			EndDate:          isoDate(w.EndDate),
			IsCurrent:        w.EndDate != nil && w.EndDate.Ongoing,
			Description:      strings.TrimSpace(w.Description),
		}

		key := fact.CompanyCanonical + "|" + strings.ToLower(title) + "|" + derefOr(fact.StartDate, "")
		if i, dup := seen[key]; dup {
			prev := &p.WorkExperience[i]
			if prev.Description == "" {
				prev.Description = fact.Description
			}
			if prev.Location == "" {
				prev.Location = fact.Location
			}
			if prev.EndDate == nil && !prev.IsCurrent {
				prev.EndDate = fact.EndDate
				prev.IsCurrent = fact.IsCurrent
			}
			continue
		}
		seen[key] = len(p.WorkExperience)
		p.WorkExperience = append(p.WorkExperience, fact)
	}
}

// addSkills keeps only skills carrying a catalog id. Repeated ids merge into
// one row holding the highest values.
func (p *ImportPlan) addSkills(ctx context.Context, r Resolver, items []models.ExtractedSkill) error {
	seen := map[int64]int{}
	for _, s := range items {
		id, ok, err := r.Skill(ctx, s.SkillID)
		if err != nil {
			return fmt.Errorf("failed to resolve skill: %w", err)
		}
		if !ok {
			p.miss("skill")
			continue
		}

		fact := models.SkillFact{
			SkillID:          id,
			ProficiencyLevel: clamp(s.ProficiencyLevel, maxProficiency),
			YearsExperience:  clamp(s.YearsExperience, maxYears),
			LastUsedDate:     yearDate(s.LastUsedYear),
			Source:           models.SourceCV,
		}

		if i, dup := seen[id]; dup {
			prev := &p.Skills[i]
			prev.ProficiencyLevel = maxPtr(prev.ProficiencyLevel, fact.ProficiencyLevel)
			prev.YearsExperience = maxPtr(prev.YearsExperience, fact.YearsExperience)
			if prev.LastUsedDate == nil || (fact.LastUsedDate != nil && *fact.LastUsedDate > *prev.LastUsedDate) {
				prev.LastUsedDate = fact.LastUsedDate
			}
			continue
		}
		seen[id] = len(p.Skills)
		p.Skills = append(p.Skills, fact)
	}
	return nil
}

func (p *ImportPlan) addSoftSkills(ctx context.Context, r Resolver, items []models.SoftSkill) error {
	seen := map[int64]bool{}
	for _, s := range items {
		id, ok, err := r.SoftSkill(ctx, s.SoftSkillID, s.Name)
		if err != nil {
			return fmt.Errorf("failed to resolve soft skill: %w", err)
		}
		if !ok {
			p.miss("soft_skill")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		p.SoftSkills = append(p.SoftSkills, models.SoftSkillFact{SoftSkillID: id, Evidence: strings.TrimSpace(s.Evidence)})
	}
	return nil
}

func (p *ImportPlan) addLanguages(ctx context.Context, r Resolver, items []models.Language) error {
	seen := map[int64]int{}
	for _, l := range items {
		id, ok, err := r.Language(ctx, l.LanguageID, l.Name)
		if err != nil {
			return fmt.Errorf("failed to resolve language: %w", err)
		}
		if !ok {
			p.miss("language")
			continue
		}
		if i, dup := seen[id]; dup {
			p.Languages[i].IsNative = p.Languages[i].IsNative || l.IsNative
			continue
		}
		seen[id] = len(p.Languages)
		p.Languages = append(p.Languages, models.LanguageFact{
			LanguageID:        id,
			Listening:         cefLevel(l.Listening),
			Reading:           cefLevel(l.Reading),
			SpokenInteraction: cefLevel(l.SpokenInteraction),
			SpokenProduction:  cefLevel(l.SpokenProduction),
			Writing:           cefLevel(l.Writing),
			IsNative:          l.IsNative,
		})
	}
	return nil
}

func (p *ImportPlan) addCertifications(ctx context.Context, r Resolver, items []models.Certification) error {
	for _, c := range items {
		name := strings.TrimSpace(c.Name)
		if name == "" && c.CertificationID == nil {
			continue
		}
		fact := models.CertificationFact{
			Name:         name,
			Issuer:       strings.TrimSpace(c.Issuer),
			IssueDate:    isoDate(c.IssueDate),
			ExpiryDate:   isoDate(c.ExpiryDate),
			CredentialID: strings.TrimSpace(c.CredentialID),
		}
		id, ok, err := r.Certification(ctx, c.CertificationID, name)
		if err != nil {
			return fmt.Errorf("failed to resolve certification: %w", err)
		}
		if ok {
			fact.CertificationID = &id
		} else {
			p.miss("certification")
		}
		p.Certifications = append(p.Certifications, fact)
	}
	return nil
}

func (p *ImportPlan) addDomainKnowledge(dk models.DomainKnowledge) {
	seen := map[string]bool{}
	add := func(kind string, items []models.DomainItem) {
		for _, it := range items {
			name := strings.TrimSpace(it.Name)
			key := kind + "|" + strings.ToLower(name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			p.DomainKnowledge = append(p.DomainKnowledge, models.DomainKnowledgeFact{
				KnowledgeType:   kind,
				Name:            name,
				YearsExperience: clamp(it.YearsExperience, maxYears),
			})
		}
	}
	add(models.DomainIndustry, dk.Industries)
	add(models.DomainClientSector, dk.ClientSectors)
	add(models.DomainBusinessProcess, dk.BusinessProcesses)
	add(models.DomainStandard, dk.Standards)
}

func (p *ImportPlan) addRole(ctx context.Context, r Resolver, role *models.RoleAssignment) error {
	if role == nil || (role.RoleID == nil && strings.TrimSpace(role.RoleName) == "") {
		return nil
	}
	match, err := r.Role(ctx, role.RoleID, role.RoleName, role.SubRoleID, role.SubRoleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}
	if match == nil {
		p.miss("role")
		return nil
	}
	if match.SubRoleMissed {
		p.miss("sub_role")
	}
	p.Role = &models.RoleFact{
		RoleID:    match.RoleID,
		SubRoleID: match.SubRoleID,
		Seniority: strings.ToLower(strings.TrimSpace(role.Seniority)),
		Source:    models.SourceCV,
	}
	return nil
}

var legalSuffixes = map[string]bool{
	"srl": true, "spa": true, "inc": true, "ltd": true, "corporation": true, "gmbh": true,
	"llc": true, "corp": true,
}

var connectives = map[string]bool{"and": true, "e": true, "&": true, "-": true}

// CanonicalCompany reduces a company name to the form used to detect
// duplicate work experiences: "Rossi & Bianchi S.r.l." -> "rossi bianchi".
func CanonicalCompany(name string) string {
	s := strings.ReplaceAll(strings.ToLower(name), ".", "")

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&' || r == '-':
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteByte(' ')
		}
	}

	var parts []string
	for _, tok := range strings.Fields(b.String()) {
		if connectives[tok] || legalSuffixes[tok] {
			continue
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, " ")
}

// isoDate renders a partial date as yyyy-mm-dd. A missing month is January;
// ongoing or yearless dates have no value.
func isoDate(d *models.PartialDate) *string {
	if d == nil || d.Ongoing || d.Year == nil {
		return nil
	}
	year := *d.Year
	if year < 1900 || year > 2100 {
		return nil
	}
	month := 1
	if d.Month != nil && *d.Month >= 1 && *d.Month <= 12 {
		month = *d.Month
	}
	s := fmt.Sprintf("%04d-%02d-01", year, month)
	return &s
}

func yearDate(year *int) *string {
	if year == nil {
		return nil
	}
	return isoDate(&models.PartialDate{Year: year})
}

func clamp(v *float64, hi float64) *float64 {
	if v == nil {
		return nil
	}
	c := utils.Clamp(*v, 0, hi)
	return &c
}

func maxPtr(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

var cefLevels = map[string]bool{"A1": true, "A2": true, "B1": true, "B2": true, "C1": true, "C2": true}

// cefLevel accepts CEF levels only; anything else becomes empty and is
// stored as NULL.
func cefLevel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if cefLevels[s] {
		return s
	}
	return ""
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
