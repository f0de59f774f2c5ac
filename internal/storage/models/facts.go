package models

// FactScope identifies the owner and provenance of derived rows written by one
// import.
type FactScope struct {
	TenantID     string
	EmployeeID   int64
	ExtractionID string
}

// FactKind names a derived employee fact table.
type FactKind string

const (
	FactEducation       FactKind = "education"
	FactWorkExperience  FactKind = "work_experience"
	FactSkill           FactKind = "skill"
	FactSoftSkill       FactKind = "soft_skill"
	FactLanguage        FactKind = "language"
	FactCertification   FactKind = "certification"
	FactPublication     FactKind = "publication"
	FactProject         FactKind = "project"
	FactAward           FactKind = "award"
	FactDomainKnowledge FactKind = "domain_knowledge"
	FactRole            FactKind = "role"
	FactAdditionalInfo  FactKind = "additional_info"
)

// Dates below are ISO calendar dates (yyyy-mm-dd); nil means unknown or
// ongoing.

type EducationFact struct {
	DegreeID     *int64
	DegreeName   string
	Institution  string
	FieldOfStudy string
	StartDate    *string
	EndDate      *string
	Grade        string
}

type WorkExperienceFact struct {
	Company          string
	CompanyCanonical string
	JobTitle         string
	Location         string
	StartDate        *string
	EndDate          *string
	IsCurrent        bool
	Description      string
}

type SkillFact struct {
	ID               int64
	SkillID          int64
	ProficiencyLevel *float64
	YearsExperience  *float64
	LastUsedDate     *string
	Source           string
	ExtractionID     *string
}

type SoftSkillFact struct {
	SoftSkillID int64
	Evidence    string
}

type LanguageFact struct {
	LanguageID        int64
	Listening         string
	Reading           string
	SpokenInteraction string
	SpokenProduction  string
	Writing           string
	IsNative          bool
}

type CertificationFact struct {
	CertificationID *int64
	Name            string
	Issuer          string
	IssueDate       *string
	ExpiryDate      *string
	CredentialID    string
}

type PublicationFact struct {
	Title     string
	Publisher string
	Date      *string
	URL       string
}

type ProjectFact struct {
	Name        string
	Role        string
	Description string
	StartDate   *string
	EndDate     *string
}

type AwardFact struct {
	Title       string
	Issuer      string
	Date        *string
	Description string
}

type DomainKnowledgeFact struct {
	KnowledgeType   string
	Name            string
	YearsExperience *float64
}

type RoleFact struct {
	RoleID    int64
	SubRoleID *int64
	Seniority string
	Source    string
}

type AdditionalInfoFact struct {
	Category string
	Content  string
}
