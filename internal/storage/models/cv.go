package models

// CVExtraction is the structured object the language model returns for one CV.
// Field names follow the JSON contract sent to the model.
type CVExtraction struct {
	PersonalInfo    PersonalInfo         `json:"personal_info"`
	Education       []Education          `json:"education"`
	WorkExperience  []WorkExperience     `json:"work_experience"`
	Skills          SkillsSection        `json:"skills"`
	SoftSkills      []SoftSkill          `json:"soft_skills"`
	Languages       []Language           `json:"languages"`
	Certifications  []Certification      `json:"certifications"`
	Publications    []Publication        `json:"publications"`
	Projects        []Project            `json:"projects"`
	Awards          []Award              `json:"awards"`
	DomainKnowledge DomainKnowledge      `json:"domain_knowledge"`
	Role            *RoleAssignment      `json:"role,omitempty"`
	AdditionalInfo  []AdditionalInfoItem `json:"additional_info,omitempty"`
}

// PartialDate is a date as the model read it from free text.
type PartialDate struct {
	Year    *int `json:"year,omitempty"`
	Month   *int `json:"month,omitempty"`
	Ongoing bool `json:"ongoing,omitempty"`
}

type PersonalInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Position  string `json:"position"`
	Location  string `json:"location"`
	Summary   string `json:"summary"`
}

type Education struct {
	DegreeID     *int64       `json:"degree_id,omitempty"`
	DegreeName   string       `json:"degree_name"`
	Institution  string       `json:"institution"`
	FieldOfStudy string       `json:"field_of_study"`
	StartDate    *PartialDate `json:"start_date,omitempty"`
	EndDate      *PartialDate `json:"end_date,omitempty"`
	Grade        string       `json:"grade"`
}

type WorkExperience struct {
	Company     string       `json:"company"`
	JobTitle    string       `json:"job_title"`
	Location    string       `json:"location"`
	StartDate   *PartialDate `json:"start_date,omitempty"`
	EndDate     *PartialDate `json:"end_date,omitempty"`
	Description string       `json:"description"`
}

type SkillsSection struct {
	ExtractedSkills []ExtractedSkill `json:"extracted_skills"`
	NotFound        []string         `json:"not_found"`
}

type ExtractedSkill struct {
	SkillID          *int64   `json:"skill_id,omitempty"`
	SkillName        string   `json:"skill_name"`
	ProficiencyLevel *float64 `json:"proficiency_level,omitempty"`
	YearsExperience  *float64 `json:"years_experience,omitempty"`
	LastUsedYear     *int     `json:"last_used_year,omitempty"`
}

type SoftSkill struct {
	SoftSkillID *int64 `json:"soft_skill_id,omitempty"`
	Name        string `json:"name"`
	Evidence    string `json:"evidence"`
}

// Language levels use the CEF scale (A1..C2).
type Language struct {
	LanguageID        *int64 `json:"language_id,omitempty"`
	Name              string `json:"name"`
	Listening         string `json:"listening"`
	Reading           string `json:"reading"`
	SpokenInteraction string `json:"spoken_interaction"`
	SpokenProduction  string `json:"spoken_production"`
	Writing           string `json:"writing"`
	IsNative          bool   `json:"is_native"`
}

type Certification struct {
	CertificationID *int64       `json:"certification_id,omitempty"`
	Name            string       `json:"name"`
	Issuer          string       `json:"issuer"`
	IssueDate       *PartialDate `json:"issue_date,omitempty"`
	ExpiryDate      *PartialDate `json:"expiry_date,omitempty"`
	CredentialID    string       `json:"credential_id"`
}

type Publication struct {
	Title     string       `json:"title"`
	Publisher string       `json:"publisher"`
	Date      *PartialDate `json:"date,omitempty"`
	URL       string       `json:"url"`
}

type Project struct {
	Name        string       `json:"name"`
	Role        string       `json:"role"`
	Description string       `json:"description"`
	StartDate   *PartialDate `json:"start_date,omitempty"`
	EndDate     *PartialDate `json:"end_date,omitempty"`
}

type Award struct {
	Title       string       `json:"title"`
	Issuer      string       `json:"issuer"`
	Date        *PartialDate `json:"date,omitempty"`
	Description string       `json:"description"`
}

type DomainItem struct {
	Name            string   `json:"name"`
	YearsExperience *float64 `json:"years_experience,omitempty"`
}

type DomainKnowledge struct {
	Industries        []DomainItem `json:"industries"`
	ClientSectors     []DomainItem `json:"client_sectors"`
	BusinessProcesses []DomainItem `json:"business_processes"`
	Standards         []DomainItem `json:"standards"`
}

// Domain knowledge kinds as stored in employee_domain_knowledge.knowledge_type.
const (
	DomainIndustry        = "industry"
	DomainClientSector    = "client_sector"
	DomainBusinessProcess = "business_process"
	DomainStandard        = "standard"
)

type RoleAssignment struct {
	RoleID      *int64 `json:"id_role,omitempty"`
	SubRoleID   *int64 `json:"id_sub_role,omitempty"`
	RoleName    string `json:"role_name,omitempty"`
	SubRoleName string `json:"sub_role_name,omitempty"`
	Seniority   string `json:"seniority"`
}

type AdditionalInfoItem struct {
	Category string `json:"category"`
	Content  string `json:"content"`
}
