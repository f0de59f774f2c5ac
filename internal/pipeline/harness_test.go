package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/internal/blob"
	"github.com/hr-platform/backend/internal/catalog"
	"github.com/hr-platform/backend/internal/llm"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/internal/storage/sqldb"
	"github.com/hr-platform/backend/internal/usage"
	"github.com/hr-platform/backend/pkg/config"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

var pdfMime = "application/pdf"

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	return &llm.CompletionResponse{
		Content: p.replies[i],
		Model:   "gpt-4o-mini",
		Usage:   llm.Usage{PromptTokens: 900, CompletionTokens: 300, TotalTokens: 1200},
	}, nil
}

func (p *scriptedProvider) reply(content string) {
	p.mu.Lock()
	p.replies = append(p.replies, content)
	p.mu.Unlock()
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeText struct {
	err error
}

func (f *fakeText) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Curriculum vitae\n" + string(data), nil
}

type memBlobs struct {
	mu     sync.Mutex
	data   map[string][]byte
	puts   int
	putErr error
	getErr error

	// afterPut runs once a put has landed, outside the store's lock.
	afterPut func()
}

func (m *memBlobs) Put(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	m.mu.Lock()
	if m.putErr != nil {
		m.mu.Unlock()
		return "", m.putErr
	}
	key := blob.Key(data, filename)
	m.data[key] = append([]byte(nil), data...)
	m.puts++
	hook := m.afterPut
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return key, nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobs) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (c *memCache) GetStatus(ctx context.Context, id string, status any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[id]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, status)
}

func (c *memCache) SetStatus(ctx context.Context, id string, status any) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[id] = data
	c.mu.Unlock()
	return nil
}

func (c *memCache) InvalidateStatus(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}

// flakyWriter fails skill upserts while failures is positive.
type flakyWriter struct {
	factWriter
	failures *int
	err      error
}

func (f flakyWriter) UpsertSkill(ctx context.Context, scope models.FactScope, s models.SkillFact) error {
	if *f.failures > 0 {
		*f.failures--
		return f.err
	}
	return f.factWriter.UpsertSkill(ctx, scope, s)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *sqldb.Store
	blobs    *memBlobs
	text     *fakeText
	provider *scriptedProvider
	o        *Orchestrator
}

func newHarness(t *testing.T, autoImport bool) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqldb.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "pipeline.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: tenantA, Slug: "a", Active: true}))
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: tenantB, Slug: "b", Active: true}))
	for _, e := range []models.Employee{
		{ID: 91, TenantID: tenantA, FirstName: "Mario", LastName: "Rossi", Email: "mario@example.com", Active: true},
		{ID: 42, TenantID: tenantA, FirstName: "Giulia", LastName: "Verdi", Email: "giulia@example.com", Active: true},
		{ID: 500, TenantID: tenantB, FirstName: "Other", LastName: "Tenant", Email: "other@example.com", Active: true},
	} {
		e := e
		require.NoError(t, store.CreateEmployee(ctx, &e))
	}
	seedCatalog(t, store)

	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    store,
		blobs:    &memBlobs{data: map[string][]byte{}},
		text:     &fakeText{},
		provider: &scriptedProvider{},
	}

	client := llm.NewClient(h.provider, llm.Options{Model: "gpt-4o-mini", Timeout: 5 * time.Second})
	h.o = NewOrchestrator(Deps{
		Store:    store,
		Blobs:    h.blobs,
		Text:     h.text,
		LLM:      client,
		Resolver: catalog.NewResolver(store),
		Usage:    usage.NewLogger(store, nil),
	}, Options{
		MaxRetries:        3,
		ImportTimeout:     10 * time.Second,
		MaxUploadBytes:    1 << 20,
		AcceptedMimeTypes: []string{pdfMime, "application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		AutoImport:        autoImport,
	})
	return h
}

func seedCatalog(t *testing.T, store *sqldb.Store) {
	t.Helper()
	seed := []struct {
		kind  sqldb.RefKind
		items []sqldb.RefItem
	}{
		{sqldb.RefSkill, []sqldb.RefItem{
			{ID: 276, Name: "Go"}, {ID: 278, Name: "Docker"}, {ID: 284, Name: "Python"},
			{ID: 294, Name: "Terraform"}, {ID: 821, Name: "PostgreSQL"}, {ID: 1365, Name: "Kubernetes"},
		}},
		{sqldb.RefLanguage, []sqldb.RefItem{{ID: 1, Name: "Italian"}, {ID: 2, Name: "English"}}},
		{sqldb.RefRole, []sqldb.RefItem{{ID: 3, Name: "Software Engineer"}}},
		{sqldb.RefSubRole, []sqldb.RefItem{{ID: 30, ParentID: 3, Name: "Backend"}}},
		{sqldb.RefDegree, []sqldb.RefItem{{ID: 5, Name: "Master's Degree"}}},
		{sqldb.RefCertification, []sqldb.RefItem{{ID: 7, Name: "AWS Solutions Architect"}}},
		{sqldb.RefSoftSkill, []sqldb.RefItem{{ID: 9, Name: "Leadership"}}},
	}
	for _, s := range seed {
		for _, it := range s.items {
			require.NoError(t, store.UpsertReference(context.Background(), s.kind, it))
		}
	}
}

func hrPrincipal() access.Principal {
	return access.Principal{UserID: "hr-1", TenantID: tenantA, Role: access.RoleHR}
}

func employeePrincipal(id int64) access.Principal {
	return access.Principal{UserID: "emp-user", TenantID: tenantA, Role: access.RoleEmployee, EmployeeID: &id}
}

func (h *harness) upload(employeeID int64, content string) *models.Extraction {
	h.t.Helper()
	ext, err := h.o.Upload(h.ctx, hrPrincipal(), UploadRequest{
		EmployeeID: employeeID,
		Filename:   "cv.pdf",
		MimeType:   pdfMime,
		Data:       []byte(content),
	})
	require.NoError(h.t, err)
	return ext
}

func (h *harness) get(id string) *models.Extraction {
	h.t.Helper()
	ext, err := h.store.GetExtraction(h.ctx, id)
	require.NoError(h.t, err)
	return ext
}

// process uploads a document, scripts the model reply and runs the
// extraction to its end state.
func (h *harness) process(employeeID int64, document string, reply string) *models.Extraction {
	h.t.Helper()
	h.provider.reply(reply)
	ext := h.upload(employeeID, document)
	require.NoError(h.t, h.o.Run(h.ctx, ext.ID))
	return h.get(ext.ID)
}

func (h *harness) useFlakyWriter(failures *int, err error) {
	h.o.writer = func(tx *sqldb.Store) factWriter {
		return flakyWriter{factWriter: tx, failures: failures, err: err}
	}
}

func ptr[T any](v T) *T { return &v }

// emptyCV has every required section present and empty.
func emptyCV() models.CVExtraction {
	return models.CVExtraction{
		Education:      []models.Education{},
		WorkExperience: []models.WorkExperience{},
		Skills:         models.SkillsSection{ExtractedSkills: []models.ExtractedSkill{}, NotFound: []string{}},
		SoftSkills:     []models.SoftSkill{},
		Languages:      []models.Language{},
		Certifications: []models.Certification{},
		Publications:   []models.Publication{},
		Projects:       []models.Project{},
		Awards:         []models.Award{},
		DomainKnowledge: models.DomainKnowledge{
			Industries:        []models.DomainItem{},
			ClientSectors:     []models.DomainItem{},
			BusinessProcesses: []models.DomainItem{},
			Standards:         []models.DomainItem{},
		},
	}
}

func skill(id int64, proficiency float64) models.ExtractedSkill {
	return models.ExtractedSkill{SkillID: ptr(id), ProficiencyLevel: ptr(proficiency), YearsExperience: ptr(3.0)}
}

// fullCV is the reference payload: 3 educations, 2 work experiences, 6
// skills and a role.
func fullCV() models.CVExtraction {
	cv := emptyCV()
	cv.PersonalInfo = models.PersonalInfo{FirstName: "Mario", LastName: "Rossi", Phone: "+39 333 1234567", Position: "Senior Backend Engineer"}
	cv.Education = []models.Education{
		{DegreeID: ptr(int64(5)), DegreeName: "Master's Degree", Institution: "Politecnico di Milano", FieldOfStudy: "Computer Science",
			StartDate: &models.PartialDate{Year: ptr(2010)}, EndDate: &models.PartialDate{Year: ptr(2012), Month: ptr(7)}},
		{DegreeName: "Bachelor", Institution: "Università di Pavia", StartDate: &models.PartialDate{Year: ptr(2007)}},
		{DegreeName: "High School Diploma", Institution: "Liceo Volta"},
	}
	cv.WorkExperience = []models.WorkExperience{
		{Company: "Acme S.r.l.", JobTitle: "Backend Engineer", StartDate: &models.PartialDate{Year: ptr(2015), Month: ptr(3)},
			EndDate: &models.PartialDate{Ongoing: true}},
		{Company: "Rossi & Bianchi SpA", JobTitle: "Developer", StartDate: &models.PartialDate{Year: ptr(2012), Month: ptr(9)},
			EndDate: &models.PartialDate{Year: ptr(2015), Month: ptr(2)}},
	}
	cv.Skills.ExtractedSkills = []models.ExtractedSkill{
		skill(276, 8), skill(821, 7), skill(1365, 6), skill(278, 7), skill(284, 5), skill(294, 4),
	}
	cv.Skills.NotFound = []string{"COBOL"}
	cv.SoftSkills = []models.SoftSkill{{Name: "leadership", Evidence: "led a team of 5"}}
	cv.Languages = []models.Language{
		{LanguageID: ptr(int64(1)), Name: "Italian", IsNative: true},
		{Name: "English", Listening: "c1", Reading: "C1", SpokenInteraction: "B2", SpokenProduction: "B2", Writing: "B2"},
	}
	cv.Certifications = []models.Certification{{CertificationID: ptr(int64(7)), Name: "AWS Solutions Architect", Issuer: "Amazon"}}
	cv.Projects = []models.Project{{Name: "Payments platform", Role: "Tech lead"}}
	cv.DomainKnowledge.Industries = []models.DomainItem{{Name: "Banking", YearsExperience: ptr(4.0)}}
	cv.Role = &models.RoleAssignment{RoleID: ptr(int64(3)), SubRoleID: ptr(int64(30)), Seniority: "Senior"}
	return cv
}

func encode(t *testing.T, cv models.CVExtraction) string {
	t.Helper()
	data, err := json.Marshal(cv)
	require.NoError(t, err)
	return string(data)
}

var countedKinds = []models.FactKind{
	models.FactEducation, models.FactWorkExperience, models.FactSkill, models.FactSoftSkill,
	models.FactLanguage, models.FactCertification, models.FactPublication, models.FactProject,
	models.FactAward, models.FactDomainKnowledge, models.FactRole, models.FactAdditionalInfo,
}

func statCounter(stats *models.ImportStats, kind models.FactKind) int {
	switch kind {
	case models.FactEducation:
		return stats.EducationSaved
	case models.FactWorkExperience:
		return stats.WorkExperiencesSaved
	case models.FactSkill:
		return stats.SkillsSaved
	case models.FactSoftSkill:
		return stats.SoftSkillsSaved
	case models.FactLanguage:
		return stats.LanguagesSaved
	case models.FactCertification:
		return stats.CertificationsSaved
	case models.FactPublication:
		return stats.PublicationsSaved
	case models.FactProject:
		return stats.ProjectsSaved
	case models.FactAward:
		return stats.AwardsSaved
	case models.FactDomainKnowledge:
		return stats.DomainKnowledgeSaved
	case models.FactRole:
		return stats.RolesSaved
	case models.FactAdditionalInfo:
		return stats.AdditionalInfoSaved
	}
	return -1
}

func (h *harness) employeeFactCount(employeeID int64) int {
	h.t.Helper()
	total := 0
	for _, kind := range countedKinds {
		n, err := h.store.CountEmployeeFacts(h.ctx, kind, tenantA, employeeID)
		require.NoError(h.t, err)
		total += n
	}
	return total
}
