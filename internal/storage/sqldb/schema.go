package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/hr-platform/backend/pkg/logger"
)

// schemaTemplate is shared by both dialects; dialectTokens fills in the few
// column types that differ. Timestamps are unix milliseconds, booleans 0/1,
// calendar dates ISO yyyy-mm-dd text.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	active INTEGER NOT NULL DEFAULT 1,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS employees (
	id {{SERIAL}},
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT,
	position TEXT,
	location TEXT,
	summary TEXT,
	department_id BIGINT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_employees_tenant ON employees(tenant_id);

CREATE TABLE IF NOT EXISTS extractions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	employee_id BIGINT NOT NULL,
	uploaded_by TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	storage_key TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_phase TEXT,
	error_message TEXT,
	llm_model_used TEXT,
	llm_tokens_used INTEGER NOT NULL DEFAULT 0,
	llm_cost {{REAL}} NOT NULL DEFAULT 0,
	extracted_text TEXT,
	extraction_result TEXT,
	import_stats TEXT,
	processing_time_seconds {{REAL}} NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_extractions_employee ON extractions(tenant_id, employee_id, created_at);

CREATE TABLE IF NOT EXISTS llm_usage (
	id {{SERIAL}},
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	operation_type TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cost {{REAL}} NOT NULL DEFAULT 0,
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	entity_type TEXT,
	entity_id TEXT,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_tenant ON llm_usage(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_llm_usage_entity ON llm_usage(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS skills (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT
);
CREATE INDEX IF NOT EXISTS idx_skills_name ON skills(name);

CREATE TABLE IF NOT EXISTS languages (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	iso_code TEXT
);

CREATE TABLE IF NOT EXISTS roles (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sub_roles (
	id BIGINT PRIMARY KEY,
	role_id BIGINT NOT NULL REFERENCES roles(id),
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS certifications (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	issuer TEXT
);

CREATE TABLE IF NOT EXISTS education_degrees (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	level TEXT
);

CREATE TABLE IF NOT EXISTS soft_skills (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_families (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS employee_education (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	degree_id BIGINT REFERENCES education_degrees(id),
	degree_name TEXT NOT NULL DEFAULT '',
	institution TEXT NOT NULL DEFAULT '',
	field_of_study TEXT,
	start_date TEXT,
	end_date TEXT,
	grade TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_employee_education_emp ON employee_education(employee_id, tenant_id);

CREATE TABLE IF NOT EXISTS employee_work_experiences (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	company TEXT NOT NULL DEFAULT '',
	company_canonical TEXT NOT NULL DEFAULT '',
	job_title TEXT NOT NULL DEFAULT '',
	location TEXT,
	start_date TEXT,
	end_date TEXT,
	is_current INTEGER NOT NULL DEFAULT 0,
	description TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_employee_work_emp ON employee_work_experiences(employee_id, tenant_id);

CREATE TABLE IF NOT EXISTS employee_skills (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	skill_id BIGINT NOT NULL REFERENCES skills(id),
	proficiency_level {{REAL}},
	years_experience {{REAL}},
	last_used_date TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (employee_id, skill_id),
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_soft_skills (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	soft_skill_id BIGINT NOT NULL REFERENCES soft_skills(id),
	evidence TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (employee_id, soft_skill_id),
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_languages (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	language_id BIGINT NOT NULL REFERENCES languages(id),
	listening TEXT,
	reading TEXT,
	spoken_interaction TEXT,
	spoken_production TEXT,
	writing TEXT,
	is_native INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (employee_id, language_id),
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_certifications (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	certification_id BIGINT REFERENCES certifications(id),
	name TEXT NOT NULL DEFAULT '',
	issuer TEXT,
	issue_date TEXT,
	expiry_date TEXT,
	credential_id TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_employee_cert_emp ON employee_certifications(employee_id, tenant_id);

CREATE TABLE IF NOT EXISTS employee_publications (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	title TEXT NOT NULL DEFAULT '',
	publisher TEXT,
	publication_date TEXT,
	url TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_projects (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	name TEXT NOT NULL DEFAULT '',
	role TEXT,
	description TEXT,
	start_date TEXT,
	end_date TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_awards (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	title TEXT NOT NULL DEFAULT '',
	issuer TEXT,
	award_date TEXT,
	description TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_domain_knowledge (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	knowledge_type TEXT NOT NULL,
	name TEXT NOT NULL,
	years_experience {{REAL}},
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_roles (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	role_id BIGINT NOT NULL REFERENCES roles(id),
	sub_role_id BIGINT REFERENCES sub_roles(id),
	seniority TEXT,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS employee_additional_info (
	id {{SERIAL}},
	employee_id BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	category TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	FOREIGN KEY (employee_id, tenant_id) REFERENCES employees(id, tenant_id) ON DELETE CASCADE
);
`

var dialectTokens = map[Dialect]*strings.Replacer{
	DialectSQLite:   strings.NewReplacer("{{SERIAL}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{REAL}}", "REAL"),
	DialectPostgres: strings.NewReplacer("{{SERIAL}}", "BIGSERIAL PRIMARY KEY", "{{REAL}}", "DOUBLE PRECISION"),
}

// Schema returns the DDL for the store's dialect.
func (s *Store) Schema() string {
	return dialectTokens[s.dialect].Replace(schemaTemplate)
}

// Migrate creates every table and index that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.Schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("Database schema initialized")
	return nil
}
