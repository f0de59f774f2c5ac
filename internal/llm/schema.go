package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hr-platform/backend/internal/storage/models"
)

// SchemaError reports a model response that does not match the CV contract.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "extraction response does not match schema: " + e.Reason
}

func str() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }

func nullable(t string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{t, "null"}}
}

func object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func arrayOf(item *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: item}
}

func partialDate() *jsonschema.Schema {
	return &jsonschema.Schema{
		Types: []string{"object", "null"},
		Properties: map[string]*jsonschema.Schema{
			"year":    nullable("integer"),
			"month":   nullable("integer"),
			"ongoing": nullable("boolean"),
		},
	}
}

func domainItems() *jsonschema.Schema {
	return arrayOf(object(map[string]*jsonschema.Schema{
		"name":             str(),
		"years_experience": nullable("number"),
	}, "name"))
}

// cvSchema is the contract every model response must satisfy. Scalars that
// models commonly omit are nullable; section containers are required.
func cvSchema() *jsonschema.Schema {
	return object(map[string]*jsonschema.Schema{
		"personal_info": object(map[string]*jsonschema.Schema{
			"first_name": nullable("string"),
			"last_name":  nullable("string"),
			"email":      nullable("string"),
			"phone":      nullable("string"),
			"position":   nullable("string"),
			"location":   nullable("string"),
			"summary":    nullable("string"),
		}),
		"education": arrayOf(object(map[string]*jsonschema.Schema{
			"degree_id":      nullable("integer"),
			"degree_name":    nullable("string"),
			"institution":    nullable("string"),
			"field_of_study": nullable("string"),
			"start_date":     partialDate(),
			"end_date":       partialDate(),
			"grade":          nullable("string"),
		})),
		"work_experience": arrayOf(object(map[string]*jsonschema.Schema{
			"company":     nullable("string"),
			"job_title":   nullable("string"),
			"location":    nullable("string"),
			"start_date":  partialDate(),
			"end_date":    partialDate(),
			"description": nullable("string"),
		})),
		"skills": object(map[string]*jsonschema.Schema{
			"extracted_skills": arrayOf(object(map[string]*jsonschema.Schema{
				"skill_id":          nullable("integer"),
				"skill_name":        nullable("string"),
				"proficiency_level": nullable("number"),
				"years_experience":  nullable("number"),
				"last_used_year":    nullable("integer"),
			})),
			"not_found": arrayOf(str()),
		}, "extracted_skills"),
		"soft_skills": arrayOf(object(map[string]*jsonschema.Schema{
			"soft_skill_id": nullable("integer"),
			"name":          nullable("string"),
			"evidence":      nullable("string"),
		})),
		"languages": arrayOf(object(map[string]*jsonschema.Schema{
			"language_id":        nullable("integer"),
			"name":               nullable("string"),
			"listening":          nullable("string"),
			"reading":            nullable("string"),
			"spoken_interaction": nullable("string"),
			"spoken_production":  nullable("string"),
			"writing":            nullable("string"),
			"is_native":          nullable("boolean"),
		})),
		"certifications": arrayOf(object(map[string]*jsonschema.Schema{
			"certification_id": nullable("integer"),
			"name":             nullable("string"),
			"issuer":           nullable("string"),
			"issue_date":       partialDate(),
			"expiry_date":      partialDate(),
			"credential_id":    nullable("string"),
		})),
		"publications": arrayOf(object(map[string]*jsonschema.Schema{
			"title":     nullable("string"),
			"publisher": nullable("string"),
			"date":      partialDate(),
			"url":       nullable("string"),
		})),
		"projects": arrayOf(object(map[string]*jsonschema.Schema{
			"name":        nullable("string"),
			"role":        nullable("string"),
			"description": nullable("string"),
			"start_date":  partialDate(),
			"end_date":    partialDate(),
		})),
		"awards": arrayOf(object(map[string]*jsonschema.Schema{
			"title":       nullable("string"),
			"issuer":      nullable("string"),
			"date":        partialDate(),
			"description": nullable("string"),
		})),
		"domain_knowledge": object(map[string]*jsonschema.Schema{
			"industries":         domainItems(),
			"client_sectors":     domainItems(),
			"business_processes": domainItems(),
			"standards":          domainItems(),
		}),
		"role": {
			Types: []string{"object", "null"},
			Properties: map[string]*jsonschema.Schema{
				"id_role":     nullable("integer"),
				"id_sub_role": nullable("integer"),
				"seniority":   nullable("string"),
			},
		},
		"additional_info": arrayOf(object(map[string]*jsonschema.Schema{
			"category": nullable("string"),
			"content":  str(),
		}, "content")),
	},
		"personal_info", "education", "work_experience", "skills", "soft_skills", "languages",
		"certifications", "publications", "projects", "awards", "domain_knowledge",
	)
}

var (
	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
)

func resolvedSchema() (*jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		resolved, resolveErr = cvSchema().Resolve(nil)
	})
	return resolved, resolveErr
}

// ParseCV validates raw model output against the CV contract and decodes it.
// It returns the canonical JSON alongside the decoded value.
func ParseCV(content string) (*models.CVExtraction, json.RawMessage, error) {
	body := stripFences(content)
	if body == "" {
		return nil, nil, ErrEmptyResponse
	}

	var instance map[string]any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return nil, nil, &SchemaError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	rs, err := resolvedSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve cv schema: %w", err)
	}
	if err := rs.Validate(instance); err != nil {
		return nil, nil, &SchemaError{Reason: err.Error()}
	}

	var cv models.CVExtraction
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&cv); err != nil {
		return nil, nil, &SchemaError{Reason: fmt.Sprintf("decode: %v", err)}
	}

	canonical, err := json.Marshal(&cv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal extraction: %w", err)
	}
	return &cv, canonical, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
