package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RefKind names one of the shared reference tables. Reference tables carry no
// tenant column; lookups never filter by tenant.
type RefKind string

const (
	RefSkill         RefKind = "skill"
	RefLanguage      RefKind = "language"
	RefRole          RefKind = "role"
	RefSubRole       RefKind = "sub_role"
	RefCertification RefKind = "certification"
	RefDegree        RefKind = "education_degree"
	RefSoftSkill     RefKind = "soft_skill"
	RefJobFamily     RefKind = "job_family"
)

var refTables = map[RefKind]string{
	RefSkill:         "skills",
	RefLanguage:      "languages",
	RefRole:          "roles",
	RefSubRole:       "sub_roles",
	RefCertification: "certifications",
	RefDegree:        "education_degrees",
	RefSoftSkill:     "soft_skills",
	RefJobFamily:     "job_families",
}

type RefItem struct {
	ID   int64
	Name string
	// ParentID is the role of a sub-role.
	ParentID int64
}

func refTable(kind RefKind) (string, error) {
	table, ok := refTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
	return table, nil
}

// ReferenceExists reports whether id is a row of the kind's table.
func (s *Store) ReferenceExists(ctx context.Context, kind RefKind, id int64) (bool, error) {
	table, err := refTable(kind)
	if err != nil {
		return false, err
	}

	var found int64
	err = s.queryRow(ctx, `SELECT id FROM `+table+` WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", kind, err)
	}
	return true, nil
}

// FindReferenceByName matches the canonical name case-insensitively and
// returns the lowest id on ties.
func (s *Store) FindReferenceByName(ctx context.Context, kind RefKind, name string) (int64, bool, error) {
	table, err := refTable(kind)
	if err != nil {
		return 0, false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, nil
	}

	var id int64
	err = s.queryRow(ctx, `SELECT id FROM `+table+` WHERE LOWER(name) = LOWER(?) ORDER BY id LIMIT 1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up %s by name: %w", kind, err)
	}
	return id, true, nil
}

// SubRoleParent returns the role a sub-role belongs to.
func (s *Store) SubRoleParent(ctx context.Context, subRoleID int64) (int64, bool, error) {
	var roleID int64
	err := s.queryRow(ctx, `SELECT role_id FROM sub_roles WHERE id = ?`, subRoleID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up sub role: %w", err)
	}
	return roleID, true, nil
}

// FindSubRoleByName looks a sub-role up by name within one role.
func (s *Store) FindSubRoleByName(ctx context.Context, roleID int64, name string) (int64, bool, error) {
	var id int64
	err := s.queryRow(ctx,
		`SELECT id FROM sub_roles WHERE role_id = ? AND LOWER(name) = LOWER(?) ORDER BY id LIMIT 1`,
		roleID, strings.TrimSpace(name),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up sub role by name: %w", err)
	}
	return id, true, nil
}

// UpsertReference loads one catalog row; used by seeding and tests.
func (s *Store) UpsertReference(ctx context.Context, kind RefKind, item RefItem) error {
	table, err := refTable(kind)
	if err != nil {
		return err
	}

	if kind == RefSubRole {
		_, err = s.exec(ctx, `
			INSERT INTO sub_roles (id, role_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET role_id = excluded.role_id, name = excluded.name
		`, item.ID, item.ParentID, item.Name)
	} else {
		_, err = s.exec(ctx, `
			INSERT INTO `+table+` (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name
		`, item.ID, item.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", kind, err)
	}
	return nil
}

// ListReferences returns up to limit rows of a reference table ordered by id.
func (s *Store) ListReferences(ctx context.Context, kind RefKind, limit int) ([]RefItem, error) {
	table, err := refTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `SELECT id, name FROM `+table+` ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var items []RefItem
	for rows.Next() {
		var it RefItem
		if err := rows.Scan(&it.ID, &it.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
