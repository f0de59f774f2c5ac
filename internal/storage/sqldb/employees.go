package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hr-platform/backend/internal/storage/models"
)

func (s *Store) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.exec(ctx,
		`INSERT INTO tenants (id, slug, active, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Slug, boolToInt(t.Active), s.nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// CreateEmployee inserts an employee and sets its generated id. A non-zero
// e.ID is kept, for employees synced from the HR system of record.
func (s *Store) CreateEmployee(ctx context.Context, e *models.Employee) error {
	now := s.nowMillis()
	columns := `tenant_id, first_name, last_name, email, phone, position, location, summary,
		department_id, active, created_at, updated_at`
	placeholders := `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
	args := []any{
		e.TenantID,
		e.FirstName,
		e.LastName,
		e.Email,
		e.Phone,
		e.Position,
		e.Location,
		e.Summary,
		nullInt64(e.DepartmentID),
		boolToInt(e.Active),
		now,
		now,
	}
	if e.ID != 0 {
		columns = "id, " + columns
		placeholders = "?, " + placeholders
		args = append([]any{e.ID}, args...)
	}

	query := `INSERT INTO employees (` + columns + `) VALUES (` + placeholders + `) RETURNING id`
	if err := s.queryRow(ctx, query, args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to insert employee: %w", err)
	}
	e.CreatedAt = fromMillis(now)
	e.UpdatedAt = e.CreatedAt
	return nil
}

// GetEmployee loads an employee within a tenant; an employee of another
// tenant is reported as ErrNotFound.
func (s *Store) GetEmployee(ctx context.Context, tenantID string, id int64) (*models.Employee, error) {
	query := `
		SELECT id, tenant_id, first_name, last_name, email, phone, position, location, summary,
			department_id, active, created_at, updated_at
		FROM employees WHERE id = ? AND tenant_id = ?
	`

	var e models.Employee
	var phone, position, location, summary sql.NullString
	var department sql.NullInt64
	var active int
	var createdAt, updatedAt int64

	err := s.queryRow(ctx, query, id, tenantID).Scan(
		&e.ID,
		&e.TenantID,
		&e.FirstName,
		&e.LastName,
		&e.Email,
		&phone,
		&position,
		&location,
		&summary,
		&department,
		&active,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	e.Phone = stringPtr(phone)
	e.Position = stringPtr(position)
	e.Location = stringPtr(location)
	e.Summary = stringPtr(summary)
	if department.Valid {
		d := department.Int64
		e.DepartmentID = &d
	}
	e.Active = active == 1
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

// PatchEmployeeNulls fills employee columns that are null or empty with the
// patch values. Existing data is never overwritten. It returns the number of
// columns that changed.
func (s *Store) PatchEmployeeNulls(ctx context.Context, tenantID string, id int64, p models.EmployeePatch) (int, error) {
	columns := []struct {
		name  string
		value string
	}{
		{"first_name", p.FirstName},
		{"last_name", p.LastName},
		{"phone", p.Phone},
		{"position", p.Position},
		{"location", p.Location},
		{"summary", p.Summary},
	}

	updated := 0
	for _, col := range columns {
		if col.value == "" {
			continue
		}
		query := `UPDATE employees SET ` + col.name + ` = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ? AND (` + col.name + ` IS NULL OR ` + col.name + ` = '')`
		res, err := s.exec(ctx, query, col.value, s.nowMillis(), id, tenantID)
		if err != nil {
			return updated, fmt.Errorf("failed to patch employee %s: %w", col.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return updated, fmt.Errorf("failed to read affected rows: %w", err)
		}
		updated += int(n)
	}
	return updated, nil
}
