package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Role string

const (
	RoleEmployee   Role = "EMPLOYEE"
	RoleHR         Role = "HR"
	RoleHRManager  Role = "HR_MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

var roleRank = map[Role]int{
	RoleEmployee:   1,
	RoleHR:         2,
	RoleHRManager:  3,
	RoleAdmin:      4,
	RoleSuperAdmin: 5,
}

var ErrForbidden = errors.New("principal is not authorized")

// Principal is the authenticated caller as supplied by the identity service.
type Principal struct {
	UserID     string
	TenantID   string
	Role       Role
	EmployeeID *int64
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// NewPrincipal validates the raw identity fields. employeeID may be empty.
func NewPrincipal(userID, tenantID, role, employeeID string) (Principal, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(tenantID) == "" {
		return Principal{}, errors.New("user and tenant are required")
	}
	r, err := ParseRole(role)
	if err != nil {
		return Principal{}, err
	}

	p := Principal{UserID: userID, TenantID: tenantID, Role: r}
	if employeeID != "" {
		id, err := strconv.ParseInt(employeeID, 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("invalid employee id %q", employeeID)
		}
		p.EmployeeID = &id
	}
	if r == RoleEmployee && p.EmployeeID == nil {
		return Principal{}, errors.New("employee principal without employee id")
	}
	return p, nil
}

// AtLeast reports whether the principal's role ranks at or above r.
func (p Principal) AtLeast(r Role) bool {
	return roleRank[p.Role] >= roleRank[r]
}

// CanAccessTenant is true for the principal's own tenant. SUPER_ADMIN may
// cross tenants.
func (p Principal) CanAccessTenant(tenantID string) bool {
	return p.TenantID == tenantID || p.Role == RoleSuperAdmin
}

// AuthorizeEmployee checks that the principal may act on employeeID within
// tenantID. EMPLOYEE principals may only act on themselves.
func (p Principal) AuthorizeEmployee(tenantID string, employeeID int64) error {
	if !p.CanAccessTenant(tenantID) {
		return fmt.Errorf("%w: tenant mismatch", ErrForbidden)
	}
	if p.Role == RoleEmployee {
		if p.EmployeeID == nil || *p.EmployeeID != employeeID {
			return fmt.Errorf("%w: employee may only act on own records", ErrForbidden)
		}
	}
	return nil
}

// RequireRole fails unless the principal ranks at least r.
func (p Principal) RequireRole(r Role) error {
	if !p.AtLeast(r) {
		return fmt.Errorf("%w: requires role %s", ErrForbidden, r)
	}
	return nil
}
