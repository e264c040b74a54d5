package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal tiers. The zero value is never valid.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleOrganization
	RoleDepartment
	RoleStaff
	RoleStudent
)

// AllRoles lists every valid role, top of the hierarchy first.
var AllRoles = []Role{RoleOrganization, RoleDepartment, RoleStaff, RoleStudent}

func (r Role) String() string {
	switch r {
	case RoleOrganization:
		return "ORG"
	case RoleDepartment:
		return "DEPT"
	case RoleStaff:
		return "STAFF"
	case RoleStudent:
		return "STUDENT"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Slug is the lower-case path segment used by the auth endpoints.
func (r Role) Slug() string {
	switch r {
	case RoleOrganization:
		return "org"
	case RoleDepartment:
		return "department"
	case RoleStaff:
		return "staff"
	case RoleStudent:
		return "student"
	default:
		return ""
	}
}

// Valid reports whether r is one of the four tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleOrganization, RoleDepartment, RoleStaff, RoleStudent:
		return true
	default:
		return false
	}
}

// ParseRole accepts the wire form ("ORG", "DEPT", "STAFF", "STUDENT").
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ORG":
		return RoleOrganization, nil
	case "DEPT":
		return RoleDepartment, nil
	case "STAFF":
		return RoleStaff, nil
	case "STUDENT":
		return RoleStudent, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", s)
	}
}

// RoleFromSlug resolves an auth path segment ("org", "department", ...).
func RoleFromSlug(slug string) (Role, bool) {
	for _, r := range AllRoles {
		if r.Slug() == strings.ToLower(strings.TrimSpace(slug)) {
			return r, true
		}
	}
	return RoleUnknown, false
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
