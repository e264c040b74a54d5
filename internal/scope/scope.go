// Package scope derives what a principal may see from its claims and checks
// hierarchy-addressed resources against it.
package scope

import (
	"fmt"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

// Ancestry is the position of a node in the hierarchy. Zero means "not set".
type Ancestry struct {
	OrgID        int64
	DepartmentID int64
	StaffID      int64
	StudentID    int64
}

// FromClaims returns the ancestry a principal is pinned to.
func FromClaims(c auth.Claims) (Ancestry, error) {
	switch c.Role {
	case auth.RoleOrganization:
		return Ancestry{OrgID: c.OrgID}, nil
	case auth.RoleDepartment:
		return Ancestry{OrgID: c.OrgID, DepartmentID: c.DepartmentID}, nil
	case auth.RoleStaff:
		return Ancestry{OrgID: c.OrgID, DepartmentID: c.DepartmentID, StaffID: c.StaffID}, nil
	case auth.RoleStudent:
		return Ancestry{OrgID: c.OrgID, DepartmentID: c.DepartmentID, StaffID: c.StaffID, StudentID: c.StudentID}, nil
	default:
		return Ancestry{}, fmt.Errorf("%w: unrecognised role", apperr.ErrForbidden)
	}
}

func (a Ancestry) fields() [4]int64 {
	return [4]int64{a.OrgID, a.DepartmentID, a.StaffID, a.StudentID}
}

// matches compares every level set on both sides.
func (a Ancestry) matches(other Ancestry) bool {
	mine, theirs := a.fields(), other.fields()
	for i := range mine {
		if mine[i] != 0 && theirs[i] != 0 && mine[i] != theirs[i] {
			return false
		}
	}
	return true
}

// CheckPath validates caller-supplied path ids against the claims. Any id on
// the path that the claims also carry must be equal, otherwise ErrForbidden.
func CheckPath(c auth.Claims, path Ancestry) error {
	own, err := FromClaims(c)
	if err != nil {
		return err
	}
	if !own.matches(path) {
		return fmt.Errorf("%w: path is outside the caller's scope", apperr.ErrForbidden)
	}
	return nil
}

// Owns reports whether entity sits beneath the principal. Every level the
// claims carry must be present on the entity and equal.
func Owns(c auth.Claims, entity Ancestry) bool {
	own, err := FromClaims(c)
	if err != nil {
		return false
	}
	mine, theirs := own.fields(), entity.fields()
	for i := range mine {
		if mine[i] != 0 && mine[i] != theirs[i] {
			return false
		}
	}
	return true
}

// Resolve is Owns for lookups: an entity outside scope is reported as
// ErrNotFound so callers cannot probe for existence.
func Resolve(c auth.Claims, entity Ancestry) error {
	if !Owns(c, entity) {
		return apperr.ErrNotFound
	}
	return nil
}
