package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified identity carried by a bearer token: the role plus the
// hierarchy ids that role owns. Ids below the role's own tier are always zero.
type Claims struct {
	Role         Role  `json:"role"`
	OrgID        int64 `json:"orgId,omitempty"`
	DepartmentID int64 `json:"departmentId,omitempty"`
	StaffID      int64 `json:"staffId,omitempty"`
	StudentID    int64 `json:"studentId,omitempty"`
	jwt.RegisteredClaims
}

// OrganizationClaims builds claims for an organization principal.
func OrganizationClaims(orgID int64) Claims {
	return withSubject(Claims{Role: RoleOrganization, OrgID: orgID})
}

// DepartmentClaims builds claims for a department principal.
func DepartmentClaims(orgID, departmentID int64) Claims {
	return withSubject(Claims{Role: RoleDepartment, OrgID: orgID, DepartmentID: departmentID})
}

// StaffClaims builds claims for a staff principal.
func StaffClaims(orgID, departmentID, staffID int64) Claims {
	return withSubject(Claims{Role: RoleStaff, OrgID: orgID, DepartmentID: departmentID, StaffID: staffID})
}

// StudentClaims builds claims for a student principal.
func StudentClaims(orgID, departmentID, staffID, studentID int64) Claims {
	return withSubject(Claims{
		Role:         RoleStudent,
		OrgID:        orgID,
		DepartmentID: departmentID,
		StaffID:      staffID,
		StudentID:    studentID,
	})
}

func withSubject(c Claims) Claims {
	c.Subject = fmt.Sprintf("%s:%d", strings.ToLower(c.Role.String()), c.TargetID())
	return c
}

// TargetID is the id of the principal's own node in the hierarchy.
func (c Claims) TargetID() int64 {
	switch c.Role {
	case RoleOrganization:
		return c.OrgID
	case RoleDepartment:
		return c.DepartmentID
	case RoleStaff:
		return c.StaffID
	case RoleStudent:
		return c.StudentID
	default:
		return 0
	}
}

// Validate checks that the ids present are exactly the ones the role carries.
func (c Claims) Validate() error {
	var need, forbid []int64
	switch c.Role {
	case RoleOrganization:
		need = []int64{c.OrgID}
		forbid = []int64{c.DepartmentID, c.StaffID, c.StudentID}
	case RoleDepartment:
		need = []int64{c.OrgID, c.DepartmentID}
		forbid = []int64{c.StaffID, c.StudentID}
	case RoleStaff:
		need = []int64{c.OrgID, c.DepartmentID, c.StaffID}
		forbid = []int64{c.StudentID}
	case RoleStudent:
		need = []int64{c.OrgID, c.DepartmentID, c.StaffID, c.StudentID}
	default:
		return errors.New("claims carry no recognised role")
	}
	for _, id := range need {
		if id <= 0 {
			return fmt.Errorf("claims for %s are missing a hierarchy id", c.Role)
		}
	}
	for _, id := range forbid {
		if id != 0 {
			return fmt.Errorf("claims for %s carry an id below their tier", c.Role)
		}
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	return nil
}

// HasRole reports whether the claims belong to one of roles.
func (c Claims) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
