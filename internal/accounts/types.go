package accounts

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
	"logbook.org/internal/scope"
)

// Organization is the root of a tenant.
type Organization struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Department belongs to one organization.
type Department struct {
	ID               int64     `json:"id"`
	OrganizationID   int64     `json:"organizationId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	SecretHash       string    `json:"-"`
	MustChangeSecret bool      `json:"mustChangePassword"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (d Department) Ancestry() scope.Ancestry {
	return scope.Ancestry{OrgID: d.OrganizationID, DepartmentID: d.ID}
}

// Staff belongs to one department.
type Staff struct {
	ID               int64     `json:"id"`
	DepartmentID     int64     `json:"departmentId"`
	OrganizationID   int64     `json:"organizationId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Designation      string    `json:"designation,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	SecretHash       string    `json:"-"`
	MustChangeSecret bool      `json:"mustChangePassword"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (s Staff) Ancestry() scope.Ancestry {
	return scope.Ancestry{OrgID: s.OrganizationID, DepartmentID: s.DepartmentID, StaffID: s.ID}
}

// CurrentProfileVersion is the student profile layout written by this build.
// Rows written before a field existed read back with that field's zero value.
const CurrentProfileVersion = 1

// StudentProfile holds the optional descriptive fields of a student.
type StudentProfile struct {
	Version            int        `json:"version"`
	RegistrationNumber string     `json:"registrationNumber,omitempty"`
	UniversityRegNo    string     `json:"universityRegNo,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	RotationStart      *time.Time `json:"rotationStart,omitempty"`
	RotationEnd        *time.Time `json:"rotationEnd,omitempty"`
	GuardianName       string     `json:"guardianName,omitempty"`
	GuardianPhone      string     `json:"guardianPhone,omitempty"`
}

// Student belongs to one staff member.
type Student struct {
	ID               int64          `json:"id"`
	StaffID          int64          `json:"staffId"`
	DepartmentID     int64          `json:"departmentId"`
	OrganizationID   int64          `json:"organizationId"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	Profile          StudentProfile `json:"profile"`
	SecretHash       string         `json:"-"`
	MustChangeSecret bool           `json:"mustChangePassword"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func (s Student) Ancestry() scope.Ancestry {
	return scope.Ancestry{OrgID: s.OrganizationID, DepartmentID: s.DepartmentID, StaffID: s.StaffID, StudentID: s.ID}
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func checkEmail(fe apperr.FieldErrors, email string) {
	if email == "" {
		fe.Add("email", "is required")
		return
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fe.Add("email", "must be a valid address")
	}
}

func checkName(fe apperr.FieldErrors, name string) {
	switch {
	case name == "":
		fe.Add("name", "is required")
	case len(name) > 200:
		fe.Add("name", "must be at most 200 characters")
	}
}

// DepartmentInput creates or updates a department.
type DepartmentInput struct {
	Name  string
	Email string
}

func (in *DepartmentInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	fe := apperr.FieldErrors{}
	checkName(fe, in.Name)
	checkEmail(fe, in.Email)
	return fe.Err()
}

// StaffInput creates or updates a staff member.
type StaffInput struct {
	Name        string
	Email       string
	Designation string
	Phone       string
}

func (in *StaffInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	in.Designation = strings.TrimSpace(in.Designation)
	in.Phone = strings.TrimSpace(in.Phone)
	fe := apperr.FieldErrors{}
	checkName(fe, in.Name)
	checkEmail(fe, in.Email)
	return fe.Err()
}

// StudentInput creates or updates a student.
type StudentInput struct {
	Name    string
	Email   string
	Profile StudentProfile
}

func (in *StudentInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	p := &in.Profile
	p.Version = CurrentProfileVersion
	p.RegistrationNumber = strings.TrimSpace(p.RegistrationNumber)
	p.UniversityRegNo = strings.TrimSpace(p.UniversityRegNo)
	p.Phone = strings.TrimSpace(p.Phone)
	p.GuardianName = strings.TrimSpace(p.GuardianName)
	p.GuardianPhone = strings.TrimSpace(p.GuardianPhone)

	fe := apperr.FieldErrors{}
	checkName(fe, in.Name)
	checkEmail(fe, in.Email)
	if p.RotationStart != nil && p.RotationEnd != nil && p.RotationEnd.Before(*p.RotationStart) {
		fe.Add("rotationEnd", "must not be before rotationStart")
	}
	return fe.Err()
}

// OrganizationInput is the self-registration payload.
type OrganizationInput struct {
	Name     string
	Email    string
	Password string
}

func (in *OrganizationInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	fe := apperr.FieldErrors{}
	checkName(fe, in.Name)
	checkEmail(fe, in.Email)
	if err := auth.CheckSecretPolicy(in.Password); err != nil {
		fe.Add("password", strings.TrimPrefix(err.Error(), apperr.ErrValidation.Error()+": "))
	}
	return fe.Err()
}

// Issued is a freshly created or reset account. The temporary secret is
// mailed to the account; TemporarySecret carries it too only when echoing is
// enabled. Only its hash is stored.
type Issued[T any] struct {
	Account         T      `json:"account"`
	TemporarySecret string `json:"temporaryPassword,omitempty"`
	Delivered       bool   `json:"emailDelivered"`
}

// Session is the result of a successful login.
type Session struct {
	Token                 string    `json:"token"`
	ExpiresAt             time.Time `json:"expiresAt"`
	User                  any       `json:"user"`
	RequirePasswordChange bool      `json:"requirePasswordChange"`
}

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
