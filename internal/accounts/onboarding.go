package accounts

import (
	"context"
	"fmt"

	"logbook.org/internal/apperr"
	"logbook.org/internal/audit"
	"logbook.org/internal/auth"
	"logbook.org/internal/mail"
	"logbook.org/internal/obs"
	"logbook.org/internal/scope"
)

func requireRole(c auth.Claims, r auth.Role) error {
	if c.Role != r {
		return fmt.Errorf("%w: role %s may not perform this action", apperr.ErrForbidden, c.Role)
	}
	return nil
}

// temporarySecret returns a new secret and its hash.
func temporarySecret() (string, string, error) {
	secret, err := auth.GenerateTemporarySecret()
	if err != nil {
		return "", "", err
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

// deliver mails a temporary secret. Failure is logged and counted; the
// account already exists and the parent can hand the secret over or reset it.
func (s *Service) deliver(ctx context.Context, to, name, secret string, reset bool) bool {
	subject := "Your logbook account"
	intro := "An account has been created for you."
	if reset {
		subject = "Your logbook password was reset"
		intro = "Your password has been reset."
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	defer cancel()
	err := s.mailer.Send(ctx, mail.Message{
		To:      to,
		Subject: subject,
		Body: fmt.Sprintf("Hello %s,\n\n%s\nSign in with %s and this temporary password:\n\n    %s\n\nYou will be asked to choose a new password.\n",
			name, intro, to, secret),
	})
	if err != nil {
		obs.MailFailed.Inc()
		obs.Logger().Warn().Err(err).Str("to", to).Msg("credential email not delivered")
		return false
	}
	return true
}

// --- Departments (organization principals) ---

// CreateDepartment onboards a department under the calling organization.
func (s *Service) CreateDepartment(ctx context.Context, c auth.Claims, in DepartmentInput) (Issued[Department], error) {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return Issued[Department]{}, err
	}
	if err := in.validate(); err != nil {
		return Issued[Department]{}, err
	}
	org, err := s.store.GetOrganization(ctx, c.OrgID)
	if err != nil {
		return Issued[Department]{}, err
	}
	secret, hash, err := temporarySecret()
	if err != nil {
		return Issued[Department]{}, err
	}
	now := s.now()
	d, err := s.store.CreateDepartment(ctx, Department{
		OrganizationID:   org.ID,
		Name:             in.Name,
		Email:            in.Email,
		SecretHash:       hash,
		MustChangeSecret: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Issued[Department]{}, err
	}
	_ = audit.LogEvent(ctx, "department.created", map[string]any{"department_id": d.ID})
	return issue(ctx, s, d, d.Email, d.Name, secret, false), nil
}

// ListDepartments lists the calling organization's departments.
func (s *Service) ListDepartments(ctx context.Context, c auth.Claims) ([]Department, error) {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.DepartmentColumns)
	if err != nil {
		return nil, err
	}
	return s.store.ListDepartments(ctx, p)
}

// GetDepartment returns a department of the calling organization.
func (s *Service) GetDepartment(ctx context.Context, c auth.Claims, id int64) (Department, error) {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return Department{}, err
	}
	return s.resolveDepartment(ctx, c, id)
}

func (s *Service) resolveDepartment(ctx context.Context, c auth.Claims, id int64) (Department, error) {
	d, err := s.store.GetDepartment(ctx, id)
	if err != nil {
		return Department{}, err
	}
	if err := scope.Resolve(c, d.Ancestry()); err != nil {
		return Department{}, err
	}
	return d, nil
}

// UpdateDepartment renames or re-addresses a department.
func (s *Service) UpdateDepartment(ctx context.Context, c auth.Claims, id int64, in DepartmentInput) (Department, error) {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return Department{}, err
	}
	if err := in.validate(); err != nil {
		return Department{}, err
	}
	d, err := s.resolveDepartment(ctx, c, id)
	if err != nil {
		return Department{}, err
	}
	d.Name, d.Email, d.UpdatedAt = in.Name, in.Email, s.now()
	updated, err := s.store.UpdateDepartment(ctx, d)
	if err != nil {
		return Department{}, err
	}
	_ = audit.LogEvent(ctx, "department.updated", map[string]any{"department_id": id})
	return updated, nil
}

// DeleteDepartment removes a department that has no staff.
func (s *Service) DeleteDepartment(ctx context.Context, c auth.Claims, id int64) error {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return err
	}
	if _, err := s.resolveDepartment(ctx, c, id); err != nil {
		return err
	}
	if err := s.store.DeleteDepartment(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "department.deleted", map[string]any{"department_id": id})
	return nil
}

// ResetDepartmentSecret issues a new temporary secret for a department.
func (s *Service) ResetDepartmentSecret(ctx context.Context, c auth.Claims, id int64) (Issued[Department], error) {
	if err := requireRole(c, auth.RoleOrganization); err != nil {
		return Issued[Department]{}, err
	}
	d, err := s.resolveDepartment(ctx, c, id)
	if err != nil {
		return Issued[Department]{}, err
	}
	secret, err := s.reset(ctx, auth.RoleDepartment, d.ID)
	if err != nil {
		return Issued[Department]{}, err
	}
	d.MustChangeSecret = true
	return issue(ctx, s, d, d.Email, d.Name, secret, true), nil
}

func (s *Service) reset(ctx context.Context, role auth.Role, id int64) (string, error) {
	secret, hash, err := temporarySecret()
	if err != nil {
		return "", err
	}
	if err := s.store.SetSecret(ctx, role, id, hash, true, s.now()); err != nil {
		return "", err
	}
	_ = audit.LogEvent(ctx, "auth.password_reset", map[string]any{"target_role": role.String(), "target_id": id})
	return secret, nil
}

// --- Staff (department principals) ---

func (s *Service) departmentPath(c auth.Claims, pathDepartmentID int64) error {
	if err := requireRole(c, auth.RoleDepartment); err != nil {
		return err
	}
	return scope.CheckPath(c, scope.Ancestry{DepartmentID: pathDepartmentID})
}

// CreateStaff onboards a staff member under the calling department.
func (s *Service) CreateStaff(ctx context.Context, c auth.Claims, pathDepartmentID int64, in StaffInput) (Issued[Staff], error) {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return Issued[Staff]{}, err
	}
	if err := in.validate(); err != nil {
		return Issued[Staff]{}, err
	}
	parent, err := s.resolveDepartment(ctx, c, c.DepartmentID)
	if err != nil {
		return Issued[Staff]{}, err
	}
	secret, hash, err := temporarySecret()
	if err != nil {
		return Issued[Staff]{}, err
	}
	now := s.now()
	st, err := s.store.CreateStaff(ctx, Staff{
		DepartmentID:     parent.ID,
		OrganizationID:   parent.OrganizationID,
		Name:             in.Name,
		Email:            in.Email,
		Designation:      in.Designation,
		Phone:            in.Phone,
		SecretHash:       hash,
		MustChangeSecret: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Issued[Staff]{}, err
	}
	_ = audit.LogEvent(ctx, "staff.created", map[string]any{"staff_id": st.ID})
	return issue(ctx, s, st, st.Email, st.Name, secret, false), nil
}

// ListStaff lists the calling department's staff.
func (s *Service) ListStaff(ctx context.Context, c auth.Claims, pathDepartmentID int64) ([]Staff, error) {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.StaffColumns)
	if err != nil {
		return nil, err
	}
	return s.store.ListStaff(ctx, p)
}

// GetStaff returns one staff member of the calling department.
func (s *Service) GetStaff(ctx context.Context, c auth.Claims, pathDepartmentID, id int64) (Staff, error) {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return Staff{}, err
	}
	return s.resolveStaff(ctx, c, id)
}

func (s *Service) resolveStaff(ctx context.Context, c auth.Claims, id int64) (Staff, error) {
	st, err := s.store.GetStaff(ctx, id)
	if err != nil {
		return Staff{}, err
	}
	if err := scope.Resolve(c, st.Ancestry()); err != nil {
		return Staff{}, err
	}
	return st, nil
}

// UpdateStaff edits a staff member's descriptive fields.
func (s *Service) UpdateStaff(ctx context.Context, c auth.Claims, pathDepartmentID, id int64, in StaffInput) (Staff, error) {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return Staff{}, err
	}
	if err := in.validate(); err != nil {
		return Staff{}, err
	}
	st, err := s.resolveStaff(ctx, c, id)
	if err != nil {
		return Staff{}, err
	}
	st.Name, st.Email, st.Designation, st.Phone = in.Name, in.Email, in.Designation, in.Phone
	st.UpdatedAt = s.now()
	updated, err := s.store.UpdateStaff(ctx, st)
	if err != nil {
		return Staff{}, err
	}
	_ = audit.LogEvent(ctx, "staff.updated", map[string]any{"staff_id": id})
	return updated, nil
}

// DeleteStaff removes a staff member that has no students.
func (s *Service) DeleteStaff(ctx context.Context, c auth.Claims, pathDepartmentID, id int64) error {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return err
	}
	if _, err := s.resolveStaff(ctx, c, id); err != nil {
		return err
	}
	if err := s.store.DeleteStaff(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "staff.deleted", map[string]any{"staff_id": id})
	return nil
}

// ResetStaffSecret issues a new temporary secret for a staff member.
func (s *Service) ResetStaffSecret(ctx context.Context, c auth.Claims, pathDepartmentID, id int64) (Issued[Staff], error) {
	if err := s.departmentPath(c, pathDepartmentID); err != nil {
		return Issued[Staff]{}, err
	}
	st, err := s.resolveStaff(ctx, c, id)
	if err != nil {
		return Issued[Staff]{}, err
	}
	secret, err := s.reset(ctx, auth.RoleStaff, st.ID)
	if err != nil {
		return Issued[Staff]{}, err
	}
	st.MustChangeSecret = true
	return issue(ctx, s, st, st.Email, st.Name, secret, true), nil
}

// --- Students (staff principals) ---

func (s *Service) staffPath(c auth.Claims, pathStaffID int64) error {
	if err := requireRole(c, auth.RoleStaff); err != nil {
		return err
	}
	return scope.CheckPath(c, scope.Ancestry{StaffID: pathStaffID})
}

// CreateStudent onboards a student under the calling staff member.
func (s *Service) CreateStudent(ctx context.Context, c auth.Claims, pathStaffID int64, in StudentInput) (Issued[Student], error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return Issued[Student]{}, err
	}
	if err := in.validate(); err != nil {
		return Issued[Student]{}, err
	}
	parent, err := s.resolveStaff(ctx, c, c.StaffID)
	if err != nil {
		return Issued[Student]{}, err
	}
	secret, hash, err := temporarySecret()
	if err != nil {
		return Issued[Student]{}, err
	}
	now := s.now()
	st, err := s.store.CreateStudent(ctx, Student{
		StaffID:          parent.ID,
		DepartmentID:     parent.DepartmentID,
		OrganizationID:   parent.OrganizationID,
		Name:             in.Name,
		Email:            in.Email,
		Profile:          in.Profile,
		SecretHash:       hash,
		MustChangeSecret: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Issued[Student]{}, err
	}
	_ = audit.LogEvent(ctx, "student.created", map[string]any{"student_id": st.ID})
	return issue(ctx, s, st, st.Email, st.Name, secret, false), nil
}

// ListStudents lists the calling staff member's students.
func (s *Service) ListStudents(ctx context.Context, c auth.Claims, pathStaffID int64) ([]Student, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.StudentColumns)
	if err != nil {
		return nil, err
	}
	return s.store.ListStudents(ctx, p)
}

// GetStudent returns one of the calling staff member's students.
func (s *Service) GetStudent(ctx context.Context, c auth.Claims, pathStaffID, id int64) (Student, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return Student{}, err
	}
	return s.resolveStudent(ctx, c, id)
}

func (s *Service) resolveStudent(ctx context.Context, c auth.Claims, id int64) (Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if err := scope.Resolve(c, st.Ancestry()); err != nil {
		return Student{}, err
	}
	return st, nil
}

// UpdateStudent edits a student's name, email and profile.
func (s *Service) UpdateStudent(ctx context.Context, c auth.Claims, pathStaffID, id int64, in StudentInput) (Student, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return Student{}, err
	}
	if err := in.validate(); err != nil {
		return Student{}, err
	}
	st, err := s.resolveStudent(ctx, c, id)
	if err != nil {
		return Student{}, err
	}
	st.Name, st.Email, st.Profile, st.UpdatedAt = in.Name, in.Email, in.Profile, s.now()
	updated, err := s.store.UpdateStudent(ctx, st)
	if err != nil {
		return Student{}, err
	}
	_ = audit.LogEvent(ctx, "student.updated", map[string]any{"student_id": id})
	return updated, nil
}

// DeleteStudent removes a student and, with it, the student's logs.
func (s *Service) DeleteStudent(ctx context.Context, c auth.Claims, pathStaffID, id int64) error {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return err
	}
	if _, err := s.resolveStudent(ctx, c, id); err != nil {
		return err
	}
	if err := s.store.DeleteStudent(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "student.deleted", map[string]any{"student_id": id})
	return nil
}

// ResetStudentSecret issues a new temporary secret for a student.
func (s *Service) ResetStudentSecret(ctx context.Context, c auth.Claims, pathStaffID, id int64) (Issued[Student], error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return Issued[Student]{}, err
	}
	st, err := s.resolveStudent(ctx, c, id)
	if err != nil {
		return Issued[Student]{}, err
	}
	secret, err := s.reset(ctx, auth.RoleStudent, st.ID)
	if err != nil {
		return Issued[Student]{}, err
	}
	st.MustChangeSecret = true
	return issue(ctx, s, st, st.Email, st.Name, secret, true), nil
}

// issue mails the temporary secret and echoes it in the response only when
// the service was built WithEchoedSecrets.
func issue[T any](ctx context.Context, s *Service, acct T, email, name, secret string, reset bool) Issued[T] {
	out := Issued[T]{Account: acct, Delivered: s.deliver(ctx, email, name, secret, reset)}
	if s.echoSecrets {
		out.TemporarySecret = secret
	}
	return out
}
