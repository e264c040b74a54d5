package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"logbook.org/internal/accounts"
	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
	"logbook.org/internal/scope"
)

const orgColumns = `id, name, email, secret_hash, created_at, updated_at`

func scanOrganization(r rowScanner) (accounts.Organization, error) {
	var o accounts.Organization
	if err := r.Scan(&o.ID, &o.Name, &o.Email, &o.SecretHash, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return accounts.Organization{}, mapError(err)
	}
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

func (s *Store) CreateOrganization(ctx context.Context, o accounts.Organization) (accounts.Organization, error) {
	if s.db == nil {
		return accounts.Organization{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into organizations(name, email, secret_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
		returning `+orgColumns,
		o.Name, o.Email, o.SecretHash, o.CreatedAt, o.UpdatedAt)
	return scanOrganization(row)
}

func (s *Store) GetOrganization(ctx context.Context, id int64) (accounts.Organization, error) {
	if s.db == nil {
		return accounts.Organization{}, errNoDB
	}
	return scanOrganization(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id = $1`, id))
}

func (s *Store) OrganizationByEmail(ctx context.Context, email string) (accounts.Organization, error) {
	if s.db == nil {
		return accounts.Organization{}, errNoDB
	}
	return scanOrganization(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where email = $1`, email))
}

const deptColumns = `id, organization_id, name, email, secret_hash, must_change_secret, created_at, updated_at`

func scanDepartment(r rowScanner) (accounts.Department, error) {
	var d accounts.Department
	if err := r.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Email, &d.SecretHash, &d.MustChangeSecret, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return accounts.Department{}, mapError(err)
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, nil
}

func (s *Store) CreateDepartment(ctx context.Context, d accounts.Department) (accounts.Department, error) {
	if s.db == nil {
		return accounts.Department{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into departments(organization_id, name, email, secret_hash, must_change_secret, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+deptColumns,
		d.OrganizationID, d.Name, d.Email, d.SecretHash, d.MustChangeSecret, d.CreatedAt, d.UpdatedAt)
	return scanDepartment(row)
}

func (s *Store) GetDepartment(ctx context.Context, id int64) (accounts.Department, error) {
	if s.db == nil {
		return accounts.Department{}, errNoDB
	}
	return scanDepartment(s.db.QueryRowContext(ctx, `select `+deptColumns+` from departments where id = $1`, id))
}

func (s *Store) DepartmentsByEmail(ctx context.Context, email string) ([]accounts.Department, error) {
	return s.listDepartments(ctx, `select `+deptColumns+` from departments where email = $1 order by id`, email)
}

func (s *Store) ListDepartments(ctx context.Context, p scope.Predicate) ([]accounts.Department, error) {
	where, args := p.SQL(1)
	return s.listDepartments(ctx, `select `+deptColumns+` from departments where `+where+` order by id`, args...)
}

func (s *Store) listDepartments(ctx context.Context, query string, args ...any) ([]accounts.Department, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounts.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDepartment(ctx context.Context, d accounts.Department) (accounts.Department, error) {
	if s.db == nil {
		return accounts.Department{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update departments set name = $2, email = $3, updated_at = $4
		where id = $1
		returning `+deptColumns,
		d.ID, d.Name, d.Email, d.UpdatedAt)
	return scanDepartment(row)
}

func (s *Store) DeleteDepartment(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `delete from departments where id = $1`, id)
}

const staffColumns = `id, department_id, organization_id, name, email, coalesce(designation, ''), coalesce(phone, ''),
	secret_hash, must_change_secret, created_at, updated_at`

func scanStaff(r rowScanner) (accounts.Staff, error) {
	var st accounts.Staff
	if err := r.Scan(&st.ID, &st.DepartmentID, &st.OrganizationID, &st.Name, &st.Email, &st.Designation, &st.Phone,
		&st.SecretHash, &st.MustChangeSecret, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return accounts.Staff{}, mapError(err)
	}
	st.CreatedAt, st.UpdatedAt = st.CreatedAt.UTC(), st.UpdatedAt.UTC()
	return st, nil
}

func (s *Store) CreateStaff(ctx context.Context, st accounts.Staff) (accounts.Staff, error) {
	if s.db == nil {
		return accounts.Staff{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into staff(department_id, organization_id, name, email, designation, phone,
			secret_hash, must_change_secret, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+staffColumns,
		st.DepartmentID, st.OrganizationID, st.Name, st.Email, nullIfEmpty(st.Designation), nullIfEmpty(st.Phone),
		st.SecretHash, st.MustChangeSecret, st.CreatedAt, st.UpdatedAt)
	return scanStaff(row)
}

func (s *Store) GetStaff(ctx context.Context, id int64) (accounts.Staff, error) {
	if s.db == nil {
		return accounts.Staff{}, errNoDB
	}
	return scanStaff(s.db.QueryRowContext(ctx, `select `+staffColumns+` from staff where id = $1`, id))
}

func (s *Store) StaffByEmail(ctx context.Context, email string) (accounts.Staff, error) {
	if s.db == nil {
		return accounts.Staff{}, errNoDB
	}
	return scanStaff(s.db.QueryRowContext(ctx, `select `+staffColumns+` from staff where email = $1`, email))
}

func (s *Store) ListStaff(ctx context.Context, p scope.Predicate) ([]accounts.Staff, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := p.SQL(1)
	rows, err := s.db.QueryContext(ctx, `select `+staffColumns+` from staff where `+where+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounts.Staff
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStaff(ctx context.Context, st accounts.Staff) (accounts.Staff, error) {
	if s.db == nil {
		return accounts.Staff{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update staff set name = $2, email = $3, designation = $4, phone = $5, updated_at = $6
		where id = $1
		returning `+staffColumns,
		st.ID, st.Name, st.Email, nullIfEmpty(st.Designation), nullIfEmpty(st.Phone), st.UpdatedAt)
	return scanStaff(row)
}

func (s *Store) DeleteStaff(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `delete from staff where id = $1`, id)
}

const studentColumns = `id, staff_id, department_id, organization_id, name, email, secret_hash, must_change_secret,
	profile_version, coalesce(registration_number, ''), coalesce(university_reg_no, ''), coalesce(phone, ''),
	rotation_start, rotation_end, coalesce(guardian_name, ''), coalesce(guardian_phone, ''),
	created_at, updated_at`

func scanStudent(r rowScanner) (accounts.Student, error) {
	var (
		st         accounts.Student
		start, end sql.NullTime
	)
	p := &st.Profile
	if err := r.Scan(&st.ID, &st.StaffID, &st.DepartmentID, &st.OrganizationID, &st.Name, &st.Email,
		&st.SecretHash, &st.MustChangeSecret,
		&p.Version, &p.RegistrationNumber, &p.UniversityRegNo, &p.Phone,
		&start, &end, &p.GuardianName, &p.GuardianPhone,
		&st.CreatedAt, &st.UpdatedAt); err != nil {
		return accounts.Student{}, mapError(err)
	}
	p.RotationStart, p.RotationEnd = timePtr(start), timePtr(end)
	st.CreatedAt, st.UpdatedAt = st.CreatedAt.UTC(), st.UpdatedAt.UTC()
	return st, nil
}

func (s *Store) CreateStudent(ctx context.Context, st accounts.Student) (accounts.Student, error) {
	if s.db == nil {
		return accounts.Student{}, errNoDB
	}
	p := st.Profile
	row := s.db.QueryRowContext(ctx, `
		insert into students(staff_id, department_id, organization_id, name, email, secret_hash, must_change_secret,
			profile_version, registration_number, university_reg_no, phone,
			rotation_start, rotation_end, guardian_name, guardian_phone, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		returning `+studentColumns,
		st.StaffID, st.DepartmentID, st.OrganizationID, st.Name, st.Email, st.SecretHash, st.MustChangeSecret,
		profileVersion(p), nullIfEmpty(p.RegistrationNumber), nullIfEmpty(p.UniversityRegNo), nullIfEmpty(p.Phone),
		nullTime(p.RotationStart), nullTime(p.RotationEnd), nullIfEmpty(p.GuardianName), nullIfEmpty(p.GuardianPhone),
		st.CreatedAt, st.UpdatedAt)
	return scanStudent(row)
}

func profileVersion(p accounts.StudentProfile) int {
	if p.Version == 0 {
		return accounts.CurrentProfileVersion
	}
	return p.Version
}

func (s *Store) GetStudent(ctx context.Context, id int64) (accounts.Student, error) {
	if s.db == nil {
		return accounts.Student{}, errNoDB
	}
	return scanStudent(s.db.QueryRowContext(ctx, `select `+studentColumns+` from students where id = $1`, id))
}

func (s *Store) StudentByEmail(ctx context.Context, email string) (accounts.Student, error) {
	if s.db == nil {
		return accounts.Student{}, errNoDB
	}
	return scanStudent(s.db.QueryRowContext(ctx, `select `+studentColumns+` from students where email = $1`, email))
}

func (s *Store) ListStudents(ctx context.Context, p scope.Predicate) ([]accounts.Student, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := p.SQL(1)
	rows, err := s.db.QueryContext(ctx, `select `+studentColumns+` from students where `+where+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounts.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStudent(ctx context.Context, st accounts.Student) (accounts.Student, error) {
	if s.db == nil {
		return accounts.Student{}, errNoDB
	}
	p := st.Profile
	row := s.db.QueryRowContext(ctx, `
		update students set name = $2, email = $3, profile_version = $4, registration_number = $5,
			university_reg_no = $6, phone = $7, rotation_start = $8, rotation_end = $9,
			guardian_name = $10, guardian_phone = $11, updated_at = $12
		where id = $1
		returning `+studentColumns,
		st.ID, st.Name, st.Email, profileVersion(p), nullIfEmpty(p.RegistrationNumber),
		nullIfEmpty(p.UniversityRegNo), nullIfEmpty(p.Phone), nullTime(p.RotationStart), nullTime(p.RotationEnd),
		nullIfEmpty(p.GuardianName), nullIfEmpty(p.GuardianPhone), st.UpdatedAt)
	return scanStudent(row)
}

// DeleteStudent removes the student; its activity logs go with it.
func (s *Store) DeleteStudent(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `delete from students where id = $1`, id)
}

func (s *Store) deleteByID(ctx context.Context, query string, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapError(err)
	}
	return affected(res)
}

func (s *Store) SetSecret(ctx context.Context, role auth.Role, id int64, hash string, mustChange bool, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	var (
		res sql.Result
		err error
	)
	switch role {
	case auth.RoleOrganization:
		res, err = s.db.ExecContext(ctx, `update organizations set secret_hash = $2, updated_at = $3 where id = $1`, id, hash, at)
	case auth.RoleDepartment, auth.RoleStaff, auth.RoleStudent:
		res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
			update %s set secret_hash = $2, must_change_secret = $3, updated_at = $4
			where id = $1`, accountTable(role)), id, hash, mustChange, at)
	default:
		return apperr.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	return affected(res)
}

func accountTable(role auth.Role) string {
	switch role {
	case auth.RoleDepartment:
		return "departments"
	case auth.RoleStaff:
		return "staff"
	case auth.RoleStudent:
		return "students"
	}
	return "organizations"
}
