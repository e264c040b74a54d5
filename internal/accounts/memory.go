package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
	"logbook.org/internal/scope"
)

// InMemory implements Store for tests and memory-backed runs. It enforces the
// same uniqueness and child-restriction rules as the PostgreSQL schema.
type InMemory struct {
	mu       sync.RWMutex
	seq      int64
	orgs     map[int64]Organization
	depts    map[int64]Department
	staff    map[int64]Staff
	students map[int64]Student
	onDelete []func(ctx context.Context, role auth.Role, id int64)
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:     make(map[int64]Organization),
		depts:    make(map[int64]Department),
		staff:    make(map[int64]Staff),
		students: make(map[int64]Student),
	}
}

// OnDelete registers fn to run after a staff member or student is removed.
// It stands in for the ON DELETE CASCADE rules the schema puts on logs.
func (s *InMemory) OnDelete(fn func(ctx context.Context, role auth.Role, id int64)) {
	s.mu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.mu.Unlock()
}

func (s *InMemory) deleted(ctx context.Context, role auth.Role, id int64) {
	s.mu.RLock()
	hooks := append([]func(context.Context, auth.Role, int64){}, s.onDelete...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, role, id)
	}
}

func (s *InMemory) next() int64 {
	s.seq++
	return s.seq
}

func ancestryColumn(a scope.Ancestry, self string) func(string) any {
	return func(col string) any {
		switch col {
		case "organization_id":
			return a.OrgID
		case "department_id":
			return a.DepartmentID
		case "staff_id":
			return a.StaffID
		case "student_id":
			return a.StudentID
		case "id":
			switch self {
			case "department":
				return a.DepartmentID
			case "staff":
				return a.StaffID
			case "student":
				return a.StudentID
			}
		}
		return nil
	}
}

// --- organizations ---

func (s *InMemory) CreateOrganization(ctx context.Context, o Organization) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if existing.Email == o.Email {
			return Organization{}, apperr.ErrConflict
		}
	}
	o.ID = s.next()
	s.orgs[o.ID] = o
	return o, nil
}

func (s *InMemory) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return Organization{}, apperr.ErrNotFound
	}
	return o, nil
}

func (s *InMemory) OrganizationByEmail(ctx context.Context, email string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs {
		if o.Email == email {
			return o, nil
		}
	}
	return Organization{}, apperr.ErrNotFound
}

// --- departments ---

func (s *InMemory) deptEmailTaken(orgID int64, email string, except int64) bool {
	for _, d := range s.depts {
		if d.ID != except && d.OrganizationID == orgID && d.Email == email {
			return true
		}
	}
	return false
}

func (s *InMemory) CreateDepartment(ctx context.Context, d Department) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[d.OrganizationID]; !ok {
		return Department{}, apperr.ErrNotFound
	}
	if s.deptEmailTaken(d.OrganizationID, d.Email, 0) {
		return Department{}, apperr.ErrConflict
	}
	d.ID = s.next()
	s.depts[d.ID] = d
	return d, nil
}

func (s *InMemory) GetDepartment(ctx context.Context, id int64) (Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.depts[id]
	if !ok {
		return Department{}, apperr.ErrNotFound
	}
	return d, nil
}

func (s *InMemory) DepartmentsByEmail(ctx context.Context, email string) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Department
	for _, d := range s.depts {
		if d.Email == email {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ListDepartments(ctx context.Context, p scope.Predicate) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Department
	for _, d := range s.depts {
		if p.Eval(ancestryColumn(d.Ancestry(), "department")) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateDepartment(ctx context.Context, d Department) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.depts[d.ID]
	if !ok {
		return Department{}, apperr.ErrNotFound
	}
	if s.deptEmailTaken(cur.OrganizationID, d.Email, d.ID) {
		return Department{}, apperr.ErrConflict
	}
	cur.Name, cur.Email, cur.UpdatedAt = d.Name, d.Email, d.UpdatedAt
	s.depts[d.ID] = cur
	return cur, nil
}

func (s *InMemory) DeleteDepartment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.depts[id]; !ok {
		return apperr.ErrNotFound
	}
	for _, st := range s.staff {
		if st.DepartmentID == id {
			return apperr.ErrConflict
		}
	}
	delete(s.depts, id)
	return nil
}

// --- staff ---

func (s *InMemory) staffEmailTaken(email string, except int64) bool {
	for _, st := range s.staff {
		if st.ID != except && st.Email == email {
			return true
		}
	}
	return false
}

func (s *InMemory) CreateStaff(ctx context.Context, st Staff) (Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.depts[st.DepartmentID]; !ok {
		return Staff{}, apperr.ErrNotFound
	}
	if s.staffEmailTaken(st.Email, 0) {
		return Staff{}, apperr.ErrConflict
	}
	st.ID = s.next()
	s.staff[st.ID] = st
	return st, nil
}

func (s *InMemory) GetStaff(ctx context.Context, id int64) (Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.staff[id]
	if !ok {
		return Staff{}, apperr.ErrNotFound
	}
	return st, nil
}

func (s *InMemory) StaffByEmail(ctx context.Context, email string) (Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.staff {
		if st.Email == email {
			return st, nil
		}
	}
	return Staff{}, apperr.ErrNotFound
}

func (s *InMemory) ListStaff(ctx context.Context, p scope.Predicate) ([]Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Staff
	for _, st := range s.staff {
		if p.Eval(ancestryColumn(st.Ancestry(), "staff")) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateStaff(ctx context.Context, st Staff) (Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.staff[st.ID]
	if !ok {
		return Staff{}, apperr.ErrNotFound
	}
	if s.staffEmailTaken(st.Email, st.ID) {
		return Staff{}, apperr.ErrConflict
	}
	cur.Name, cur.Email, cur.Designation, cur.Phone, cur.UpdatedAt = st.Name, st.Email, st.Designation, st.Phone, st.UpdatedAt
	s.staff[st.ID] = cur
	return cur, nil
}

func (s *InMemory) DeleteStaff(ctx context.Context, id int64) error {
	if err := s.deleteStaff(id); err != nil {
		return err
	}
	s.deleted(ctx, auth.RoleStaff, id)
	return nil
}

func (s *InMemory) deleteStaff(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[id]; !ok {
		return apperr.ErrNotFound
	}
	for _, st := range s.students {
		if st.StaffID == id {
			return apperr.ErrConflict
		}
	}
	delete(s.staff, id)
	return nil
}

// --- students ---

func (s *InMemory) studentEmailTaken(email string, except int64) bool {
	for _, st := range s.students {
		if st.ID != except && st.Email == email {
			return true
		}
	}
	return false
}

func (s *InMemory) CreateStudent(ctx context.Context, st Student) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[st.StaffID]; !ok {
		return Student{}, apperr.ErrNotFound
	}
	if s.studentEmailTaken(st.Email, 0) {
		return Student{}, apperr.ErrConflict
	}
	st.ID = s.next()
	s.students[st.ID] = st
	return st, nil
}

func (s *InMemory) GetStudent(ctx context.Context, id int64) (Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return Student{}, apperr.ErrNotFound
	}
	return st, nil
}

func (s *InMemory) StudentByEmail(ctx context.Context, email string) (Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.Email == email {
			return st, nil
		}
	}
	return Student{}, apperr.ErrNotFound
}

func (s *InMemory) ListStudents(ctx context.Context, p scope.Predicate) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Student
	for _, st := range s.students {
		if p.Eval(ancestryColumn(st.Ancestry(), "student")) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateStudent(ctx context.Context, st Student) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.students[st.ID]
	if !ok {
		return Student{}, apperr.ErrNotFound
	}
	if s.studentEmailTaken(st.Email, st.ID) {
		return Student{}, apperr.ErrConflict
	}
	cur.Name, cur.Email, cur.Profile, cur.UpdatedAt = st.Name, st.Email, st.Profile, st.UpdatedAt
	s.students[st.ID] = cur
	return cur, nil
}

func (s *InMemory) DeleteStudent(ctx context.Context, id int64) error {
	s.mu.Lock()
	if _, ok := s.students[id]; !ok {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	delete(s.students, id)
	s.mu.Unlock()
	s.deleted(ctx, auth.RoleStudent, id)
	return nil
}

// --- secrets ---

func (s *InMemory) SetSecret(ctx context.Context, role auth.Role, id int64, hash string, mustChange bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case auth.RoleOrganization:
		o, ok := s.orgs[id]
		if !ok {
			return apperr.ErrNotFound
		}
		o.SecretHash, o.UpdatedAt = hash, at
		s.orgs[id] = o
	case auth.RoleDepartment:
		d, ok := s.depts[id]
		if !ok {
			return apperr.ErrNotFound
		}
		d.SecretHash, d.MustChangeSecret, d.UpdatedAt = hash, mustChange, at
		s.depts[id] = d
	case auth.RoleStaff:
		st, ok := s.staff[id]
		if !ok {
			return apperr.ErrNotFound
		}
		st.SecretHash, st.MustChangeSecret, st.UpdatedAt = hash, mustChange, at
		s.staff[id] = st
	case auth.RoleStudent:
		st, ok := s.students[id]
		if !ok {
			return apperr.ErrNotFound
		}
		st.SecretHash, st.MustChangeSecret, st.UpdatedAt = hash, mustChange, at
		s.students[id] = st
	default:
		return apperr.ErrNotFound
	}
	return nil
}

var _ Store = (*InMemory)(nil)
