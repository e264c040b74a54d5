package logbook

import (
	"context"
	"sort"
	"sync"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
	"logbook.org/internal/scope"
)

// InMemory implements Store with in-process concurrency safety. Conditional
// writes check status under the same lock as the write.
type InMemory struct {
	mu        sync.RWMutex
	seq       int64
	logs      map[int64]ActivityLog
	staffSeq  int64
	staffLogs map[int64]StaffLog
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		logs:      make(map[int64]ActivityLog),
		staffLogs: make(map[int64]StaffLog),
	}
}

func copyLog(l ActivityLog) ActivityLog {
	out := l
	out.Attachments = append([]Attachment{}, l.Attachments...)
	if l.ReviewedAt != nil {
		at := *l.ReviewedAt
		out.ReviewedAt = &at
	}
	return out
}

func logColumn(l ActivityLog) func(string) any {
	return func(col string) any {
		switch col {
		case "id":
			return l.ID
		case "organization_id":
			return l.OrganizationID
		case "department_id":
			return l.DepartmentID
		case "staff_id":
			return l.StaffID
		case "student_id":
			return l.StudentID
		}
		return nil
	}
}

func staffLogColumn(l StaffLog) func(string) any {
	return func(col string) any {
		switch col {
		case "id":
			return l.ID
		case "organization_id":
			return l.OrganizationID
		case "department_id":
			return l.DepartmentID
		case "staff_id":
			return l.StaffID
		}
		return nil
	}
}

func statusIn(s Status, from []Status) bool {
	for _, f := range from {
		if s.Is(f) {
			return true
		}
	}
	return false
}

func (s *InMemory) InsertLog(ctx context.Context, l ActivityLog) (ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	l.ID = s.seq
	s.logs[l.ID] = copyLog(l)
	return copyLog(l), nil
}

func (s *InMemory) GetLog(ctx context.Context, id int64) (ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[id]
	if !ok {
		return ActivityLog{}, apperr.ErrNotFound
	}
	return copyLog(l), nil
}

func (s *InMemory) ListLogs(ctx context.Context, p scope.Predicate, opts ListOptions) ([]ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ActivityLog
	for _, l := range s.logs {
		if !p.Eval(logColumn(l)) {
			continue
		}
		if opts.Status != "" && !l.Status.Is(opts.Status) {
			continue
		}
		out = append(out, copyLog(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *InMemory) UpdateLog(ctx context.Context, l ActivityLog, from []Status, replaceAttachments bool) (ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.logs[l.ID]
	if !ok {
		return ActivityLog{}, apperr.ErrNotFound
	}
	if !statusIn(cur.Status, from) {
		return ActivityLog{}, apperr.ErrInvalidState
	}
	cur.setEntry(Entry{
		Title:           l.Title,
		Category:        l.Category,
		Description:     l.Description,
		ActivityDate:    l.ActivityDate,
		DurationMinutes: l.DurationMinutes,
	})
	if replaceAttachments {
		cur.Attachments = append([]Attachment{}, l.Attachments...)
	}
	cur.UpdatedAt = l.UpdatedAt
	s.logs[l.ID] = cur
	return copyLog(cur), nil
}

func (s *InMemory) DeleteLog(ctx context.Context, id int64, from []Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.logs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if !statusIn(cur.Status, from) {
		return apperr.ErrInvalidState
	}
	delete(s.logs, id)
	return nil
}

func (s *InMemory) ReviewLog(ctx context.Context, id int64, outcome Status, remark string, at time.Time) (ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.logs[id]
	if !ok {
		return ActivityLog{}, apperr.ErrNotFound
	}
	if !cur.Status.Reviewable() {
		return ActivityLog{}, apperr.ErrInvalidState
	}
	cur.Status = outcome
	cur.FacultyRemark = remark
	cur.ReviewedAt = &at
	cur.UpdatedAt = at
	s.logs[id] = cur
	return copyLog(cur), nil
}

// SetStatus overwrites a stored status verbatim. Tests use it to seed
// inconsistent casing.
func (s *InMemory) SetStatus(id int64, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[id]; ok {
		l.Status = st
		s.logs[id] = l
	}
}

func (s *InMemory) InsertStaffLog(ctx context.Context, l StaffLog) (StaffLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staffSeq++
	l.ID = s.staffSeq
	s.staffLogs[l.ID] = l
	return l, nil
}

func (s *InMemory) GetStaffLog(ctx context.Context, id int64) (StaffLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.staffLogs[id]
	if !ok {
		return StaffLog{}, apperr.ErrNotFound
	}
	return l, nil
}

func (s *InMemory) ListStaffLogs(ctx context.Context, p scope.Predicate, limit int) ([]StaffLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StaffLog
	for _, l := range s.staffLogs {
		if p.Eval(staffLogColumn(l)) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) UpdateStaffLog(ctx context.Context, l StaffLog) (StaffLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staffLogs[l.ID]; !ok {
		return StaffLog{}, apperr.ErrNotFound
	}
	s.staffLogs[l.ID] = l
	return l, nil
}

func (s *InMemory) DeleteStaffLog(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staffLogs[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.staffLogs, id)
	return nil
}

var _ Store = (*InMemory)(nil)

// DeleteOwned removes what the schema cascades when an account goes away:
// a student's activity logs or a staff member's own staff logs.
func (s *InMemory) DeleteOwned(ctx context.Context, role auth.Role, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case auth.RoleStudent:
		for k, l := range s.logs {
			if l.StudentID == id {
				delete(s.logs, k)
			}
		}
	case auth.RoleStaff:
		for k, l := range s.staffLogs {
			if l.StaffID == id {
				delete(s.staffLogs, k)
			}
		}
	}
}
