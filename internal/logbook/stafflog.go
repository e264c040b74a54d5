package logbook

import (
	"context"

	"logbook.org/internal/apperr"
	"logbook.org/internal/audit"
	"logbook.org/internal/auth"
	"logbook.org/internal/scope"
)

// CreateStaffLog records an activity for the calling staff member.
func (s *Service) CreateStaffLog(ctx context.Context, c auth.Claims, pathStaffID int64, e Entry) (StaffLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return StaffLog{}, err
	}
	e.normalize()
	fe := apperr.FieldErrors{}
	e.validate(fe)
	if err := fe.Err(); err != nil {
		return StaffLog{}, err
	}
	if err := s.requireActive(ctx, c); err != nil {
		return StaffLog{}, err
	}
	now := s.now()
	l := StaffLog{
		StaffID:        c.StaffID,
		DepartmentID:   c.DepartmentID,
		OrganizationID: c.OrgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.setEntry(e)
	created, err := s.store.InsertStaffLog(ctx, l)
	if err != nil {
		return StaffLog{}, err
	}
	_ = audit.LogEvent(ctx, "staff_log.created", map[string]any{"staff_log_id": created.ID})
	return created, nil
}

// ListStaffLogs lists the calling staff member's own logs.
func (s *Service) ListStaffLogs(ctx context.Context, c auth.Claims, pathStaffID int64, limit int) ([]StaffLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.StaffLogColumns)
	if err != nil {
		return nil, err
	}
	return s.store.ListStaffLogs(ctx, p, clampLimit(limit))
}

// GetStaffLog returns one of the calling staff member's logs.
func (s *Service) GetStaffLog(ctx context.Context, c auth.Claims, pathStaffID, id int64) (StaffLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return StaffLog{}, err
	}
	return s.resolveStaffLog(ctx, c, id)
}

func (s *Service) resolveStaffLog(ctx context.Context, c auth.Claims, id int64) (StaffLog, error) {
	l, err := s.store.GetStaffLog(ctx, id)
	if err != nil {
		return StaffLog{}, err
	}
	if err := scope.Resolve(c, l.Ancestry()); err != nil {
		return StaffLog{}, err
	}
	return l, nil
}

// UpdateStaffLog applies p to one of the caller's logs.
func (s *Service) UpdateStaffLog(ctx context.Context, c auth.Claims, pathStaffID, id int64, p Patch) (StaffLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return StaffLog{}, err
	}
	current, err := s.resolveStaffLog(ctx, c, id)
	if err != nil {
		return StaffLog{}, err
	}
	e := current.entry()
	p.apply(&e)
	e.normalize()
	fe := apperr.FieldErrors{}
	e.validate(fe)
	if p.Attachments != nil {
		fe.Add("attachments", "staff logs do not carry attachments")
	}
	if err := fe.Err(); err != nil {
		return StaffLog{}, err
	}
	current.setEntry(e)
	current.UpdatedAt = s.now()
	updated, err := s.store.UpdateStaffLog(ctx, current)
	if err != nil {
		return StaffLog{}, err
	}
	_ = audit.LogEvent(ctx, "staff_log.updated", map[string]any{"staff_log_id": id})
	return updated, nil
}

// DeleteStaffLog removes one of the caller's logs.
func (s *Service) DeleteStaffLog(ctx context.Context, c auth.Claims, pathStaffID, id int64) error {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return err
	}
	if _, err := s.resolveStaffLog(ctx, c, id); err != nil {
		return err
	}
	if err := s.store.DeleteStaffLog(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "staff_log.deleted", map[string]any{"staff_log_id": id})
	return nil
}
