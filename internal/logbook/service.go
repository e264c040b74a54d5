// Package logbook implements the activity-log lifecycle: students submit,
// edit and withdraw logs, and their staff review them.
package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/audit"
	"logbook.org/internal/auth"
	"logbook.org/internal/notify"
	"logbook.org/internal/obs"
	"logbook.org/internal/scope"
)

// Store persists activity and staff logs. Every conditional write applies its
// status precondition atomically with the write and returns
// apperr.ErrInvalidState when no row satisfied it.
type Store interface {
	InsertLog(ctx context.Context, l ActivityLog) (ActivityLog, error)
	GetLog(ctx context.Context, id int64) (ActivityLog, error)
	ListLogs(ctx context.Context, p scope.Predicate, opts ListOptions) ([]ActivityLog, error)
	// UpdateLog writes the descriptive fields if the stored status is one of
	// from. Attachments are replaced only when replaceAttachments is set.
	UpdateLog(ctx context.Context, l ActivityLog, from []Status, replaceAttachments bool) (ActivityLog, error)
	DeleteLog(ctx context.Context, id int64, from []Status) error
	// ReviewLog moves a Pending log to outcome.
	ReviewLog(ctx context.Context, id int64, outcome Status, remark string, at time.Time) (ActivityLog, error)

	InsertStaffLog(ctx context.Context, l StaffLog) (StaffLog, error)
	GetStaffLog(ctx context.Context, id int64) (StaffLog, error)
	ListStaffLogs(ctx context.Context, p scope.Predicate, limit int) ([]StaffLog, error)
	UpdateStaffLog(ctx context.Context, l StaffLog) (StaffLog, error)
	DeleteStaffLog(ctx context.Context, id int64) error
}

// Principals confirms that the account behind a token still exists.
type Principals interface {
	Active(ctx context.Context, c auth.Claims) error
}

// Service drives the activity-log state machine.
type Service struct {
	store      Store
	notifier   notify.Notifier
	principals Principals
	clock      func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithPrincipals makes writes that create records check the caller's
// account first. Tokens outlive deleted accounts until they expire.
func WithPrincipals(p Principals) ServiceOption {
	return func(s *Service) { s.principals = p }
}

// NewService wires the state machine to its store and notifier.
func NewService(store Store, notifier notify.Notifier, opts ...ServiceOption) *Service {
	s := &Service{store: store, notifier: notifier, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func requireRole(c auth.Claims, roles ...auth.Role) error {
	if !c.HasRole(roles...) {
		return fmt.Errorf("%w: role %s may not perform this action", apperr.ErrForbidden, c.Role)
	}
	return nil
}

func (s *Service) requireActive(ctx context.Context, c auth.Claims) error {
	if s.principals == nil {
		return nil
	}
	err := s.principals.Active(ctx, c)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: account no longer exists", apperr.ErrUnauthenticated)
	}
	return err
}

// Submit creates a Pending log owned by the calling student and tells the
// student's staff about it.
func (s *Service) Submit(ctx context.Context, c auth.Claims, d Draft) (ActivityLog, error) {
	if err := requireRole(c, auth.RoleStudent); err != nil {
		return ActivityLog{}, err
	}
	d.normalize()
	fe := apperr.FieldErrors{}
	d.validate(fe)
	attachments := normalizeAttachments(d.Attachments, fe)
	if err := fe.Err(); err != nil {
		return ActivityLog{}, err
	}
	if err := s.requireActive(ctx, c); err != nil {
		return ActivityLog{}, err
	}

	now := s.now()
	l := ActivityLog{
		StudentID:      c.StudentID,
		StaffID:        c.StaffID,
		DepartmentID:   c.DepartmentID,
		OrganizationID: c.OrgID,
		Attachments:    attachments,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.setEntry(d.Entry)
	created, err := s.store.InsertLog(ctx, l)
	if err != nil {
		return ActivityLog{}, err
	}

	_ = audit.LogEvent(ctx, "log.submitted", map[string]any{"log_id": created.ID})
	if created.StaffID != 0 {
		s.notifier.Notify(ctx,
			notify.Recipient{Role: auth.RoleStaff, TargetID: created.StaffID},
			"New activity log submitted",
			fmt.Sprintf("%q dated %s is waiting for your review.", created.Title, created.ActivityDate.Format("2006-01-02")),
		)
	}
	return created, nil
}

// ListOwn lists the calling student's logs, newest first.
func (s *Service) ListOwn(ctx context.Context, c auth.Claims, status Status, limit int) ([]ActivityLog, error) {
	if err := requireRole(c, auth.RoleStudent); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.ActivityLogColumns)
	if err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, p, ListOptions{Status: status, Limit: clampLimit(limit)})
}

// GetOwn returns one of the calling student's logs.
func (s *Service) GetOwn(ctx context.Context, c auth.Claims, id int64) (ActivityLog, error) {
	if err := requireRole(c, auth.RoleStudent); err != nil {
		return ActivityLog{}, err
	}
	return s.resolveLog(ctx, c, id)
}

func (s *Service) resolveLog(ctx context.Context, c auth.Claims, id int64) (ActivityLog, error) {
	l, err := s.store.GetLog(ctx, id)
	if err != nil {
		return ActivityLog{}, err
	}
	if err := scope.Resolve(c, l.Ancestry()); err != nil {
		return ActivityLog{}, err
	}
	return l, nil
}

// Edit changes a Pending or Rejected log. The status is left as it is.
func (s *Service) Edit(ctx context.Context, c auth.Claims, id int64, p Patch) (ActivityLog, error) {
	if err := requireRole(c, auth.RoleStudent); err != nil {
		return ActivityLog{}, err
	}
	current, err := s.resolveLog(ctx, c, id)
	if err != nil {
		return ActivityLog{}, err
	}
	if !current.Status.Editable() {
		return ActivityLog{}, fmt.Errorf("%w: a %s log cannot be edited", apperr.ErrInvalidState, current.Status)
	}

	e := current.entry()
	p.apply(&e)
	e.normalize()
	fe := apperr.FieldErrors{}
	e.validate(fe)
	next := current
	if p.Attachments != nil {
		next.Attachments = normalizeAttachments(*p.Attachments, fe)
	}
	if err := fe.Err(); err != nil {
		return ActivityLog{}, err
	}
	next.setEntry(e)
	next.UpdatedAt = s.now()

	updated, err := s.store.UpdateLog(ctx, next, []Status{StatusPending, StatusRejected}, p.Attachments != nil)
	if err != nil {
		return ActivityLog{}, err
	}
	_ = audit.LogEvent(ctx, "log.edited", map[string]any{"log_id": id, "attachments_replaced": p.Attachments != nil})
	return updated, nil
}

// Delete withdraws a Pending log.
func (s *Service) Delete(ctx context.Context, c auth.Claims, id int64) error {
	if err := requireRole(c, auth.RoleStudent); err != nil {
		return err
	}
	current, err := s.resolveLog(ctx, c, id)
	if err != nil {
		return err
	}
	if !current.Status.Deletable() {
		return fmt.Errorf("%w: a %s log cannot be deleted", apperr.ErrInvalidState, current.Status)
	}
	if err := s.store.DeleteLog(ctx, id, []Status{StatusPending}); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "log.deleted", map[string]any{"log_id": id})
	return nil
}

// ListForReview lists logs beneath the calling staff member. pathStaffID is
// the staff id addressed by the request and must be the caller's own.
func (s *Service) ListForReview(ctx context.Context, c auth.Claims, pathStaffID int64, f ReviewFilter) ([]ActivityLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return nil, err
	}
	p, err := scope.For(c, scope.ActivityLogColumns)
	if err != nil {
		return nil, err
	}
	if f.StudentID > 0 {
		p = p.And(scope.ActivityLogColumns.Student, f.StudentID)
	}
	return s.store.ListLogs(ctx, p, ListOptions{Status: f.Status, Limit: clampLimit(f.Limit)})
}

// GetForReview returns one log beneath the calling staff member.
func (s *Service) GetForReview(ctx context.Context, c auth.Claims, pathStaffID, id int64) (ActivityLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return ActivityLog{}, err
	}
	return s.resolveLog(ctx, c, id)
}

// Review decides a Pending log and notifies its student. Any other prior
// status, including a concurrent decision that landed first, is
// ErrInvalidState and leaves the row unchanged.
func (s *Service) Review(ctx context.Context, c auth.Claims, pathStaffID, id int64, d Decision) (ActivityLog, error) {
	if err := s.staffPath(c, pathStaffID); err != nil {
		return ActivityLog{}, err
	}
	if err := d.validate(); err != nil {
		return ActivityLog{}, err
	}
	current, err := s.resolveLog(ctx, c, id)
	if err != nil {
		return ActivityLog{}, err
	}
	if !current.Status.Reviewable() {
		return ActivityLog{}, fmt.Errorf("%w: log is already %s", apperr.ErrInvalidState, current.Status)
	}

	outcome := d.outcome()
	reviewed, err := s.store.ReviewLog(ctx, id, outcome, d.Remark, s.now())
	if err != nil {
		return ActivityLog{}, err
	}
	obs.ReviewsTotal.WithLabelValues(string(d.Action)).Inc()
	_ = audit.LogEvent(ctx, "log.reviewed", map[string]any{"log_id": id, "outcome": string(outcome)})

	title, body := reviewMessage(reviewed, d)
	s.notifier.Notify(ctx, notify.Recipient{Role: auth.RoleStudent, TargetID: reviewed.StudentID}, title, body)
	return reviewed, nil
}

func reviewMessage(l ActivityLog, d Decision) (string, string) {
	if d.Action == ActionApprove {
		return "Activity log approved", fmt.Sprintf("Your log %q was approved.", l.Title)
	}
	return "Activity log rejected", fmt.Sprintf("Your log %q was rejected: %s", l.Title, d.Remark)
}

func (s *Service) staffPath(c auth.Claims, pathStaffID int64) error {
	if err := requireRole(c, auth.RoleStaff); err != nil {
		return err
	}
	return scope.CheckPath(c, scope.Ancestry{StaffID: pathStaffID})
}
