package logbook

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/scope"
)

// Status is the review state of an activity log.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// ParseStatus matches stored or requested values case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusPending, StatusApproved, StatusRejected} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, s)
}

// Is compares two statuses ignoring case.
func (s Status) Is(other Status) bool { return strings.EqualFold(string(s), string(other)) }

// Editable reports whether the owning student may still change the log.
func (s Status) Editable() bool { return s.Is(StatusPending) || s.Is(StatusRejected) }

// Deletable reports whether the owning student may delete the log.
func (s Status) Deletable() bool { return s.Is(StatusPending) }

// Reviewable reports whether staff may decide on the log.
func (s Status) Reviewable() bool { return s.Is(StatusPending) }

const (
	maxTitle       = 200
	maxCategory    = 100
	maxDescription = 5000
	maxDuration    = 24 * 60
	maxAttachments = 20
)

// Attachment is a stored blob reference.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ActivityLog is a student-submitted record of one activity.
type ActivityLog struct {
	ID              int64        `json:"id"`
	StudentID       int64        `json:"studentId"`
	StaffID         int64        `json:"staffId"`
	DepartmentID    int64        `json:"departmentId"`
	OrganizationID  int64        `json:"organizationId"`
	Title           string       `json:"title"`
	Category        string       `json:"category"`
	Description     string       `json:"description"`
	ActivityDate    time.Time    `json:"activityDate"`
	DurationMinutes int          `json:"durationMinutes"`
	Attachments     []Attachment `json:"attachments"`
	Status          Status       `json:"status"`
	FacultyRemark   string       `json:"facultyRemark,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewedAt,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Ancestry returns the log's denormalized position in the hierarchy.
func (l ActivityLog) Ancestry() scope.Ancestry {
	return scope.Ancestry{
		OrgID:        l.OrganizationID,
		DepartmentID: l.DepartmentID,
		StaffID:      l.StaffID,
		StudentID:    l.StudentID,
	}
}

// Entry holds the descriptive fields shared by activity and staff logs.
type Entry struct {
	Title           string
	Category        string
	Description     string
	ActivityDate    time.Time
	DurationMinutes int
}

func (e *Entry) normalize() {
	e.Title = strings.TrimSpace(e.Title)
	e.Category = strings.TrimSpace(e.Category)
	e.Description = strings.TrimSpace(e.Description)
}

func (e Entry) validate(fe apperr.FieldErrors) {
	switch {
	case e.Title == "":
		fe.Add("title", "is required")
	case len(e.Title) > maxTitle:
		fe.Add("title", fmt.Sprintf("must be at most %d characters", maxTitle))
	}
	if len(e.Category) > maxCategory {
		fe.Add("category", fmt.Sprintf("must be at most %d characters", maxCategory))
	}
	if len(e.Description) > maxDescription {
		fe.Add("description", fmt.Sprintf("must be at most %d characters", maxDescription))
	}
	if e.ActivityDate.IsZero() {
		fe.Add("activityDate", "is required")
	}
	if e.DurationMinutes < 0 || e.DurationMinutes > maxDuration {
		fe.Add("durationMinutes", fmt.Sprintf("must be between 0 and %d", maxDuration))
	}
}

// Draft is the input for a new activity log.
type Draft struct {
	Entry
	Attachments []Attachment
}

// Patch carries optional changes. A nil field is left untouched; a non-nil
// Attachments replaces the whole set, so an empty slice clears it.
type Patch struct {
	Title           *string
	Category        *string
	Description     *string
	ActivityDate    *time.Time
	DurationMinutes *int
	Attachments     *[]Attachment
}

func (p Patch) apply(e *Entry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.ActivityDate != nil {
		e.ActivityDate = *p.ActivityDate
	}
	if p.DurationMinutes != nil {
		e.DurationMinutes = *p.DurationMinutes
	}
}

func normalizeAttachments(in []Attachment, fe apperr.FieldErrors) []Attachment {
	if len(in) > maxAttachments {
		fe.Add("attachments", fmt.Sprintf("at most %d attachments", maxAttachments))
		return nil
	}
	out := make([]Attachment, 0, len(in))
	for i, a := range in {
		a.Name = strings.TrimSpace(a.Name)
		a.URL = strings.TrimSpace(a.URL)
		key := fmt.Sprintf("attachments[%d]", i)
		if a.Name == "" {
			fe.Add(key+".name", "is required")
		}
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			fe.Add(key+".url", "must be an absolute http(s) URL")
		}
		out = append(out, a)
	}
	return out
}

// Action is a reviewer's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Decision is the input to Review.
type Decision struct {
	Action Action
	Remark string
}

func (d *Decision) validate() error {
	fe := apperr.FieldErrors{}
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	d.Remark = strings.TrimSpace(d.Remark)
	if d.Action != ActionApprove && d.Action != ActionReject {
		fe.Add("action", "must be approve or reject")
	}
	if d.Remark == "" {
		fe.Add("remark", "is required")
	}
	return fe.Err()
}

func (d Decision) outcome() Status {
	if d.Action == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// ReviewFilter narrows a staff member's review queue. Scope always comes from
// the caller's claims; these only narrow it further.
type ReviewFilter struct {
	Status    Status
	StudentID int64
	Limit     int
}

// ListOptions is passed to the store alongside the scope predicate.
type ListOptions struct {
	Status Status
	Limit  int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

// StaffLog is a staff member's own activity record. It has no review state.
type StaffLog struct {
	ID              int64     `json:"id"`
	StaffID         int64     `json:"staffId"`
	DepartmentID    int64     `json:"departmentId"`
	OrganizationID  int64     `json:"organizationId"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Description     string    `json:"description"`
	ActivityDate    time.Time `json:"activityDate"`
	DurationMinutes int       `json:"durationMinutes"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Ancestry returns the staff log's position in the hierarchy.
func (l StaffLog) Ancestry() scope.Ancestry {
	return scope.Ancestry{OrgID: l.OrganizationID, DepartmentID: l.DepartmentID, StaffID: l.StaffID}
}

func (l StaffLog) entry() Entry {
	return Entry{
		Title:           l.Title,
		Category:        l.Category,
		Description:     l.Description,
		ActivityDate:    l.ActivityDate,
		DurationMinutes: l.DurationMinutes,
	}
}

func (l ActivityLog) entry() Entry {
	return Entry{
		Title:           l.Title,
		Category:        l.Category,
		Description:     l.Description,
		ActivityDate:    l.ActivityDate,
		DurationMinutes: l.DurationMinutes,
	}
}

func (l *ActivityLog) setEntry(e Entry) {
	l.Title, l.Category, l.Description = e.Title, e.Category, e.Description
	l.ActivityDate, l.DurationMinutes = e.ActivityDate.UTC(), e.DurationMinutes
}

func (l *StaffLog) setEntry(e Entry) {
	l.Title, l.Category, l.Description = e.Title, e.Category, e.Description
	l.ActivityDate, l.DurationMinutes = e.ActivityDate.UTC(), e.DurationMinutes
}
