package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/logbook"
	"logbook.org/internal/scope"
)

const logColumns = `id, student_id, staff_id, department_id, organization_id, title, category, description,
	activity_date, duration_minutes, status, coalesce(faculty_remark, ''), reviewed_at, created_at, updated_at`

func scanLog(r rowScanner) (logbook.ActivityLog, error) {
	var (
		l        logbook.ActivityLog
		status   string
		reviewed sql.NullTime
	)
	if err := r.Scan(&l.ID, &l.StudentID, &l.StaffID, &l.DepartmentID, &l.OrganizationID, &l.Title, &l.Category,
		&l.Description, &l.ActivityDate, &l.DurationMinutes, &status, &l.FacultyRemark, &reviewed,
		&l.CreatedAt, &l.UpdatedAt); err != nil {
		return logbook.ActivityLog{}, mapError(err)
	}
	// Rows written by older clients may carry any casing.
	if st, err := logbook.ParseStatus(status); err == nil {
		l.Status = st
	} else {
		l.Status = logbook.Status(status)
	}
	l.ReviewedAt = timePtr(reviewed)
	l.ActivityDate = l.ActivityDate.UTC()
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	l.Attachments = []logbook.Attachment{}
	return l, nil
}

// ownedRow reports a missing owner on insert as ErrNotFound. The account was
// deleted after its token was issued, which is not a conflict.
type ownedRow struct{ rowScanner }

func (r ownedRow) Scan(dest ...any) error {
	err := r.rowScanner.Scan(dest...)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: owner no longer exists", apperr.ErrNotFound)
	}
	return err
}

func (s *Store) InsertLog(ctx context.Context, l logbook.ActivityLog) (logbook.ActivityLog, error) {
	if s.db == nil {
		return logbook.ActivityLog{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into activity_logs(student_id, staff_id, department_id, organization_id, title, category, description,
			activity_date, duration_minutes, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning `+logColumns,
		l.StudentID, l.StaffID, l.DepartmentID, l.OrganizationID, l.Title, l.Category, l.Description,
		l.ActivityDate, l.DurationMinutes, string(l.Status), l.CreatedAt, l.UpdatedAt)
	out, err := scanLog(ownedRow{row})
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	if err := insertAttachments(ctx, tx, out.ID, l.Attachments, l.CreatedAt); err != nil {
		return logbook.ActivityLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return logbook.ActivityLog{}, err
	}
	out.Attachments = append(out.Attachments, l.Attachments...)
	return out, nil
}

func insertAttachments(ctx context.Context, q querier, logID int64, atts []logbook.Attachment, at time.Time) error {
	for _, a := range atts {
		if _, err := q.ExecContext(ctx, `
			insert into activity_log_attachments(log_id, name, url, created_at)
			values ($1, $2, $3, $4)`, logID, a.Name, a.URL, at); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// loadAttachments fills Attachments for every log in one round trip.
func loadAttachments(ctx context.Context, q querier, logs []logbook.ActivityLog) error {
	if len(logs) == 0 {
		return nil
	}
	index := make(map[int64]int, len(logs))
	args := make([]any, 0, len(logs))
	for i, l := range logs {
		index[l.ID] = i
		args = append(args, l.ID)
	}
	rows, err := q.QueryContext(ctx, `
		select log_id, name, url from activity_log_attachments
		where log_id in (`+placeholders(1, len(args))+`)
		order by id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			logID int64
			a     logbook.Attachment
		)
		if err := rows.Scan(&logID, &a.Name, &a.URL); err != nil {
			return err
		}
		if i, ok := index[logID]; ok {
			logs[i].Attachments = append(logs[i].Attachments, a)
		}
	}
	return rows.Err()
}

func getLog(ctx context.Context, q querier, id int64) (logbook.ActivityLog, error) {
	l, err := scanLog(q.QueryRowContext(ctx, `select `+logColumns+` from activity_logs where id = $1`, id))
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	logs := []logbook.ActivityLog{l}
	if err := loadAttachments(ctx, q, logs); err != nil {
		return logbook.ActivityLog{}, err
	}
	return logs[0], nil
}

func (s *Store) GetLog(ctx context.Context, id int64) (logbook.ActivityLog, error) {
	if s.db == nil {
		return logbook.ActivityLog{}, errNoDB
	}
	return getLog(ctx, s.db, id)
}

func (s *Store) ListLogs(ctx context.Context, p scope.Predicate, opts logbook.ListOptions) ([]logbook.ActivityLog, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := p.SQL(1)
	query := `select ` + logColumns + ` from activity_logs where ` + where
	if opts.Status != "" {
		args = append(args, strings.ToLower(string(opts.Status)))
		query += ` and lower(status) = ` + placeholders(len(args), 1)
	}
	query += ` order by created_at desc, id desc`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` limit ` + placeholders(len(args), 1)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []logbook.ActivityLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := loadAttachments(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// statusGuard renders "lower(status) in (...)" for from, with arguments
// numbered from start.
func statusGuard(from []logbook.Status, start int) (string, []any) {
	args := make([]any, len(from))
	for i, st := range from {
		args[i] = strings.ToLower(string(st))
	}
	return `lower(status) in (` + placeholders(start, len(from)) + `)`, args
}

// missingOrState tells a vanished row from one whose status no longer
// permits the write.
func missingOrState(ctx context.Context, q querier, table string, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from `+table+` where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return err
	}
	return apperr.ErrInvalidState
}

func (s *Store) UpdateLog(ctx context.Context, l logbook.ActivityLog, from []logbook.Status, replaceAttachments bool) (logbook.ActivityLog, error) {
	if s.db == nil {
		return logbook.ActivityLog{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	defer func() { _ = tx.Rollback() }()

	guard, guardArgs := statusGuard(from, 8)
	args := append([]any{l.ID, l.Title, l.Category, l.Description, l.ActivityDate, l.DurationMinutes, l.UpdatedAt}, guardArgs...)
	res, err := tx.ExecContext(ctx, `
		update activity_logs
		set title = $2, category = $3, description = $4, activity_date = $5, duration_minutes = $6, updated_at = $7
		where id = $1 and `+guard, args...)
	if err != nil {
		return logbook.ActivityLog{}, mapError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return logbook.ActivityLog{}, err
	} else if n == 0 {
		return logbook.ActivityLog{}, missingOrState(ctx, tx, "activity_logs", l.ID)
	}
	if replaceAttachments {
		if _, err := tx.ExecContext(ctx, `delete from activity_log_attachments where log_id = $1`, l.ID); err != nil {
			return logbook.ActivityLog{}, err
		}
		if err := insertAttachments(ctx, tx, l.ID, l.Attachments, l.UpdatedAt); err != nil {
			return logbook.ActivityLog{}, err
		}
	}
	out, err := getLog(ctx, tx, l.ID)
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return logbook.ActivityLog{}, err
	}
	return out, nil
}

func (s *Store) DeleteLog(ctx context.Context, id int64, from []logbook.Status) error {
	if s.db == nil {
		return errNoDB
	}
	guard, guardArgs := statusGuard(from, 2)
	res, err := s.db.ExecContext(ctx, `delete from activity_logs where id = $1 and `+guard, append([]any{id}, guardArgs...)...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missingOrState(ctx, s.db, "activity_logs", id)
	}
	return nil
}

// ReviewLog only matches a pending row, so of two concurrent reviews exactly
// one sees an affected row.
func (s *Store) ReviewLog(ctx context.Context, id int64, outcome logbook.Status, remark string, at time.Time) (logbook.ActivityLog, error) {
	if s.db == nil {
		return logbook.ActivityLog{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update activity_logs
		set status = $2, faculty_remark = $3, reviewed_at = $4, updated_at = $4
		where id = $1 and lower(status) = 'pending'
		returning `+logColumns,
		id, string(outcome), remark, at)
	l, err := scanLog(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return logbook.ActivityLog{}, missingOrState(ctx, s.db, "activity_logs", id)
	}
	if err != nil {
		return logbook.ActivityLog{}, err
	}
	logs := []logbook.ActivityLog{l}
	if err := loadAttachments(ctx, s.db, logs); err != nil {
		return logbook.ActivityLog{}, err
	}
	return logs[0], nil
}

const staffLogColumns = `id, staff_id, department_id, organization_id, title, category, description,
	activity_date, duration_minutes, created_at, updated_at`

func scanStaffLog(r rowScanner) (logbook.StaffLog, error) {
	var l logbook.StaffLog
	if err := r.Scan(&l.ID, &l.StaffID, &l.DepartmentID, &l.OrganizationID, &l.Title, &l.Category, &l.Description,
		&l.ActivityDate, &l.DurationMinutes, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return logbook.StaffLog{}, mapError(err)
	}
	l.ActivityDate = l.ActivityDate.UTC()
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	return l, nil
}

func (s *Store) InsertStaffLog(ctx context.Context, l logbook.StaffLog) (logbook.StaffLog, error) {
	if s.db == nil {
		return logbook.StaffLog{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into staff_logs(staff_id, department_id, organization_id, title, category, description,
			activity_date, duration_minutes, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+staffLogColumns,
		l.StaffID, l.DepartmentID, l.OrganizationID, l.Title, l.Category, l.Description,
		l.ActivityDate, l.DurationMinutes, l.CreatedAt, l.UpdatedAt)
	return scanStaffLog(ownedRow{row})
}

func (s *Store) GetStaffLog(ctx context.Context, id int64) (logbook.StaffLog, error) {
	if s.db == nil {
		return logbook.StaffLog{}, errNoDB
	}
	return scanStaffLog(s.db.QueryRowContext(ctx, `select `+staffLogColumns+` from staff_logs where id = $1`, id))
}

func (s *Store) ListStaffLogs(ctx context.Context, p scope.Predicate, limit int) ([]logbook.StaffLog, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := p.SQL(1)
	query := `select ` + staffLogColumns + ` from staff_logs where ` + where + ` order by created_at desc, id desc`
	if limit > 0 {
		args = append(args, limit)
		query += ` limit ` + placeholders(len(args), 1)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []logbook.StaffLog
	for rows.Next() {
		l, err := scanStaffLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStaffLog(ctx context.Context, l logbook.StaffLog) (logbook.StaffLog, error) {
	if s.db == nil {
		return logbook.StaffLog{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update staff_logs
		set title = $2, category = $3, description = $4, activity_date = $5, duration_minutes = $6, updated_at = $7
		where id = $1
		returning `+staffLogColumns,
		l.ID, l.Title, l.Category, l.Description, l.ActivityDate, l.DurationMinutes, l.UpdatedAt)
	return scanStaffLog(row)
}

func (s *Store) DeleteStaffLog(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `delete from staff_logs where id = $1`, id)
}
