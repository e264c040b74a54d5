package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook.org/internal/accounts"
	"logbook.org/internal/auth"
	"logbook.org/internal/logbook"
	"logbook.org/internal/notify"
)

type testServer struct {
	t *testing.T
	h http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("http-test-secret-http-test-secret")
	require.NoError(t, err)
	accStore, logStore := accounts.NewInMemory(), logbook.NewInMemory()
	accStore.OnDelete(logStore.DeleteOwned)
	acc, err := accounts.NewService(accStore, tokens, accounts.WithSignup(true), accounts.WithEchoedSecrets(true))
	require.NoError(t, err)
	inbox := notify.NewDispatcher(notify.NewInMemory(), nil)
	api := New(Options{
		Tokens:        tokens,
		Accounts:      acc,
		Logbook:       logbook.NewService(logStore, inbox, logbook.WithPrincipals(acc)),
		Notifications: inbox,
		Version:       "test",
		RateBurst:     10000,
		RatePerSecond: 10000,
	})
	return testServer{t: t, h: api.Handler()}
}

type reply struct {
	Code   int
	Header http.Header
	Body   map[string]any
}

func (r reply) str(key string) string {
	s, _ := r.Body[key].(string)
	return s
}

func (r reply) id() int64 {
	f, _ := r.Body["id"].(float64)
	return int64(f)
}

func (r reply) account() map[string]any {
	m, _ := r.Body["account"].(map[string]any)
	return m
}

func (r reply) items() []any {
	items, _ := r.Body["items"].([]any)
	return items
}

func (s testServer) do(method, path, token string, body any) reply {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)

	out := reply{Code: rr.Code, Header: rr.Header()}
	if rr.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rr.Body.Bytes(), &out.Body), "body: %s", rr.Body.String())
	}
	return out
}

func (s testServer) login(slug, email, password string) reply {
	s.t.Helper()
	r := s.do(http.MethodPost, "/auth/"+slug+"/login", "", map[string]string{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, r.Code, "login %s: %v", email, r.Body)
	return r
}

type tenant struct {
	org, dept, staff, student string
	deptID, staffID, studentID int64
}

// onboard registers an organization and walks one account down each tier.
func (s testServer) onboard(tag string) tenant {
	s.t.Helper()
	var tn tenant

	r := s.do(http.MethodPost, "/auth/org/register", "", map[string]string{
		"name": "Org " + tag, "email": "org-" + tag + "@x.io", "password": "org-password",
	})
	require.Equal(s.t, http.StatusCreated, r.Code, "%v", r.Body)
	tn.org = r.str("token")

	r = s.do(http.MethodPost, "/organization/departments", tn.org, map[string]string{
		"name": "Surgery", "email": "dept-" + tag + "@x.io",
	})
	require.Equal(s.t, http.StatusCreated, r.Code, "%v", r.Body)
	tn.deptID = int64(r.account()["id"].(float64))
	login := s.login("department", "dept-"+tag+"@x.io", r.str("temporaryPassword"))
	assert.Equal(s.t, true, login.Body["requirePasswordChange"])
	tn.dept = login.str("token")

	r = s.do(http.MethodPost, fmt.Sprintf("/departments/%d/staff", tn.deptID), tn.dept, map[string]string{
		"name": "Dr Grey", "email": "staff-" + tag + "@x.io", "designation": "Registrar",
	})
	require.Equal(s.t, http.StatusCreated, r.Code, "%v", r.Body)
	tn.staffID = int64(r.account()["id"].(float64))
	tn.staff = s.login("staff", "staff-"+tag+"@x.io", r.str("temporaryPassword")).str("token")

	r = s.do(http.MethodPost, fmt.Sprintf("/staff/%d/students", tn.staffID), tn.staff, map[string]any{
		"name": "Amy", "email": "student-" + tag + "@x.io",
		"registrationNumber": "R-1", "rotationStart": "2026-01-05", "rotationEnd": "2026-03-01",
	})
	require.Equal(s.t, http.StatusCreated, r.Code, "%v", r.Body)
	tn.studentID = int64(r.account()["id"].(float64))
	tn.student = s.login("student", "student-"+tag+"@x.io", r.str("temporaryPassword")).str("token")
	return tn
}

func TestLogLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("a")
	reviewPath := func(id int64) string { return fmt.Sprintf("/staff/%d/student-logs/%d/review", tn.staffID, id) }

	r := s.do(http.MethodPost, "/student/logs", tn.student, map[string]any{
		"title": "Appendectomy assist", "category": "Surgery", "activityDate": "2026-02-10", "durationMinutes": 90,
		"attachments": []map[string]string{{"name": "notes.pdf", "url": "https://files.example/notes.pdf"}},
	})
	require.Equal(t, http.StatusCreated, r.Code, "%v", r.Body)
	assert.Equal(t, "Pending", r.str("status"))
	assert.Len(t, r.Body["attachments"], 1)
	logID := r.id()
	assert.Equal(t, fmt.Sprintf("/student/logs/%d", logID), r.Header.Get("Location"))

	r = s.do(http.MethodGet, "/notifications/unread-count", tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.EqualValues(t, 1, r.Body["count"])

	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/student-logs?status=pending", tn.staffID), tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Len(t, r.items(), 1)

	// reject requires a remark
	r = s.do(http.MethodPut, reviewPath(logID), tn.staff, map[string]string{"action": "reject"})
	require.Equal(t, http.StatusBadRequest, r.Code)
	fields, ok := r.Body["error"].(map[string]any)
	require.True(t, ok, "expected field map, got %v", r.Body)
	assert.Contains(t, fields, "remark")
	assert.Equal(t, "VALIDATION_FAILED", r.str("code"))

	r = s.do(http.MethodPut, reviewPath(logID), tn.staff, map[string]string{"action": "reject", "remark": "add outcome"})
	require.Equal(t, http.StatusOK, r.Code, "%v", r.Body)
	assert.Equal(t, "Rejected", r.str("status"))

	// a rejected log stays editable but can no longer be withdrawn
	r = s.do(http.MethodPut, fmt.Sprintf("/student/logs/%d", logID), tn.student, map[string]any{"description": "Outcome: uneventful recovery."})
	require.Equal(t, http.StatusOK, r.Code, "%v", r.Body)
	assert.Equal(t, "Rejected", r.str("status"))
	assert.Len(t, r.Body["attachments"], 1)

	r = s.do(http.MethodDelete, fmt.Sprintf("/student/logs/%d", logID), tn.student, nil)
	assert.Equal(t, http.StatusConflict, r.Code)
	assert.Equal(t, "INVALID_STATE", r.str("code"))

	// a decided log cannot be decided again
	r = s.do(http.MethodPut, reviewPath(logID), tn.staff, map[string]string{"action": "approve", "remark": "ok"})
	assert.Equal(t, http.StatusConflict, r.Code)

	r = s.do(http.MethodGet, "/notifications", tn.student, nil)
	require.Equal(t, http.StatusOK, r.Code)
	require.Len(t, r.items(), 1)
	noteID := int64(r.items()[0].(map[string]any)["id"].(float64))

	r = s.do(http.MethodPut, fmt.Sprintf("/notifications/%d/read", noteID), tn.staff, nil)
	assert.Equal(t, http.StatusNotFound, r.Code, "another principal's notification")
	r = s.do(http.MethodPut, fmt.Sprintf("/notifications/%d/read", noteID), tn.student, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.NotNil(t, r.Body["readAt"])
	r = s.do(http.MethodGet, "/notifications/unread-count", tn.student, nil)
	assert.EqualValues(t, 0, r.Body["count"])
}

func TestWithdrawPendingLog(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("w")

	r := s.do(http.MethodPost, "/student/logs", tn.student, map[string]any{"title": "Ward round", "activityDate": "2026-02-11"})
	require.Equal(t, http.StatusCreated, r.Code, "%v", r.Body)
	path := fmt.Sprintf("/student/logs/%d", r.id())

	r = s.do(http.MethodDelete, path, tn.student, nil)
	assert.Equal(t, http.StatusNoContent, r.Code)
	r = s.do(http.MethodGet, path, tn.student, nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
}

func TestStaffOwnLogs(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("s")
	base := fmt.Sprintf("/staff/%d/logs", tn.staffID)

	r := s.do(http.MethodPost, base, tn.staff, map[string]any{"title": "Teaching session", "activityDate": "2026-02-12T09:00:00Z", "durationMinutes": 60})
	require.Equal(t, http.StatusCreated, r.Code, "%v", r.Body)
	id := r.id()

	r = s.do(http.MethodPost, base, tn.staff, map[string]any{
		"title": "x", "activityDate": "2026-02-12",
		"attachments": []map[string]string{{"name": "a", "url": "https://a.example/a"}},
	})
	assert.Equal(t, http.StatusBadRequest, r.Code, "staff logs take no attachments")

	r = s.do(http.MethodPut, fmt.Sprintf("%s/%d", base, id), tn.staff, map[string]any{"durationMinutes": 75})
	require.Equal(t, http.StatusOK, r.Code, "%v", r.Body)
	assert.EqualValues(t, 75, r.Body["durationMinutes"])

	r = s.do(http.MethodGet, base, tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Len(t, r.items(), 1)

	r = s.do(http.MethodDelete, fmt.Sprintf("%s/%d", base, id), tn.staff, nil)
	assert.Equal(t, http.StatusNoContent, r.Code)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	a := s.onboard("a")
	b := s.onboard("b")

	// another organization's department reads as absent
	r := s.do(http.MethodGet, fmt.Sprintf("/organization/departments/%d", a.deptID), b.org, nil)
	assert.Equal(t, http.StatusNotFound, r.Code)

	r = s.do(http.MethodGet, "/organization/departments", b.org, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Len(t, r.items(), 1)

	// addressing someone else's subtree in the path is forbidden
	r = s.do(http.MethodGet, fmt.Sprintf("/departments/%d/staff", a.deptID), b.dept, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/students", a.staffID), b.staff, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = s.do(http.MethodPost, "/student/logs", a.student, map[string]any{"title": "Clinic", "activityDate": "2026-02-13"})
	require.Equal(t, http.StatusCreated, r.Code)
	r = s.do(http.MethodGet, fmt.Sprintf("/student/logs/%d", r.id()), b.student, nil)
	assert.Equal(t, http.StatusNotFound, r.Code)

	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/student-logs", b.staffID), b.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, r.items())
}

func TestDeletedPrincipalSubmission(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("d")
	entry := map[string]any{"title": "Ward round", "activityDate": "2026-02-13"}

	r := s.do(http.MethodPost, "/student/logs", tn.student, entry)
	require.Equal(t, http.StatusCreated, r.Code, "%v", r.Body)

	r = s.do(http.MethodDelete, fmt.Sprintf("/staff/%d/students/%d", tn.staffID, tn.studentID), tn.staff, nil)
	require.Equal(t, http.StatusNoContent, r.Code, "%v", r.Body)

	// the student's logs go with the account
	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/student-logs", tn.staffID), tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, r.items())

	// a token that outlived its account cannot create records
	r = s.do(http.MethodPost, "/student/logs", tn.student, entry)
	assert.Equal(t, http.StatusUnauthorized, r.Code, "%v", r.Body)
	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/student-logs", tn.staffID), tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, r.items())

	// same for staff once their department removes them
	r = s.do(http.MethodPost, fmt.Sprintf("/staff/%d/logs", tn.staffID), tn.staff, entry)
	require.Equal(t, http.StatusCreated, r.Code, "%v", r.Body)
	r = s.do(http.MethodDelete, fmt.Sprintf("/departments/%d/staff/%d", tn.deptID, tn.staffID), tn.dept, nil)
	require.Equal(t, http.StatusNoContent, r.Code, "%v", r.Body)
	r = s.do(http.MethodPost, fmt.Sprintf("/staff/%d/logs", tn.staffID), tn.staff, entry)
	assert.Equal(t, http.StatusUnauthorized, r.Code, "%v", r.Body)
	r = s.do(http.MethodGet, fmt.Sprintf("/staff/%d/logs", tn.staffID), tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, r.items())
}

func TestRoleGate(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("g")

	r := s.do(http.MethodGet, "/organization/departments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.Code)
	assert.NotEmpty(t, r.Header.Get("WWW-Authenticate"))

	r = s.do(http.MethodGet, "/organization/departments", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, r.Code)

	r = s.do(http.MethodGet, "/organization/departments", tn.student, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Equal(t, "FORBIDDEN", r.str("code"))

	r = s.do(http.MethodGet, "/student/logs", tn.staff, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = s.do(http.MethodGet, "/auth/me", tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code)
	claims := r.Body["claims"].(map[string]any)
	assert.Equal(t, "STAFF", claims["role"])
}

func TestAccountValidationAndConflicts(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("v")

	r := s.do(http.MethodPost, "/organization/departments", tn.org, map[string]string{"name": "", "email": "nope"})
	require.Equal(t, http.StatusBadRequest, r.Code)
	fields := r.Body["error"].(map[string]any)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "email")
	assert.NotEmpty(t, r.str("request_id"))

	r = s.do(http.MethodPost, "/organization/departments", tn.org, map[string]string{"name": "Again", "email": "DEPT-v@x.io"})
	assert.Equal(t, http.StatusConflict, r.Code)

	r = s.do(http.MethodPost, "/organization/departments", tn.org, map[string]any{"name": "X", "email": "x@x.io", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, r.Code, "unknown fields are rejected")

	// a department with staff cannot be deleted
	r = s.do(http.MethodDelete, fmt.Sprintf("/organization/departments/%d", tn.deptID), tn.org, nil)
	assert.Equal(t, http.StatusConflict, r.Code)

	r = s.do(http.MethodGet, "/organization/departments/abc", tn.org, nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
}

func TestPasswordChangeAndReset(t *testing.T) {
	s := newTestServer(t)
	tn := s.onboard("p")

	// the path names the tier
	r := s.do(http.MethodPost, "/auth/student/change-password", tn.staff, map[string]string{"currentPassword": "x", "newPassword": "y"})
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = s.do(http.MethodPost, fmt.Sprintf("/staff/%d/students/%d/reset-password", tn.staffID, tn.studentID), tn.staff, nil)
	require.Equal(t, http.StatusOK, r.Code, "%v", r.Body)
	temp := r.str("temporaryPassword")
	require.NotEmpty(t, temp)

	login := s.login("student", "student-p@x.io", temp)
	assert.Equal(t, true, login.Body["requirePasswordChange"])
	token := login.str("token")

	r = s.do(http.MethodPost, "/auth/student/change-password", token, map[string]string{"currentPassword": "wrong", "newPassword": "brand-new-secret"})
	require.Equal(t, http.StatusBadRequest, r.Code)
	assert.Contains(t, r.Body["error"], "currentPassword")

	r = s.do(http.MethodPost, "/auth/student/change-password", token, map[string]string{"currentPassword": temp, "newPassword": "brand-new-secret"})
	require.Equal(t, http.StatusOK, r.Code, "%v", r.Body)

	login = s.login("student", "student-p@x.io", "brand-new-secret")
	assert.Equal(t, false, login.Body["requirePasswordChange"])

	r = s.do(http.MethodPost, "/auth/student/login", "", map[string]string{"email": "student-p@x.io", "password": temp})
	assert.Equal(t, http.StatusUnauthorized, r.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	r := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, serviceName, r.str("service"))

	r = s.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, r.Code)

	r = s.do(http.MethodGet, "/no/such/route", "", nil)
	assert.Equal(t, http.StatusNotFound, r.Code)

	r = s.do(http.MethodPost, "/auth/janitor/login", "", map[string]string{"email": "a@b.c", "password": "x"})
	assert.Equal(t, http.StatusNotFound, r.Code)
}
