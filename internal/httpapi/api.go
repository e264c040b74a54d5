// Package httpapi is the HTTP transport: routing, middleware, authentication
// and the mapping of domain errors onto status codes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"logbook.org/internal/accounts"
	"logbook.org/internal/auth"
	"logbook.org/internal/logbook"
	"logbook.org/internal/notify"
	"logbook.org/internal/obs"
)

const serviceName = "logbook-api"

// Pinger is satisfied by the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness; a nil DB is always ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the API to its services.
type Options struct {
	Tokens        *auth.TokenIssuer
	Accounts      *accounts.Service
	Logbook       *logbook.Service
	Notifications *notify.Dispatcher
	Ready         readinessChecker
	Version       string

	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
	CORSOrigins   []string
	// TrustProxy keys the rate limit on X-Forwarded-For instead of the
	// connection address.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	tokens   *auth.TokenIssuer
	accounts *accounts.Service
	logbook  *logbook.Service
	notify   *notify.Dispatcher
	ready    readinessChecker
	version  string

	rateBurst   int
	ratePerSec  float64
	maxBody     int64
	corsOrigins []string
	trustProxy  bool
}

func New(opts Options) *API {
	a := &API{
		mux:         http.NewServeMux(),
		tokens:      opts.Tokens,
		accounts:    opts.Accounts,
		logbook:     opts.Logbook,
		notify:      opts.Notifications,
		ready:       opts.Ready,
		version:     opts.Version,
		rateBurst:   opts.RateBurst,
		ratePerSec:  opts.RatePerSecond,
		maxBody:     opts.MaxBodyBytes,
		corsOrigins: opts.CORSOrigins,
		trustProxy:  opts.TrustProxy,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// operational
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("POST /auth/org/register", a.handleRegisterOrganization)
	a.mux.HandleFunc("POST /auth/{role}/login", a.handleLogin)
	a.mux.Handle("POST /auth/{role}/change-password",
		a.protect(http.HandlerFunc(a.handleChangePassword), auth.RoleDepartment, auth.RoleStaff, auth.RoleStudent))
	a.mux.Handle("GET /auth/me", a.protect(http.HandlerFunc(a.handleMe), auth.AllRoles...))

	// organization tier
	org := func(h http.HandlerFunc) http.Handler { return a.protect(h, auth.RoleOrganization) }
	a.mux.Handle("GET /organization/departments", org(a.listDepartments))
	a.mux.Handle("POST /organization/departments", org(a.createDepartment))
	a.mux.Handle("GET /organization/departments/{id}", org(a.getDepartment))
	a.mux.Handle("PUT /organization/departments/{id}", org(a.updateDepartment))
	a.mux.Handle("DELETE /organization/departments/{id}", org(a.deleteDepartment))
	a.mux.Handle("POST /organization/departments/{id}/reset-password", org(a.resetDepartmentPassword))

	// department tier
	dept := func(h http.HandlerFunc) http.Handler { return a.protect(h, auth.RoleDepartment) }
	a.mux.Handle("GET /departments/{departmentId}/staff", dept(a.listStaff))
	a.mux.Handle("POST /departments/{departmentId}/staff", dept(a.createStaff))
	a.mux.Handle("GET /departments/{departmentId}/staff/{staffId}", dept(a.getStaff))
	a.mux.Handle("PUT /departments/{departmentId}/staff/{staffId}", dept(a.updateStaff))
	a.mux.Handle("DELETE /departments/{departmentId}/staff/{staffId}", dept(a.deleteStaff))
	a.mux.Handle("POST /departments/{departmentId}/staff/{staffId}/reset-password", dept(a.resetStaffPassword))

	// staff tier
	staff := func(h http.HandlerFunc) http.Handler { return a.protect(h, auth.RoleStaff) }
	a.mux.Handle("GET /staff/{staffId}/students", staff(a.listStudents))
	a.mux.Handle("POST /staff/{staffId}/students", staff(a.createStudent))
	a.mux.Handle("GET /staff/{staffId}/students/{studentId}", staff(a.getStudent))
	a.mux.Handle("PUT /staff/{staffId}/students/{studentId}", staff(a.updateStudent))
	a.mux.Handle("DELETE /staff/{staffId}/students/{studentId}", staff(a.deleteStudent))
	a.mux.Handle("POST /staff/{staffId}/students/{studentId}/reset-password", staff(a.resetStudentPassword))
	a.mux.Handle("GET /staff/{staffId}/student-logs", staff(a.listStudentLogs))
	a.mux.Handle("GET /staff/{staffId}/student-logs/{logId}", staff(a.getStudentLog))
	a.mux.Handle("GET /staff/{staffId}/student-logs/{logId}/review", staff(a.getStudentLog))
	a.mux.Handle("PUT /staff/{staffId}/student-logs/{logId}/review", staff(a.reviewStudentLog))
	a.mux.Handle("GET /staff/{staffId}/logs", staff(a.listStaffLogs))
	a.mux.Handle("POST /staff/{staffId}/logs", staff(a.createStaffLog))
	a.mux.Handle("GET /staff/{staffId}/logs/{logId}", staff(a.getStaffLog))
	a.mux.Handle("PUT /staff/{staffId}/logs/{logId}", staff(a.updateStaffLog))
	a.mux.Handle("DELETE /staff/{staffId}/logs/{logId}", staff(a.deleteStaffLog))

	// student tier
	student := func(h http.HandlerFunc) http.Handler { return a.protect(h, auth.RoleStudent) }
	a.mux.Handle("GET /student/logs", student(a.listOwnLogs))
	a.mux.Handle("POST /student/logs", student(a.submitLog))
	a.mux.Handle("GET /student/logs/{id}", student(a.getOwnLog))
	a.mux.Handle("PUT /student/logs/{id}", student(a.editOwnLog))
	a.mux.Handle("DELETE /student/logs/{id}", student(a.deleteOwnLog))

	// notifications
	anyRole := func(h http.HandlerFunc) http.Handler { return a.protect(h, auth.AllRoles...) }
	a.mux.Handle("GET /notifications", anyRole(a.listNotifications))
	a.mux.Handle("GET /notifications/unread-count", anyRole(a.unreadCount))
	a.mux.Handle("PUT /notifications/{id}/read", anyRole(a.markNotificationRead))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// request id, tracing, metrics, access log, security headers, CORS, body
// limit, per-IP rate limit.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustProxy)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.corsOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	h = Trace(h)
	return RequestID(h)
}

// --- operational handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
