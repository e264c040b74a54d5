// Package accounts owns the four principal tiers: login, self-registration of
// organizations, onboarding of subordinate accounts and secret rotation.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/audit"
	"logbook.org/internal/auth"
	"logbook.org/internal/mail"
	"logbook.org/internal/obs"
	"logbook.org/internal/scope"
)

// Store persists accounts. Unique-email violations surface as
// apperr.ErrConflict, deleting a parent that still has children as
// apperr.ErrConflict, and missing rows as apperr.ErrNotFound.
type Store interface {
	CreateOrganization(ctx context.Context, o Organization) (Organization, error)
	GetOrganization(ctx context.Context, id int64) (Organization, error)
	OrganizationByEmail(ctx context.Context, email string) (Organization, error)

	CreateDepartment(ctx context.Context, d Department) (Department, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	// DepartmentsByEmail returns every department using email, across organizations.
	DepartmentsByEmail(ctx context.Context, email string) ([]Department, error)
	ListDepartments(ctx context.Context, p scope.Predicate) ([]Department, error)
	UpdateDepartment(ctx context.Context, d Department) (Department, error)
	DeleteDepartment(ctx context.Context, id int64) error

	CreateStaff(ctx context.Context, s Staff) (Staff, error)
	GetStaff(ctx context.Context, id int64) (Staff, error)
	StaffByEmail(ctx context.Context, email string) (Staff, error)
	ListStaff(ctx context.Context, p scope.Predicate) ([]Staff, error)
	UpdateStaff(ctx context.Context, s Staff) (Staff, error)
	DeleteStaff(ctx context.Context, id int64) error

	CreateStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, id int64) (Student, error)
	StudentByEmail(ctx context.Context, email string) (Student, error)
	ListStudents(ctx context.Context, p scope.Predicate) ([]Student, error)
	UpdateStudent(ctx context.Context, s Student) (Student, error)
	DeleteStudent(ctx context.Context, id int64) error

	// SetSecret is the only write that touches the secret hash or the
	// must-change flag.
	SetSecret(ctx context.Context, role auth.Role, id int64, hash string, mustChange bool, at time.Time) error
}

// Limiter throttles login attempts per key. Allow charges one attempt and
// Reset forgets the key, so a successful login does not count against it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Service implements the credential verifier and onboarding flows.
type Service struct {
	store       Store
	tokens      *auth.TokenIssuer
	mailer      mail.Sender
	limiter     Limiter
	allowSignup bool
	echoSecrets bool
	clock       func() time.Time
	mailTimeout time.Duration
	// dummyHash is compared against when no account matches, so a miss
	// costs the same as a wrong secret.
	dummyHash string
}

// Option configures Service.
type Option func(*Service)

// WithMailer sets the credential mail sender.
func WithMailer(m mail.Sender) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithLimiter throttles logins.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithSignup enables organization self-registration.
func WithSignup(enabled bool) Option {
	return func(s *Service) { s.allowSignup = enabled }
}

// WithEchoedSecrets returns generated temporary secrets in onboarding and
// reset responses as well as mailing them. Meant for development setups
// where mail only goes to the log.
func WithEchoedSecrets(enabled bool) Option {
	return func(s *Service) { s.echoSecrets = enabled }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// NewService wires the account flows.
func NewService(store Store, tokens *auth.TokenIssuer, opts ...Option) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("accounts: store and token issuer are required")
	}
	dummy, err := auth.HashPassword("logbook-timing-equaliser")
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:       store,
		tokens:      tokens,
		mailer:      mail.LogSender{},
		clock:       time.Now,
		mailTimeout: 10 * time.Second,
		dummyHash:   dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// principal is the login-relevant view of any tier.
type principal struct {
	claims     auth.Claims
	hash       string
	mustChange bool
	user       any
}

// Login verifies email and secret for role and issues a token.
func (s *Service) Login(ctx context.Context, role auth.Role, email, secret string) (Session, error) {
	email = NormalizeEmail(email)
	if !role.Valid() {
		return Session{}, fmt.Errorf("%w: unknown role", apperr.ErrNotFound)
	}
	if email == "" || secret == "" {
		fe := apperr.FieldErrors{}
		if email == "" {
			fe.Add("email", "is required")
		}
		if secret == "" {
			fe.Add("password", "is required")
		}
		return Session{}, fe.Err()
	}
	throttleKey := role.Slug() + ":" + email
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, throttleKey)
		if err != nil {
			obs.Logger().Warn().Err(err).Msg("login throttle unavailable; allowing attempt")
		} else if !ok {
			obs.LoginsTotal.WithLabelValues(role.String(), "throttled").Inc()
			return Session{}, fmt.Errorf("%w: too many login attempts, try again later", apperr.ErrRateLimited)
		}
	}

	p, err := s.verify(ctx, role, email, secret)
	if err != nil {
		obs.LoginsTotal.WithLabelValues(role.String(), "failure").Inc()
		if errors.Is(err, ErrInvalidCredentials) {
			_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"role": role.String(), "email": email})
		}
		return Session{}, err
	}

	token, exp, err := s.tokens.Issue(p.claims)
	if err != nil {
		return Session{}, err
	}
	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, throttleKey); err != nil {
			obs.Logger().Warn().Err(err).Msg("login throttle reset failed")
		}
	}
	obs.LoginsTotal.WithLabelValues(role.String(), "success").Inc()
	_ = audit.LogEvent(auth.ContextWithClaims(ctx, p.claims), "auth.login", map[string]any{"role": role.String()})
	return Session{Token: token, ExpiresAt: exp, User: p.user, RequirePasswordChange: p.mustChange}, nil
}

func (s *Service) verify(ctx context.Context, role auth.Role, email, secret string) (principal, error) {
	candidates, err := s.candidates(ctx, role, email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return principal{}, err
	}
	if len(candidates) == 0 {
		_ = auth.VerifyPassword(s.dummyHash, secret)
		return principal{}, ErrInvalidCredentials
	}
	for _, c := range candidates {
		if auth.VerifyPassword(c.hash, secret) == nil {
			return c, nil
		}
	}
	return principal{}, ErrInvalidCredentials
}

func (s *Service) candidates(ctx context.Context, role auth.Role, email string) ([]principal, error) {
	switch role {
	case auth.RoleOrganization:
		o, err := s.store.OrganizationByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return []principal{orgPrincipal(o)}, nil
	case auth.RoleDepartment:
		ds, err := s.store.DepartmentsByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		out := make([]principal, 0, len(ds))
		for _, d := range ds {
			out = append(out, deptPrincipal(d))
		}
		return out, nil
	case auth.RoleStaff:
		st, err := s.store.StaffByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return []principal{staffPrincipal(st)}, nil
	case auth.RoleStudent:
		st, err := s.store.StudentByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return []principal{studentPrincipal(st)}, nil
	default:
		return nil, apperr.ErrNotFound
	}
}

func orgPrincipal(o Organization) principal {
	return principal{claims: auth.OrganizationClaims(o.ID), hash: o.SecretHash, user: o}
}

func deptPrincipal(d Department) principal {
	return principal{claims: auth.DepartmentClaims(d.OrganizationID, d.ID), hash: d.SecretHash, mustChange: d.MustChangeSecret, user: d}
}

func staffPrincipal(st Staff) principal {
	return principal{claims: auth.StaffClaims(st.OrganizationID, st.DepartmentID, st.ID), hash: st.SecretHash, mustChange: st.MustChangeSecret, user: st}
}

func studentPrincipal(st Student) principal {
	return principal{
		claims:     auth.StudentClaims(st.OrganizationID, st.DepartmentID, st.StaffID, st.ID),
		hash:       st.SecretHash,
		mustChange: st.MustChangeSecret,
		user:       st,
	}
}

// self loads the account the claims were issued for.
func (s *Service) self(ctx context.Context, c auth.Claims) (principal, error) {
	var (
		p   principal
		err error
	)
	switch c.Role {
	case auth.RoleOrganization:
		var o Organization
		if o, err = s.store.GetOrganization(ctx, c.OrgID); err == nil {
			p = orgPrincipal(o)
		}
	case auth.RoleDepartment:
		var d Department
		if d, err = s.store.GetDepartment(ctx, c.DepartmentID); err == nil {
			p = deptPrincipal(d)
		}
	case auth.RoleStaff:
		var st Staff
		if st, err = s.store.GetStaff(ctx, c.StaffID); err == nil {
			p = staffPrincipal(st)
		}
	case auth.RoleStudent:
		var st Student
		if st, err = s.store.GetStudent(ctx, c.StudentID); err == nil {
			p = studentPrincipal(st)
		}
	default:
		return principal{}, apperr.ErrForbidden
	}
	if err != nil {
		return principal{}, err
	}
	// A token issued before a move in the hierarchy no longer describes the account.
	if !scope.Owns(c, scope.Ancestry{
		OrgID:        p.claims.OrgID,
		DepartmentID: p.claims.DepartmentID,
		StaffID:      p.claims.StaffID,
		StudentID:    p.claims.StudentID,
	}) {
		return principal{}, apperr.ErrNotFound
	}
	return p, nil
}

// Me returns the caller's own account record.
func (s *Service) Me(ctx context.Context, c auth.Claims) (any, error) {
	p, err := s.self(ctx, c)
	if err != nil {
		return nil, err
	}
	return p.user, nil
}

// Active reports whether the account behind c still exists where the token
// places it. A deleted or moved account yields apperr.ErrNotFound.
func (s *Service) Active(ctx context.Context, c auth.Claims) error {
	_, err := s.self(ctx, c)
	return err
}

// ChangeSecret verifies the current secret, stores a hash of next and clears
// the must-change flag. It is allowed whether or not the flag is set.
func (s *Service) ChangeSecret(ctx context.Context, c auth.Claims, current, next string) error {
	p, err := s.self(ctx, c)
	if err != nil {
		return err
	}
	fe := apperr.FieldErrors{}
	if auth.VerifyPassword(p.hash, current) != nil {
		fe.Add("currentPassword", "is incorrect")
	}
	if err := auth.CheckSecretPolicy(next); err != nil {
		fe.Add("newPassword", fmt.Sprintf("must be between %d and %d characters", auth.MinSecretLength, auth.MaxSecretLength))
	} else if next == current {
		fe.Add("newPassword", "must differ from the current password")
	}
	if err := fe.Err(); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.SetSecret(ctx, c.Role, c.TargetID(), hash, false, s.now()); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.password_changed", nil)
	return nil
}

// RegisterOrganization creates an organization with a caller-chosen secret
// and logs it in. It is refused unless sign-up is enabled.
func (s *Service) RegisterOrganization(ctx context.Context, in OrganizationInput) (Session, error) {
	if !s.allowSignup {
		return Session{}, fmt.Errorf("%w: organization sign-up is disabled", apperr.ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return Session{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	o, err := s.store.CreateOrganization(ctx, Organization{
		Name:       in.Name,
		Email:      in.Email,
		SecretHash: hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Session{}, err
	}
	p := orgPrincipal(o)
	token, exp, err := s.tokens.Issue(p.claims)
	if err != nil {
		return Session{}, err
	}
	_ = audit.LogEvent(auth.ContextWithClaims(ctx, p.claims), "org.registered", map[string]any{"organization_id": o.ID})
	return Session{Token: token, ExpiresAt: exp, User: o}, nil
}
