package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"logbook.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleStaff, auth.RoleStudent)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), auth.StaffClaims(1, 2, 3)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsOtherRole(t *testing.T) {
	handler := RequireRole(auth.RoleOrganization)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), auth.StudentClaims(1, 2, 3, 4)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingClaims(t *testing.T) {
	handler := RequireRole(auth.RoleOrganization)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestProtectRejectsBadTokenBeforeRole(t *testing.T) {
	tokens, err := auth.NewTokenIssuer("authn-test-secret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	other, err := auth.NewTokenIssuer("some-other-secret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	forged, _, err := other.Issue(auth.OrganizationClaims(1))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	valid, _, err := tokens.Issue(auth.StudentClaims(1, 2, 3, 4))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	a := &API{tokens: tokens}
	handler := a.protect(okHandler(), auth.RoleOrganization)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"forged signature", "Bearer " + forged, http.StatusUnauthorized},
		{"valid but wrong role", "Bearer " + valid, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/organization/departments", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer  abc.def "); err != nil || tok != "abc.def" {
		t.Fatalf("got %q, %v", tok, err)
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Fatal("expected error for empty token")
	}
}
