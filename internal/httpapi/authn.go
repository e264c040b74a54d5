package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	realm      = `Bearer realm="logbook"`
)

// protect authenticates the request and then applies RequireRole. An invalid
// token is rejected before the role is looked at.
func (a *API) protect(next http.Handler, roles ...auth.Role) http.Handler {
	return a.withAuth(RequireRole(roles...)(next))
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		if a.tokens == nil {
			writeDomainError(w, r, errors.New("token issuer not configured"))
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits requests whose claims carry one of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if !claims.HasRole(roles...) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeErrorBody(w, r, http.StatusForbidden, "role not permitted", apperr.CodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", realm)
	writeErrorBody(w, r, http.StatusUnauthorized, msg, apperr.CodeUnauthenticated)
}

// claimsFrom returns the claims placed by withAuth. Handlers are only
// reachable through protect, so absence means a wiring bug.
func claimsFrom(r *http.Request) (auth.Claims, error) {
	c, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return auth.Claims{}, apperr.ErrUnauthenticated
	}
	return c, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
