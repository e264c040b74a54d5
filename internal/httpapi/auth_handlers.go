package httpapi

import (
	"fmt"
	"net/http"

	"logbook.org/internal/accounts"
	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	role, ok := auth.RoleFromSlug(r.PathValue("role"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := a.accounts.Login(r.Context(), role, req.Email, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleRegisterOrganization(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := a.accounts.RegisterOrganization(r.Context(), accounts.OrganizationInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	// The path names the tier; a staff token cannot use the student route.
	if role, ok := auth.RoleFromSlug(r.PathValue("role")); !ok || role != c.Role {
		writeDomainError(w, r, fmt.Errorf("%w: token role does not match %s", apperr.ErrForbidden, r.PathValue("role")))
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.accounts.ChangeSecret(r.Context(), c, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	user, err := a.accounts.Me(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claims": c,
		"user":   user,
	})
}
