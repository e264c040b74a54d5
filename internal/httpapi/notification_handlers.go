package httpapi

import "net/http"

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.notify.List(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	n, err := a.notify.UnreadCount(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	n, err := a.notify.MarkRead(r.Context(), c, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
